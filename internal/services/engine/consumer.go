package engine

import (
	"context"
	"errors"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// consumeCycle pops the contiguous due prefix of the queue under the lock,
// then processes each reminder outside it. Per-item failures never abort
// the batch.
func (s *Service) consumeCycle(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	s.stats.consumerCycles++
	cut := 0
	for cut < len(s.queue) && !s.queue[cut].FireAt.After(now) {
		cut++
	}
	due := make([]*reminder.Reminder, cut)
	copy(due, s.queue[:cut])
	s.queue = s.queue[cut:]
	for _, rem := range due {
		delete(s.byID, rem.ID)
		s.dropOwnerIndex(rem.OwnerID, rem.ID)
		s.inflight[rem.ID] = struct{}{}
	}
	dupLimit := s.cfg.DupRetryLimit
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}
	s.log.Debug("consumer cycle", logx.Int("due", len(due)))

	for _, rem := range due {
		s.deliverAndAdvance(ctx, rem, dupLimit)
		s.mu.Lock()
		delete(s.inflight, rem.ID)
		s.mu.Unlock()
	}
}

// deliverAndAdvance sends one reminder and then — success or failure —
// persists the resolver's verdict, so an occurrence is never redelivered.
func (s *Service) deliverAndAdvance(ctx context.Context, rem *reminder.Reminder, dupLimit int) {
	now := s.now()
	res := s.dlv.Deliver(ctx, rem)

	ev := ReminderEvent{ID: rem.ID, OwnerID: rem.OwnerID, RecipientID: rem.RecipientID, At: now}
	if res.OK {
		s.bumpDelivered()
		s.publish(eventbus.EventDelivered, ev)
	} else {
		s.bumpFailed()
		ev.Reason = res.Reason
		s.publish(eventbus.EventDeliveryFailed, ev)
		s.log.Warn("reminder delivery failed",
			logx.Int64("reminder_id", rem.ID), logx.String("reason", res.Reason))
		if rem.Relayed() {
			s.dlv.NotifyOwnerFailure(ctx, rem, res.Reason)
		}
	}

	next, archive, err := reminder.AdvanceWithLimit(rem, now, dupLimit)
	switch {
	case err != nil:
		// Data-integrity fault (ErrResolveLoop): park the reminder and flag
		// it for manual review instead of looping forever.
		s.log.Error("recurrence resolution failed; archiving reminder",
			logx.Int64("reminder_id", rem.ID), logx.Err(err))
		if aerr := s.store.Archive(ctx, rem.ID); aerr != nil {
			s.log.Error("archive failed", logx.Int64("reminder_id", rem.ID), logx.Err(aerr))
			return
		}
		s.bumpFlagged()
		ev.Reason = err.Error()
		s.publish(eventbus.EventFlagged, ev)

	case archive:
		if aerr := s.store.Archive(ctx, rem.ID); aerr != nil {
			if !errors.Is(aerr, context.Canceled) {
				s.log.Error("archive failed", logx.Int64("reminder_id", rem.ID), logx.Err(aerr))
			}
			return
		}
		s.bumpArchived()
		ev.Reason = ""
		s.publish(eventbus.EventArchived, ev)

	default:
		if serr := s.store.SetFireAt(ctx, rem.ID, next); serr != nil {
			// The store still holds the old FireAt; the next producer cycle
			// reloads the reminder and delivery is retried.
			if !errors.Is(serr, context.Canceled) {
				s.log.Error("reschedule failed",
					logx.Int64("reminder_id", rem.ID), logx.Time("next", next), logx.Err(serr))
			}
			return
		}
		s.log.Debug("reminder rescheduled",
			logx.Int64("reminder_id", rem.ID), logx.Time("next", next))
	}
}

func (s *Service) bumpDelivered() { s.mu.Lock(); s.stats.delivered++; s.mu.Unlock() }
func (s *Service) bumpFailed()    { s.mu.Lock(); s.stats.failed++; s.mu.Unlock() }
func (s *Service) bumpArchived()  { s.mu.Lock(); s.stats.archived++; s.mu.Unlock() }
func (s *Service) bumpFlagged()   { s.mu.Lock(); s.stats.flagged++; s.mu.Unlock() }
