package deliver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/config"
	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Result is the outcome of one delivery attempt cycle.
type Result struct {
	OK     bool
	Reason string
}

// Service sends reminder texts through the transport adapter with a shared
// token-bucket rate limit, a per-send timeout, and fixed-delay bounded
// retries. Safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     config.DeliverySettings
	limiter *rate.Limiter

	adapter kit.Adapter
	log     logx.Logger
}

func New(cfg config.DeliverySettings, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log.With(logx.String("comp", "deliver"))}
	s.Apply(cfg)
	return s
}

// Apply swaps the send settings at runtime (config hot reload).
func (s *Service) Apply(cfg config.DeliverySettings) {
	s.mu.Lock()
	s.cfg = cfg
	// Burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Service) snapshot() (config.DeliverySettings, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// Deliver sends rem.Text to the recipient's chat. It returns a Result, not
// an error: the caller advances the reminder regardless of the outcome.
func (s *Service) Deliver(ctx context.Context, rem *reminder.Reminder) Result {
	cfg, lim := s.snapshot()

	text := "⏰ " + rem.Text
	to := kit.ChatTarget{ChatID: rem.RecipientID}
	opt := &kit.SendOptions{DisablePreview: true}

	var lastErr error
	for attempt := 1; attempt <= cfg.RetryMax; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return Result{Reason: err.Error()}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.adapter.SendText(callCtx, to, text, opt)
		cancel()
		if err == nil {
			s.log.Debug("reminder delivered",
				logx.Int64("reminder_id", rem.ID), logx.Int64("chat_id", rem.RecipientID), logx.Int("attempt", attempt))
			return Result{OK: true}
		}
		lastErr = err
		s.log.Debug("reminder send failed",
			logx.Int64("reminder_id", rem.ID), logx.Int("attempt", attempt), logx.Int("max", cfg.RetryMax), logx.Err(err))

		if attempt >= cfg.RetryMax {
			break
		}
		select {
		case <-ctx.Done():
			return Result{Reason: ctx.Err().Error()}
		case <-time.After(cfg.RetryDelay):
		}
	}

	reason := "send failed"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return Result{Reason: reason}
}

// NotifyOwnerFailure tells the owner of a relayed reminder that the
// recipient could not be reached. Best-effort: one attempt, no retries.
func (s *Service) NotifyOwnerFailure(ctx context.Context, rem *reminder.Reminder, reason string) {
	cfg, lim := s.snapshot()

	if err := lim.Wait(ctx); err != nil {
		return
	}
	text := fmt.Sprintf("⚠️ Could not deliver your reminder %q to the recipient: %s", rem.Text, reason)

	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	if _, err := s.adapter.SendText(callCtx, kit.ChatTarget{ChatID: rem.OwnerID}, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		s.log.Warn("owner failure notice not delivered",
			logx.Int64("reminder_id", rem.ID), logx.Int64("owner_id", rem.OwnerID), logx.Err(err))
	}
}
