package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func New(cfg Config, store Store, dlv Deliverer, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log.With(logx.String("comp", "engine")),
		store:    store,
		dlv:      dlv,
		bus:      bus,
		now:      time.Now,
		cfg:      cfg.withDefaults(),
		byID:     map[int64]*reminder.Reminder{},
		byOwner:  map[int64]map[int64]struct{}{},
		inflight: map[int64]struct{}{},
	}
}

// Start registers the producer/consumer cycles on a cron runner and runs an
// immediate producer cycle so reminders due right after boot aren't delayed
// by a full producer interval.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		s.log.Info("engine disabled")
		return nil
	}
	s.running = true
	cfg := s.cfg
	s.startCronLocked(ctx, cfg)
	s.mu.Unlock()

	s.log.Info("engine started",
		logx.Duration("producer_interval", cfg.ProducerInterval),
		logx.Duration("consumer_interval", cfg.ConsumerInterval),
		logx.Duration("lookahead", cfg.Lookahead))

	s.runProducer(ctx)
	return nil
}

// startCronLocked builds and starts the cron runner for cfg's intervals.
func (s *Service) startCronLocked(ctx context.Context, cfg Config) {
	c := cron.New()
	// AddFunc cannot fail for @every specs built from positive durations.
	_, _ = c.AddFunc(fmt.Sprintf("@every %s", cfg.ProducerInterval), func() { s.runProducer(ctx) })
	_, _ = c.AddFunc(fmt.Sprintf("@every %s", cfg.ConsumerInterval), func() { s.runConsumer(ctx) })
	s.c = c
	c.Start()
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if !wasRunning || c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("engine stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("engine stop timed out; cycles finish in background")
		return ctx.Err()
	}
}

// Apply swaps the engine config at runtime. Interval changes restart the
// cron runner; lookahead and the retry budget take effect on the next cycle.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	if !s.running {
		s.mu.Unlock()
		return
	}
	intervalsChanged := old.ProducerInterval != cfg.ProducerInterval ||
		old.ConsumerInterval != cfg.ConsumerInterval
	var prev *cron.Cron
	if intervalsChanged {
		prev = s.c
		s.startCronLocked(ctx, cfg)
	}
	s.mu.Unlock()

	if prev != nil {
		<-prev.Stop().Done()
		s.log.Info("engine cycles rescheduled",
			logx.Duration("producer_interval", cfg.ProducerInterval),
			logx.Duration("consumer_interval", cfg.ConsumerInterval))
	}
}

// runProducer / runConsumer wrap the cycles with the skip-if-running guard.
func (s *Service) runProducer(ctx context.Context) {
	if !s.producerRun.tryStart() {
		s.log.Warn("producer cycle still running; skipping tick")
		return
	}
	defer s.producerRun.finish()
	s.produceCycle(ctx)
}

func (s *Service) runConsumer(ctx context.Context) {
	if !s.consumerRun.tryStart() {
		s.log.Warn("consumer cycle still running; skipping tick")
		return
	}
	defer s.consumerRun.finish()
	s.consumeCycle(ctx)
}

func (s *Service) publish(typ string, ev ReminderEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
