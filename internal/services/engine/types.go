package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/services/deliver"
	logx "remindbot/pkg/logx"
)

// Store is the subset of the persistence gateway the engine needs.
type Store interface {
	LoadDueBefore(ctx context.Context, horizon time.Time) ([]*reminder.Reminder, error)
	SetFireAt(ctx context.Context, id int64, t time.Time) error
	Archive(ctx context.Context, id int64) error
}

// Deliverer pushes a fired reminder to its recipient.
type Deliverer interface {
	Deliver(ctx context.Context, rem *reminder.Reminder) deliver.Result
	NotifyOwnerFailure(ctx context.Context, rem *reminder.Reminder, reason string)
}

// Config controls the scheduling cycles.
type Config struct {
	Enabled          bool
	ProducerInterval time.Duration
	ConsumerInterval time.Duration
	Lookahead        time.Duration
	DupRetryLimit    int
}

func (c Config) withDefaults() Config {
	if c.ProducerInterval <= 0 {
		c.ProducerInterval = 30 * time.Second
	}
	if c.ConsumerInterval <= 0 {
		c.ConsumerInterval = 5 * time.Second
	}
	if c.Lookahead <= 0 {
		c.Lookahead = time.Hour
	}
	if c.DupRetryLimit <= 0 {
		c.DupRetryLimit = reminder.DefaultDupRetryLimit
	}
	return c
}

// runState is the skip-if-running overlap guard for a cron job.
type runState struct {
	mu      sync.Mutex
	running bool
}

func (r *runState) tryStart() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *runState) finish() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

type counters struct {
	producerCycles uint64
	consumerCycles uint64
	delivered      uint64
	failed         uint64
	archived       uint64
	flagged        uint64
}

// Service owns the reminder queue and the two cron-driven cycles.
type Service struct {
	log   logx.Logger
	store Store
	dlv   Deliverer
	bus   eventbus.Bus

	// now is swappable for tests.
	now func() time.Time

	mu  sync.Mutex
	cfg Config
	// queue holds cached snapshots in ascending (FireAt, ID) order.
	queue []*reminder.Reminder
	byID  map[int64]*reminder.Reminder
	// byOwner maps owner id -> set of cached reminder ids.
	byOwner map[int64]map[int64]struct{}
	// inflight holds ids popped by the consumer but not yet persisted, so an
	// overlapping producer cycle cannot re-insert them.
	inflight map[int64]struct{}
	stats    counters

	c           *cron.Cron
	running     bool
	producerRun runState
	consumerRun runState
}

// ReminderEvent is the payload of the engine's eventbus events.
type ReminderEvent struct {
	ID          int64     `json:"id"`
	OwnerID     int64     `json:"owner_id"`
	RecipientID int64     `json:"recipient_id"`
	At          time.Time `json:"at"`
	Reason      string    `json:"reason,omitempty"`
}
