package engine

import "time"

// Snapshot is a point-in-time view of the engine for operational output.
type Snapshot struct {
	Enabled  bool `json:"enabled"`
	Running  bool `json:"running"`
	QueueLen int  `json:"queue_len"`
	InFlight int  `json:"in_flight"`

	NextFireAt *time.Time `json:"next_fire_at,omitempty"`

	ProducerCycles uint64 `json:"producer_cycles"`
	ConsumerCycles uint64 `json:"consumer_cycles"`
	Delivered      uint64 `json:"delivered"`
	Failed         uint64 `json:"failed"`
	Archived       uint64 `json:"archived"`
	Flagged        uint64 `json:"flagged"`

	ProducerInterval time.Duration `json:"producer_interval"`
	ConsumerInterval time.Duration `json:"consumer_interval"`
	Lookahead        time.Duration `json:"lookahead"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Enabled:          s.cfg.Enabled,
		Running:          s.running,
		QueueLen:         len(s.queue),
		InFlight:         len(s.inflight),
		ProducerCycles:   s.stats.producerCycles,
		ConsumerCycles:   s.stats.consumerCycles,
		Delivered:        s.stats.delivered,
		Failed:           s.stats.failed,
		Archived:         s.stats.archived,
		Flagged:          s.stats.flagged,
		ProducerInterval: s.cfg.ProducerInterval,
		ConsumerInterval: s.cfg.ConsumerInterval,
		Lookahead:        s.cfg.Lookahead,
	}
	if len(s.queue) > 0 {
		t := s.queue[0].FireAt
		snap.NextFireAt = &t
	}
	return snap
}
