package config

import "time"

// EngineSettings is EngineConfig with duration strings parsed and defaults
// applied, ready to hand to the engine service.
type EngineSettings struct {
	Enabled          bool
	ProducerInterval time.Duration
	ConsumerInterval time.Duration
	Lookahead        time.Duration
	MaxHorizon       time.Duration
	DupRetryLimit    int
}

func (c EngineConfig) Settings() (EngineSettings, error) {
	s := EngineSettings{Enabled: c.Enabled, DupRetryLimit: c.DupRetryLimit}
	var err error
	if s.ProducerInterval, err = ParseDurationOrDefault("engine.producer_interval", c.ProducerInterval, 30*time.Second); err != nil {
		return s, err
	}
	if s.ConsumerInterval, err = ParseDurationOrDefault("engine.consumer_interval", c.ConsumerInterval, 5*time.Second); err != nil {
		return s, err
	}
	if s.Lookahead, err = ParseDurationOrDefault("engine.lookahead", c.Lookahead, time.Hour); err != nil {
		return s, err
	}
	if s.MaxHorizon, err = ParseDurationOrDefault("engine.max_horizon", c.MaxHorizon, 365*24*time.Hour); err != nil {
		return s, err
	}
	if s.DupRetryLimit <= 0 {
		s.DupRetryLimit = 5
	}
	return s, nil
}

// DeliverySettings is DeliveryConfig with durations parsed and defaults applied.
type DeliverySettings struct {
	RetryMax    int
	RetryDelay  time.Duration
	RatePerSec  int
	SendTimeout time.Duration
}

func (c DeliveryConfig) Settings() (DeliverySettings, error) {
	s := DeliverySettings{RetryMax: c.RetryMax, RatePerSec: c.RatePerSec}
	var err error
	if s.RetryDelay, err = ParseDurationOrDefault("delivery.retry_delay", c.RetryDelay, 2*time.Second); err != nil {
		return s, err
	}
	if s.SendTimeout, err = ParseDurationOrDefault("delivery.send_timeout", c.SendTimeout, 10*time.Second); err != nil {
		return s, err
	}
	if s.RetryMax <= 0 {
		s.RetryMax = 3
	}
	if s.RatePerSec <= 0 {
		s.RatePerSec = 25
	}
	return s, nil
}
