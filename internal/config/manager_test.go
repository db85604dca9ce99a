package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "t", "poll_timeout": "10s"},
		"logging": {"level": "DEBUG", "console": true,
			"file": {"enabled": false, "path": ""},
			"telegram": {"enabled": false, "thread_id": 0, "min_level": "WARN", "rate_per_sec": 1}},
		"storage": {"driver": "sqlite", "path": "./test.db"},
		"engine": {"enabled": true, "producer_interval": "15s"},
		"delivery": {"retry_max": 2}
	}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Telegram.Token != "t" || !cfg.Engine.Enabled {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Storage == nil || cfg.Storage.Path != "./test.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Delivery.RetryMax != 2 {
		t.Fatalf("retry_max = %d, want 2", cfg.Delivery.RetryMax)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: t
  poll_timeout: 10s
logging:
  level: INFO
  console: true
  file:
    enabled: false
    path: ""
  telegram:
    enabled: false
    thread_id: 0
    min_level: WARN
    rate_per_sec: 1
engine:
  enabled: true
  lookahead: 2h
delivery:
  rate_per_sec: 10
`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Engine.Lookahead != "2h" {
		t.Fatalf("lookahead = %q, want 2h", cfg.Engine.Lookahead)
	}
	if cfg.Delivery.RatePerSec != 10 {
		t.Fatalf("rate_per_sec = %d, want 10", cfg.Delivery.RatePerSec)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t", "poll_timeout": "10s"}, "enigne": {}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t", "poll_timeout": "10s"}}{"x": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestLoadCommitsAndGetReturns(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t", "poll_timeout": "5s"}}`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config published")
		}
	case <-time.After(time.Second):
		t.Fatal("publish did not reach subscriber")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after Unsubscribe")
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)

	stale := &Config{}
	fresh := &Config{Telegram: TelegramConfig{Token: "fresh"}}
	m.publish(stale)
	m.publish(fresh)

	got := <-ch
	if got != fresh {
		t.Fatal("slow subscriber must see the newest config")
	}
}

func TestEngineSettingsDefaults(t *testing.T) {
	t.Parallel()
	s, err := EngineConfig{Enabled: true}.Settings()
	if err != nil {
		t.Fatalf("Settings error: %v", err)
	}
	if s.ProducerInterval != 30*time.Second || s.ConsumerInterval != 5*time.Second {
		t.Fatalf("intervals = %v/%v", s.ProducerInterval, s.ConsumerInterval)
	}
	if s.Lookahead != time.Hour || s.DupRetryLimit != 5 {
		t.Fatalf("lookahead/dup = %v/%d", s.Lookahead, s.DupRetryLimit)
	}
	if s.MaxHorizon != 365*24*time.Hour {
		t.Fatalf("max_horizon = %v, want one year", s.MaxHorizon)
	}

	if _, err := (EngineConfig{ProducerInterval: "bogus"}).Settings(); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestDeliverySettingsDefaults(t *testing.T) {
	t.Parallel()
	s, err := DeliveryConfig{}.Settings()
	if err != nil {
		t.Fatalf("Settings error: %v", err)
	}
	if s.RetryMax != 3 || s.RetryDelay != 2*time.Second || s.RatePerSec != 25 || s.SendTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}
