package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`

	// Engine controls the reminder scheduling loops (producer/consumer).
	Engine EngineConfig `json:"engine"`

	// Delivery controls how fired reminders are pushed to recipients.
	Delivery DeliveryConfig `json:"delivery"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// GroupLog is the chat id (as string) used by the Telegram log sink.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// EngineConfig controls the scheduling loops.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - producer_interval: "30s"
//   - consumer_interval: "5s"
//   - lookahead: "1h"
//   - max_horizon: "8760h" (one year)
//   - dup_retry_limit: 5
type EngineConfig struct {
	Enabled bool `json:"enabled"`

	// ProducerInterval is how often upcoming reminders are pulled from
	// storage into the in-memory queue.
	ProducerInterval string `json:"producer_interval,omitempty"`
	// ConsumerInterval is how often the due prefix of the queue is drained.
	ConsumerInterval string `json:"consumer_interval,omitempty"`
	// Lookahead is the window the producer loads ahead of now.
	Lookahead string `json:"lookahead,omitempty"`
	// MaxHorizon caps how far in the future a reminder may be scheduled.
	MaxHorizon string `json:"max_horizon,omitempty"`
	// DupRetryLimit bounds the duplicate-date retry loop of month-day rules.
	DupRetryLimit int `json:"dup_retry_limit,omitempty"`
}

// DeliveryConfig controls the outbound send path.
//
// Defaults (when fields are omitted/zero):
//   - retry_max: 3
//   - retry_delay: "2s"
//   - rate_per_sec: 25
//   - send_timeout: "10s"
type DeliveryConfig struct {
	RetryMax    int    `json:"retry_max,omitempty"`
	RetryDelay  string `json:"retry_delay,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}
