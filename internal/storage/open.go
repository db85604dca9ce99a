package storage

import (
	"errors"
	"strings"

	logx "remindbot/pkg/logx"
)

// Open initializes the configured store. The store is mandatory (the engine
// cannot run without persistence), so unlike optional subsystems an empty
// driver means the default, not disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
