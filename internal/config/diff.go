package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (the bot token) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Storage: nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if !reflect.DeepEqual(oS, nS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Bool("engine.enabled", newCfg.Engine.Enabled),
			logx.String("engine.producer_interval", strings.TrimSpace(newCfg.Engine.ProducerInterval)),
			logx.String("engine.consumer_interval", strings.TrimSpace(newCfg.Engine.ConsumerInterval)),
			logx.String("engine.lookahead", strings.TrimSpace(newCfg.Engine.Lookahead)),
			logx.String("engine.max_horizon", strings.TrimSpace(newCfg.Engine.MaxHorizon)),
			logx.Int("engine.dup_retry_limit", newCfg.Engine.DupRetryLimit),
		)
	}

	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.retry_max", newCfg.Delivery.RetryMax),
			logx.String("delivery.retry_delay", strings.TrimSpace(newCfg.Delivery.RetryDelay)),
			logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
			logx.String("delivery.send_timeout", strings.TrimSpace(newCfg.Delivery.SendTimeout)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
