package config

import (
	"hash/fnv"
	"sort"
	"strings"

	logx "searchwatch/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus
// safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	// Storage: nil means in-memory. Never log the path itself, only whether
	// one is set.
	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS || (oldCfg.Storage == nil) != (newCfg.Storage == nil) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
	}

	if oldCfg.Results != newCfg.Results {
		changed = append(changed, "results")
		attrs = append(attrs,
			logx.Int("results.max_entries", newCfg.Results.MaxEntries),
			logx.String("results.max_age", strings.TrimSpace(newCfg.Results.MaxAge)),
		)
	}

	// Couriers (never log the telegram token, only whether one is set).
	if oldCfg.Couriers != newCfg.Couriers {
		changed = append(changed, "couriers")
		attrs = append(attrs,
			logx.Int("couriers.rate_per_minute", newCfg.Couriers.RatePerMinute),
			logx.Bool("couriers.telegram_enabled", newCfg.Couriers.Telegram.Enabled),
			logx.Bool("couriers.telegram_token_set", strings.TrimSpace(newCfg.Couriers.Telegram.Token) != ""),
			logx.Bool("couriers.webhook_enabled", newCfg.Couriers.Webhook.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
