package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the trigger engine evaluating recurrence
	// expressions. Timezone applies to every cron evaluation.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Storage backs the grid caches (job registries, query results, user
	// preferences). Nil means a process-local in-memory backend.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Results bounds the per-search result cache. Zero values disable the
	// corresponding bound.
	Results ResultsConfig `json:"results,omitempty"`

	Couriers CouriersConfig `json:"couriers"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone, e.g. "UTC" or "Europe/Berlin". Empty means the
	// process-local timezone.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./searchwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type ResultsConfig struct {
	MaxEntries int `json:"max_entries,omitempty"`
	// MaxAge is a Go duration string (e.g. "72h"). Use "0s" to keep
	// results until delivered.
	MaxAge string `json:"max_age,omitempty"`
}

type CouriersConfig struct {
	// RatePerMinute caps deliveries per destination. 0 disables limiting.
	RatePerMinute int `json:"rate_per_minute,omitempty"`

	Telegram TelegramCourierConfig `json:"telegram"`
	Webhook  WebhookCourierConfig  `json:"webhook"`
}

type TelegramCourierConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

type WebhookCourierConfig struct {
	Enabled bool `json:"enabled"`
	// Timeout is a Go duration string bounding one POST.
	Timeout string `json:"timeout,omitempty"`
}
