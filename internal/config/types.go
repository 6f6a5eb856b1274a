package config

// Config is beacond's on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Ops controls the operational HTTP server (pprof, /metrics, /events).
	Ops *OpsConfig `json:"ops,omitempty"`

	// Journal controls the persistent listener-failure journal.
	Journal *JournalConfig `json:"journal,omitempty"`

	// Report controls failure reporting behavior (throttling).
	Report *ReportConfig `json:"report,omitempty"`

	// Emitters are cron-driven event sources published through the hub.
	Emitters []EmitterConfig `json:"emitters,omitempty"`

	// Telegram configures the optional Telegram sink.
	Telegram *TelegramConfig `json:"telegram,omitempty"`

	// Timezone for emitter schedules (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`
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

// OpsConfig controls the optional operational HTTP server.
//
// Security note: prefer binding to localhost (e.g. "127.0.0.1:6565").
type OpsConfig struct {
	Enabled              bool   `json:"enabled"`
	Address              string `json:"address,omitempty"` // default: "127.0.0.1:6565"
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}

// JournalConfig controls the optional persistence layer for listener
// failures.
//
// Example:
//
//	"journal": { "driver": "file", "path": "./beacon_journal" }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ReportConfig controls how listener failures are surfaced.
type ReportConfig struct {
	// RatePerSec caps failure reports per second; excess reports are
	// dropped (a stuck listener should not flood the log or journal).
	// 0 means no throttling.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// EmitterConfig describes one scheduled event source.
//
// Schedule accepts cron specs ("*/5 * * * *", "@hourly") and intervals
// ("@every 30s").
type EmitterConfig struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	Event    string   `json:"event"`
	Args     []string `json:"args,omitempty"`
}

// TelegramConfig configures the Telegram sink listener.
type TelegramConfig struct {
	Enabled    bool     `json:"enabled"`
	Token      string   `json:"token"`
	ChatID     int64    `json:"chat_id"`
	Events     []string `json:"events"`
	RatePerSec int      `json:"rate_per_sec,omitempty"`
	// TTL releases the sink's registrations after this duration
	// (empty = no expiry). Mostly useful for temporary debug taps.
	TTL string `json:"ttl,omitempty"`
}
