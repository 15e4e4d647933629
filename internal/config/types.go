package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	LLM       LLMConfig       `json:"llm,omitempty"`
	Health    HealthConfig    `json:"health,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupChat is the club chat the sprint messages go to.
	GroupChat int64 `json:"group_chat"`
	// OpsChat optionally mirrors warn+ logs (0 disables).
	OpsChat int64 `json:"ops_chat,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
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
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the SQLite ledger/goal store.
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the sprint cadence scheduler.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone is the single configured locale all calendar rules are
	// evaluated in (IANA TZ, e.g. "Pacific/Auckland").
	Timezone string `json:"timezone,omitempty"`
	// RetryMax bounds send attempts per dispatch (default 3).
	RetryMax int `json:"retry_max,omitempty"`
	// RetryBase is the linear backoff unit between attempts (default "2s").
	RetryBase string `json:"retry_base,omitempty"`
}

// LLMConfig configures the goal-extraction model. An empty APIKey disables
// the model and extraction runs on the pattern fallback only.
type LLMConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
	// Timeout is a Go duration string (default "20s").
	Timeout string `json:"timeout,omitempty"`
}

type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8090"
}
