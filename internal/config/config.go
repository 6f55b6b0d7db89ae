package config

import "time"

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Naming   NamingConfig   `yaml:"naming"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Forecast ForecastConfig `yaml:"forecast"`
	Policy   PolicyConfig   `yaml:"policy"`
	Approval ApprovalConfig `yaml:"approval"`
	Platform PlatformConfig `yaml:"platform"`
	SCM      SCMConfig      `yaml:"scm"`
	Auth     AuthConfig     `yaml:"auth"`

	// Categories are the streams this control plane governs. Loaded from
	// the YAML file; there is no sane env encoding for a list of structs.
	Categories []Category `yaml:"categories"`
}

// Category describes one governed stream.
type Category struct {
	Slug              string `yaml:"slug"`
	Emoji             string `yaml:"emoji"`
	Limit             int    `yaml:"limit"`
	EscalationContact string `yaml:"escalation_contact"`
	Frozen            bool   `yaml:"frozen"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	RateLimitPerSec int           `yaml:"rate_limit_per_sec" env:"SERVER_RATE_LIMIT_PER_SEC" env-default:"20"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"   env:"SERVER_RATE_LIMIT_BURST"   env-default:"40"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"     env:"SERVER_MAX_BODY_BYTES"     env-default:"1048576"`
}

// DatabaseConfig holds PostgreSQL connection settings. An empty DSN keeps the
// service on the in-memory stores.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"               env:"TOPIARY_PG_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns"    env:"DATABASE_MAX_OPEN_CONNS"    env-default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns"    env:"DATABASE_MAX_IDLE_CONNS"    env-default:"10"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME" env-default:"30m"`
}

// LedgerConfig selects the audit ledger backend. When the database DSN is set
// the ledger lives in Postgres; otherwise it is the JSONL file at Path.
type LedgerConfig struct {
	Path string `yaml:"path" env:"TOPIARY_LEDGER_PATH" env-default:"./ledger.jsonl"`
}

// NamingConfig bounds canonical names.
type NamingConfig struct {
	MaxNameLength int `yaml:"max_name_length" env:"NAMING_MAX_NAME_LENGTH" env-default:"128"`
}

// ScoringConfig parameterizes the priority scorer.
type ScoringConfig struct {
	StakeholderSaturation int     `yaml:"stakeholder_saturation" env:"SCORING_STAKEHOLDER_SATURATION" env-default:"10"`
	DependencySaturation  int     `yaml:"dependency_saturation"  env:"SCORING_DEPENDENCY_SATURATION"  env-default:"5"`
	DeadlineWindowDays    int     `yaml:"deadline_window_days"   env:"SCORING_DEADLINE_WINDOW_DAYS"   env-default:"21"`
	ExternalMinConfidence float64 `yaml:"external_min_confidence" env:"SCORING_EXTERNAL_MIN_CONFIDENCE" env-default:"0"`
}

// ForecastConfig parameterizes the capacity forecaster.
type ForecastConfig struct {
	Window int `yaml:"window" env:"FORECAST_WINDOW" env-default:"30"`
}

// PolicyConfig drives the built-in rule set.
type PolicyConfig struct {
	RenameRoles      []string `yaml:"rename_roles"      env:"POLICY_RENAME_ROLES"      env-default:"operator,governance"`
	ReleaseRoles     []string `yaml:"release_roles"     env:"POLICY_RELEASE_ROLES"     env-default:"release-manager"`
	DestructiveRoles []string `yaml:"destructive_roles" env:"POLICY_DESTRUCTIVE_ROLES" env-default:"governance"`
	QuietHoursStart  int      `yaml:"quiet_hours_start" env:"POLICY_QUIET_HOURS_START" env-default:"-1"`
	QuietHoursEnd    int      `yaml:"quiet_hours_end"   env:"POLICY_QUIET_HOURS_END"   env-default:"-1"`
}

// ApprovalConfig bounds the approval state machine.
type ApprovalConfig struct {
	TTL time.Duration `yaml:"ttl" env:"APPROVAL_TTL" env-default:"72h"`
}

// PlatformConfig configures the chat-platform adapter. An empty BaseURL keeps
// the service on the in-memory fake (useful for tests and dry-run demos).
type PlatformConfig struct {
	BaseURL       string        `yaml:"base_url"        env:"PLATFORM_BASE_URL"`
	Token         string        `yaml:"token"           env:"PLATFORM_TOKEN"`
	DeepLinkBase  string        `yaml:"deep_link_base"  env:"PLATFORM_DEEP_LINK_BASE" env-default:"https://chat.example.org"`
	CallTimeout   time.Duration `yaml:"call_timeout"    env:"PLATFORM_CALL_TIMEOUT"   env-default:"10s"`
	MaxRetries    int           `yaml:"max_retries"     env:"PLATFORM_MAX_RETRIES"    env-default:"3"`
	RetryBaseWait time.Duration `yaml:"retry_base_wait" env:"PLATFORM_RETRY_BASE_WAIT" env-default:"250ms"`
}

// SCMConfig configures the source-control adapter.
type SCMConfig struct {
	BaseURL     string        `yaml:"base_url"     env:"SCM_BASE_URL"`
	Token       string        `yaml:"token"        env:"SCM_TOKEN"`
	CallTimeout time.Duration `yaml:"call_timeout" env:"SCM_CALL_TIMEOUT" env-default:"10s"`
}

// AuthConfig holds bearer-token settings for the HTTP surface.
type AuthConfig struct {
	Secret   string        `yaml:"secret"    env:"TOPIARY_AUTH_SECRET"`
	Issuer   string        `yaml:"issuer"    env:"AUTH_ISSUER"    env-default:"topiary"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL" env-default:"12h"`
}

// CategoryBySlug returns the configured category, if any.
func (c *Config) CategoryBySlug(slug string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.Slug == slug {
			return cat, true
		}
	}
	return Category{}, false
}
