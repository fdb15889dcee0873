package domain

import (
	"time"
)

// Config holds the complete Harrier configuration. The resolved tree is
// fingerprinted (see config.Fingerprint) and stamped onto every alert,
// transaction and audit entry a run produces.
type Config struct {
	App    AppConfig    `yaml:"app" json:"app"`
	Server ServerConfig `yaml:"server" json:"server"`

	Repository RepositoryConfig `yaml:"database" json:"database"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus" json:"eventBus"`

	Rules   RulesConfig   `yaml:"rules" json:"rules"`
	Scoring ScoringConfig `yaml:"scoring" json:"scoring"`
	Run     RunConfig     `yaml:"run" json:"run"`
	Ingest  IngestConfig  `yaml:"ingest" json:"ingest"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name     string `yaml:"name" json:"name"`
	Env      string `yaml:"env" json:"env"`
	LogLevel string `yaml:"logLevel" json:"logLevel"` // debug, info, warn, error
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"readTimeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `yaml:"writeTimeout" json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"serviceName" json:"serviceName"`
}

// RulesConfig holds the per-rule configuration blocks. Every built-in rule is
// enabled by default; Custom holds optional CEL expression rules.
type RulesConfig struct {
	HighValue           HighValueConfig        `yaml:"high_value" json:"high_value"`
	RapidVelocity       RapidVelocityConfig    `yaml:"rapid_velocity" json:"rapid_velocity"`
	GeoMismatch         GeoMismatchConfig      `yaml:"geo_mismatch" json:"geo_mismatch"`
	StructuringSmurfing StructuringConfig      `yaml:"structuring_smurfing" json:"structuring_smurfing"`
	SanctionsKeyword    SanctionsKeywordConfig `yaml:"sanctions_keyword" json:"sanctions_keyword"`
	HighRiskCountry     HighRiskCountryConfig  `yaml:"high_risk_country" json:"high_risk_country"`
	NetworkRing         NetworkRingConfig      `yaml:"network_ring" json:"network_ring"`
	Custom              []CustomRuleConfig     `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// HighValueConfig configures the high-value transaction rule.
type HighValueConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	ThresholdAmount float64 `yaml:"threshold_amount" json:"threshold_amount"`
}

// RapidVelocityConfig configures the rapid-velocity rule.
type RapidVelocityConfig struct {
	Enabled         bool `yaml:"enabled" json:"enabled"`
	MinTransactions int  `yaml:"min_transactions" json:"min_transactions"`
	WindowMinutes   int  `yaml:"window_minutes" json:"window_minutes"`
}

// GeoMismatchConfig configures the geographic-spread rule.
type GeoMismatchConfig struct {
	Enabled              bool `yaml:"enabled" json:"enabled"`
	WindowMinutes        int  `yaml:"window_minutes" json:"window_minutes"`
	MaxCountriesInWindow int  `yaml:"max_countries_in_window" json:"max_countries_in_window"`
}

// StructuringConfig configures the structuring/smurfing rule.
type StructuringConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	ThresholdAmount float64 `yaml:"threshold_amount" json:"threshold_amount"`
	MinTransactions int     `yaml:"min_transactions" json:"min_transactions"`
	WindowMinutes   int     `yaml:"window_minutes" json:"window_minutes"`
}

// SanctionsKeywordConfig configures the sanctions keyword rule.
type SanctionsKeywordConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Keywords      []string `yaml:"keywords" json:"keywords"`
	ListVersion   string   `yaml:"list_version" json:"list_version"`
	EffectiveDate string   `yaml:"effective_date" json:"effective_date"`
}

// HighRiskCountryConfig configures the restricted-jurisdiction rule.
type HighRiskCountryConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Countries     []string `yaml:"countries" json:"countries"`
	ListVersion   string   `yaml:"list_version" json:"list_version"`
	EffectiveDate string   `yaml:"effective_date" json:"effective_date"`
}

// NetworkRingConfig configures the network-ring indicator rule.
type NetworkRingConfig struct {
	Enabled                 bool    `yaml:"enabled" json:"enabled"`
	MinSharedCounterparties int     `yaml:"min_shared_counterparties" json:"min_shared_counterparties"`
	MinLinkedAccounts       int     `yaml:"min_linked_accounts" json:"min_linked_accounts"`
	LookbackDays            int     `yaml:"lookback_days" json:"lookback_days"`
	Severity                string  `yaml:"severity" json:"severity"`
	ScoreDelta              float64 `yaml:"score_delta" json:"score_delta"`
}

// CustomRuleConfig defines a CEL expression rule. The expression must
// evaluate to a boolean over the transaction fields (amount, currency,
// country, counterparty, merchant, channel, direction).
type CustomRuleConfig struct {
	ID         string  `yaml:"id" json:"id"`
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Expression string  `yaml:"expression" json:"expression"`
	Severity   string  `yaml:"severity" json:"severity"`
	ScoreDelta float64 `yaml:"score_delta" json:"score_delta"`
	Reason     string  `yaml:"reason" json:"reason"`
}

// ScoringConfig holds risk aggregation parameters.
type ScoringConfig struct {
	BaseRiskPerCustomer float64 `yaml:"base_risk_per_customer" json:"base_risk_per_customer"`
	MaxScore            float64 `yaml:"max_score" json:"max_score"`
	LowThreshold        float64 `yaml:"low_threshold" json:"low_threshold"`
	MediumThreshold     float64 `yaml:"medium_threshold" json:"medium_threshold"`
}

// RunConfig holds batch orchestration parameters. ChunkSize 0 disables
// chunking (one chunk covering everything).
type RunConfig struct {
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
}

// IngestConfig holds file ingestion parameters.
type IngestConfig struct {
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost" json:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort" json:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser" json:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword" json:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb" json:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime"`
}

// DefaultConfig returns the default configuration: local SQLite, in-memory
// cache, channel event bus, all built-in rules enabled with the stock
// thresholds.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "harrier",
			Env:      "default",
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Rules: RulesConfig{
			HighValue: HighValueConfig{
				Enabled:         true,
				ThresholdAmount: 10000,
			},
			RapidVelocity: RapidVelocityConfig{
				Enabled:         true,
				MinTransactions: 5,
				WindowMinutes:   15,
			},
			GeoMismatch: GeoMismatchConfig{
				Enabled:              true,
				WindowMinutes:        60,
				MaxCountriesInWindow: 2,
			},
			StructuringSmurfing: StructuringConfig{
				Enabled:         true,
				ThresholdAmount: 9500,
				MinTransactions: 3,
				WindowMinutes:   60,
			},
			SanctionsKeyword: SanctionsKeywordConfig{
				Enabled:     true,
				ListVersion: "unknown",
			},
			HighRiskCountry: HighRiskCountryConfig{
				Enabled:     true,
				ListVersion: "unknown",
			},
			NetworkRing: NetworkRingConfig{
				Enabled:                 true,
				MinSharedCounterparties: 2,
				MinLinkedAccounts:       2,
				LookbackDays:            30,
				Severity:                SeverityHigh,
				ScoreDelta:              40,
			},
		},
		Scoring: ScoringConfig{
			BaseRiskPerCustomer: 10,
			MaxScore:            100,
			LowThreshold:        33,
			MediumThreshold:     66,
		},
		Run: RunConfig{
			ChunkSize: 500,
		},
		Ingest: IngestConfig{
			BatchSize: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}
