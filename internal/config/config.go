// Package config loads, validates and fingerprints the engine configuration.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Placeholder country codes that must be replaced before use.
var highRiskCountryPlaceholders = map[string]struct{}{
	"XX": {},
	"YY": {},
}

// Load reads YAML configuration from path, layered over the defaults, then
// applies HARRIER_* environment overrides and validates the result. An empty
// path (or a missing file at the default location) yields the defaults.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps HARRIER_* environment variables onto the config.
// Environment wins over file values, file wins over defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("HARRIER_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HARRIER_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HARRIER_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("HARRIER_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Repository.PostgresPort = port
		}
	}
	if v := os.Getenv("HARRIER_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("HARRIER_NATS_URL"); v != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("HARRIER_REDIS_ADDR"); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = v
	}
}

// Validate rejects configurations the engine must not run with. Custom rule
// expressions are compiled here so a broken expression fails at startup, not
// mid-run.
func Validate(cfg *domain.Config) error {
	s := cfg.Scoring
	if s.MaxScore <= 0 {
		return fmt.Errorf("%w: scoring.max_score must be positive", domain.ErrInvalidInput)
	}
	if s.LowThreshold <= 0 || s.MediumThreshold <= s.LowThreshold {
		return fmt.Errorf("%w: scoring thresholds must satisfy 0 < low < medium", domain.ErrInvalidInput)
	}
	if s.MediumThreshold > s.MaxScore {
		return fmt.Errorf("%w: scoring.medium_threshold exceeds max_score", domain.ErrInvalidInput)
	}
	if cfg.Run.ChunkSize < 0 {
		return fmt.Errorf("%w: run.chunk_size must not be negative", domain.ErrInvalidInput)
	}
	if cfg.Ingest.BatchSize <= 0 {
		return fmt.Errorf("%w: ingest.batch_size must be positive", domain.ErrInvalidInput)
	}

	if err := validateHighRiskCountries(cfg.Rules.HighRiskCountry); err != nil {
		return err
	}

	// Dry-run the rule set so CEL expressions are compiled once at load time.
	if _, err := rules.FromConfig(cfg.Rules); err != nil {
		return err
	}
	return nil
}

// validateHighRiskCountries rejects the placeholder codes shipped in sample
// configs; an enabled list must carry real ISO codes.
func validateHighRiskCountries(cfg domain.HighRiskCountryConfig) error {
	if !cfg.Enabled {
		return nil
	}
	for _, c := range cfg.Countries {
		code := strings.ToUpper(strings.TrimSpace(c))
		if len(code) > 3 {
			code = code[:3]
		}
		if _, bad := highRiskCountryPlaceholders[code]; bad {
			return fmt.Errorf("%w: high_risk_country.countries must not contain placeholder %q; replace with real ISO country codes",
				domain.ErrInvalidInput, code)
		}
	}
	return nil
}

// Fingerprint returns the SHA-256 of the canonical YAML rendering of the
// resolved config. The hash is stamped onto alerts, transactions and audit
// checkpoints so any output can be traced to the exact configuration that
// produced it.
func Fingerprint(cfg *domain.Config) (string, error) {
	canonical, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
