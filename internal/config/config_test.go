package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Rules.HighValue.ThresholdAmount != 10000 {
		t.Errorf("expected default high-value threshold, got %v", cfg.Rules.HighValue.ThresholdAmount)
	}
	if cfg.Scoring.LowThreshold != 33 || cfg.Scoring.MediumThreshold != 66 {
		t.Errorf("unexpected scoring defaults: %+v", cfg.Scoring)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite default driver, got %q", cfg.Repository.Driver)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
rules:
  high_value:
    enabled: true
    threshold_amount: 5000
scoring:
  base_risk_per_customer: 20
  max_score: 100
  low_threshold: 40
  medium_threshold: 70
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Rules.HighValue.ThresholdAmount != 5000 {
		t.Errorf("expected overridden threshold 5000, got %v", cfg.Rules.HighValue.ThresholdAmount)
	}
	if cfg.Scoring.LowThreshold != 40 {
		t.Errorf("expected overridden low threshold, got %v", cfg.Scoring.LowThreshold)
	}
	// Untouched sections keep defaults.
	if cfg.Rules.StructuringSmurfing.ThresholdAmount != 9500 {
		t.Errorf("expected default structuring threshold, got %v", cfg.Rules.StructuringSmurfing.ThresholdAmount)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARRIER_LOG_LEVEL", "debug")
	t.Setenv("HARRIER_DB_DRIVER", "postgres")
	t.Setenv("HARRIER_POSTGRES_HOST", "db.internal")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.App.LogLevel != "debug" {
		t.Errorf("expected env log level, got %q", cfg.App.LogLevel)
	}
	if cfg.Repository.Driver != "postgres" || cfg.Repository.PostgresHost != "db.internal" {
		t.Errorf("expected env database overrides, got %+v", cfg.Repository)
	}
}

func TestValidateRejectsPlaceholderCountries(t *testing.T) {
	path := writeConfig(t, `
rules:
  high_risk_country:
    enabled: true
    countries: ["IR", "XX"]
`)

	_, err := Load(path)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for placeholder country, got %v", err)
	}

	// Disabled list may keep placeholders.
	disabled := domain.DefaultConfig()
	disabled.Rules.HighRiskCountry.Enabled = false
	disabled.Rules.HighRiskCountry.Countries = []string{"XX"}
	if err := Validate(disabled); err != nil {
		t.Errorf("expected disabled placeholder list to pass, got %v", err)
	}
}

func TestValidateRejectsBadScoring(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Scoring.MediumThreshold = cfg.Scoring.LowThreshold
	if err := Validate(cfg); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for inverted thresholds, got %v", err)
	}

	cfg = domain.DefaultConfig()
	cfg.Scoring.MaxScore = 0
	if err := Validate(cfg); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero max score, got %v", err)
	}
}

func TestValidateCompilesCustomRules(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Rules.Custom = []domain.CustomRuleConfig{
		{ID: "Broken", Enabled: true, Expression: `amount >`},
	}
	if err := Validate(cfg); err == nil {
		t.Error("expected validation to fail on broken CEL expression")
	}
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint(domain.DefaultConfig())
	if err != nil {
		t.Fatalf("fingerprint failed: %v", err)
	}
	b, err := Fingerprint(domain.DefaultConfig())
	if err != nil {
		t.Fatalf("fingerprint failed: %v", err)
	}
	if a != b {
		t.Error("expected identical fingerprint for identical config")
	}
	if len(a) != 64 {
		t.Errorf("expected sha256 hex fingerprint, got %d chars", len(a))
	}

	changed := domain.DefaultConfig()
	changed.Rules.HighValue.ThresholdAmount = 5000
	c, err := Fingerprint(changed)
	if err != nil {
		t.Fatalf("fingerprint failed: %v", err)
	}
	if c == a {
		t.Error("expected fingerprint to change with config")
	}
}
