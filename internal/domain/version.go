package domain

import (
	"os"
)

// EngineVersion identifies the orchestration engine build, stamped onto
// every alert and scored transaction for reproducibility.
const EngineVersion = "0.1.0"

// RulesVersion returns the rule-set version: HARRIER_RULES_VERSION if set
// (release pipelines inject the git describe output), else a fixed default.
func RulesVersion() string {
	if v := os.Getenv("HARRIER_RULES_VERSION"); v != "" {
		return v
	}
	return "1.0.0"
}
