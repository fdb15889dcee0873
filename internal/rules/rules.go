// Package rules provides the detection rule set: seven built-in AML rules
// plus CEL expression rules loaded from configuration.
package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Rule is a single detection rule. Evaluate returns nil when the rule does
// not fire. Rules read history only through the HistoryReader, so their
// output depends on committed state, never on chunk boundaries.
type Rule interface {
	ID() string

	// Hash is a stable identifier of the rule implementation, stored in
	// alert evidence so alerts can be traced to the logic that produced them.
	Hash() string

	Evaluate(ctx context.Context, rc domain.RuleContext, history domain.HistoryReader, state *RunState) (*domain.Hit, error)
}

// RunState carries per-run rule state. It is created once per engine run and
// shared across chunks, so run-scoped dedup (one network alert per account
// per run) survives chunk boundaries.
type RunState struct {
	fired map[string]map[int64]struct{}
}

// NewRunState returns empty per-run state.
func NewRunState() *RunState {
	return &RunState{fired: make(map[string]map[int64]struct{})}
}

// HasFired reports whether MarkFired was called for (ruleID, accountID) in
// this run.
func (s *RunState) HasFired(ruleID string, accountID int64) bool {
	_, ok := s.fired[ruleID][accountID]
	return ok
}

// MarkFired records that a rule fired for an account in this run.
func (s *RunState) MarkFired(ruleID string, accountID int64) {
	if s.fired[ruleID] == nil {
		s.fired[ruleID] = make(map[int64]struct{})
	}
	s.fired[ruleID][accountID] = struct{}{}
}

// FromConfig builds the enabled rule set in deterministic order: built-ins
// first in their fixed sequence, then custom CEL rules in config order. Rule
// order is part of run reproducibility.
func FromConfig(cfg domain.RulesConfig) ([]Rule, error) {
	var set []Rule

	if cfg.HighValue.Enabled {
		set = append(set, NewHighValueRule(cfg.HighValue))
	}
	if cfg.RapidVelocity.Enabled {
		set = append(set, NewRapidVelocityRule(cfg.RapidVelocity))
	}
	if cfg.GeoMismatch.Enabled {
		set = append(set, NewGeoMismatchRule(cfg.GeoMismatch))
	}
	if cfg.StructuringSmurfing.Enabled {
		set = append(set, NewStructuringRule(cfg.StructuringSmurfing))
	}
	if cfg.SanctionsKeyword.Enabled {
		set = append(set, NewSanctionsKeywordRule(cfg.SanctionsKeyword))
	}
	if cfg.HighRiskCountry.Enabled {
		set = append(set, NewHighRiskCountryRule(cfg.HighRiskCountry))
	}
	if cfg.NetworkRing.Enabled {
		set = append(set, NewNetworkRingRule(cfg.NetworkRing))
	}

	for _, custom := range cfg.Custom {
		if !custom.Enabled {
			continue
		}
		rule, err := NewCELRule(custom)
		if err != nil {
			return nil, fmt.Errorf("custom rule %s: %w", custom.ID, err)
		}
		set = append(set, rule)
	}

	return set, nil
}

// stableRuleHash derives the audit hash for a rule id. The salt versions the
// hash scheme itself, not the rule logic.
func stableRuleHash(ruleID string) string {
	sum := sha256.Sum256([]byte(ruleID + ":v1"))
	return hex.EncodeToString(sum[:])[:16]
}
