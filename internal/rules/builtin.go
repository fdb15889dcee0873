package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// HighValueRule fires when a single transaction reaches the amount threshold.
type HighValueRule struct {
	threshold float64
	hash      string
}

func NewHighValueRule(cfg domain.HighValueConfig) *HighValueRule {
	return &HighValueRule{
		threshold: cfg.ThresholdAmount,
		hash:      stableRuleHash("HighValueTransaction"),
	}
}

func (r *HighValueRule) ID() string   { return "HighValueTransaction" }
func (r *HighValueRule) Hash() string { return r.hash }

func (r *HighValueRule) Evaluate(ctx context.Context, rc domain.RuleContext, history domain.HistoryReader, state *RunState) (*domain.Hit, error) {
	if rc.Amount < r.threshold {
		return nil, nil
	}
	return &domain.Hit{
		RuleID:   r.ID(),
		Severity: domain.SeverityHigh,
		Reason:   fmt.Sprintf("transaction amount %.2f >= threshold %.2f", rc.Amount, r.threshold),
		Evidence: map[string]any{
			"amount":    rc.Amount,
			"threshold": r.threshold,
		},
		ScoreDelta: 25,
	}, nil
}

// RapidVelocityRule fires when an account produces too many transactions
// within a sliding window ending at the current transaction.
type RapidVelocityRule struct {
	minTransactions int64
	window          time.Duration
	windowMinutes   int
	hash            string
}

func NewRapidVelocityRule(cfg domain.RapidVelocityConfig) *RapidVelocityRule {
	return &RapidVelocityRule{
		minTransactions: int64(cfg.MinTransactions),
		window:          time.Duration(cfg.WindowMinutes) * time.Minute,
		windowMinutes:   cfg.WindowMinutes,
		hash:            stableRuleHash("RapidVelocity"),
	}
}

func (r *RapidVelocityRule) ID() string   { return "RapidVelocity" }
func (r *RapidVelocityRule) Hash() string { return r.hash }

func (r *RapidVelocityRule) Evaluate(ctx context.Context, rc domain.RuleContext, history domain.HistoryReader, state *RunState) (*domain.Hit, error) {
	count, err := history.CountAccountTransactions(ctx, rc.AccountID, rc.TS.Add(-r.window), rc.TS)
	if err != nil {
		return nil, err
	}
	if count < r.minTransactions {
		return nil, nil
	}
	return &domain.Hit{
		RuleID:   r.ID(),
		Severity: domain.SeverityMedium,
		Reason:   fmt.Sprintf("%d transactions from same account within %d minutes", count, r.windowMinutes),
		Evidence: map[string]any{
			"count":          count,
			"window_minutes": r.windowMinutes,
			"account_id":     rc.AccountID,
		},
		ScoreDelta: 20,
	}, nil
}

// GeoMismatchRule fires when a customer's transactions span too many
// countries within a sliding window.
type GeoMismatchRule struct {
	window        time.Duration
	windowMinutes int
	maxCountries  int
	hash          string
}

func NewGeoMismatchRule(cfg domain.GeoMismatchConfig) *GeoMismatchRule {
	return &GeoMismatchRule{
		window:        time.Duration(cfg.WindowMinutes) * time.Minute,
		windowMinutes: cfg.WindowMinutes,
		maxCountries:  cfg.MaxCountriesInWindow,
		hash:          stableRuleHash("GeoMismatch"),
	}
}

func (r *GeoMismatchRule) ID() string   { return "GeoMismatch" }
func (r *GeoMismatchRule) Hash() string { return r.hash }

func (r *GeoMismatchRule) Evaluate(ctx context.Context, rc domain.RuleContext, history domain.HistoryReader, state *RunState) (*domain.Hit, error) {
	// Transactions without geography carry no signal for this rule.
	if rc.Country == "" {
		return nil, nil
	}
	countries, err := history.DistinctCustomerCountries(ctx, rc.CustomerID, rc.TS.Add(-r.window), rc.TS)
	if err != nil {
		return nil, err
	}
	if len(countries) <= r.maxCountries {
		return nil, nil
	}
	return &domain.Hit{
		RuleID:   r.ID(),
		Severity: domain.SeverityMedium,
		Reason:   fmt.Sprintf("unusual country spread: %d countries in %d min", len(countries), r.windowMinutes),
		Evidence: map[string]any{
			"countries":      countries,
			"window_minutes": r.windowMinutes,
		},
		ScoreDelta: 15,
	}, nil
}

// StructuringRule fires when an account clusters transactions just below a
// reporting threshold within a window.
type StructuringRule struct {
	threshold       float64
	minTransactions int64
	window          time.Duration
	windowMinutes   int
	hash            string
}

func NewStructuringRule(cfg domain.StructuringConfig) *StructuringRule {
	return &StructuringRule{
		threshold:       cfg.ThresholdAmount,
		minTransactions: int64(cfg.MinTransactions),
		window:          time.Duration(cfg.WindowMinutes) * time.Minute,
		windowMinutes:   cfg.WindowMinutes,
		hash:            stableRuleHash("StructuringSmurfing"),
	}
}

func (r *StructuringRule) ID() string   { return "StructuringSmurfing" }
func (r *StructuringRule) Hash() string { return r.hash }

func (r *StructuringRule) Evaluate(ctx context.Context, rc domain.RuleContext, history domain.HistoryReader, state *RunState) (*domain.Hit, error) {
	// Just-below band: [0.8 * threshold, threshold).
	floor := r.threshold * 0.8
	count, err := history.CountAccountTransactionsInBand(ctx, rc.AccountID, rc.TS.Add(-r.window), rc.TS, floor, r.threshold)
	if err != nil {
		return nil, err
	}
	if count < r.minTransactions {
		return nil, nil
	}
	return &domain.Hit{
		RuleID:   r.ID(),
		Severity: domain.SeverityHigh,
		Reason:   fmt.Sprintf("%d transactions just below threshold %.2f in %d min", count, r.threshold, r.windowMinutes),
		Evidence: map[string]any{
			"count":          count,
			"threshold":      r.threshold,
			"window_minutes": r.windowMinutes,
		},
		ScoreDelta: 30,
	}, nil
}

// SanctionsKeywordRule fires when the counterparty name contains a keyword
// from the configured screening list. First matching keyword wins.
type SanctionsKeywordRule struct {
	keywords      []string
	listVersion   string
	effectiveDate string
	hash          string
}

func NewSanctionsKeywordRule(cfg domain.SanctionsKeywordConfig) *SanctionsKeywordRule {
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		keywords = append(keywords, strings.ToLower(k))
	}
	return &SanctionsKeywordRule{
		keywords:      keywords,
		listVersion:   cfg.ListVersion,
		effectiveDate: cfg.EffectiveDate,
		hash:          stableRuleHash("SanctionsKeywordMatch"),
	}
}

func (r *SanctionsKeywordRule) ID() string   { return "SanctionsKeywordMatch" }
func (r *SanctionsKeywordRule) Hash() string { return r.hash }

func (r *SanctionsKeywordRule) Evaluate(ctx context.Context, rc domain.RuleContext, history domain.HistoryReader, state *RunState) (*domain.Hit, error) {
	if rc.Counterparty == "" {
		return nil, nil
	}
	cp := strings.ToLower(rc.Counterparty)
	for _, kw := range r.keywords {
		if strings.Contains(cp, kw) {
			return &domain.Hit{
				RuleID:   r.ID(),
				Severity: domain.SeverityHigh,
				Reason:   fmt.Sprintf("counterparty name matches sanctions keyword %q", kw),
				Evidence: map[string]any{
					"counterparty":   rc.Counterparty,
					"keyword":        kw,
					"list_version":   r.listVersion,
					"effective_date": r.effectiveDate,
				},
				ScoreDelta: 40,
			}, nil
		}
	}
	return nil, nil
}

// HighRiskCountryRule fires when the transaction country appears on the
// configured high-risk jurisdiction list.
type HighRiskCountryRule struct {
	countries     map[string]struct{}
	listVersion   string
	effectiveDate string
	hash          string
}

func NewHighRiskCountryRule(cfg domain.HighRiskCountryConfig) *HighRiskCountryRule {
	countries := make(map[string]struct{}, len(cfg.Countries))
	for _, c := range cfg.Countries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			countries[c] = struct{}{}
		}
	}
	return &HighRiskCountryRule{
		countries:     countries,
		listVersion:   cfg.ListVersion,
		effectiveDate: cfg.EffectiveDate,
		hash:          stableRuleHash("HighRiskCountry"),
	}
}

func (r *HighRiskCountryRule) ID() string   { return "HighRiskCountry" }
func (r *HighRiskCountryRule) Hash() string { return r.hash }

func (r *HighRiskCountryRule) Evaluate(ctx context.Context, rc domain.RuleContext, history domain.HistoryReader, state *RunState) (*domain.Hit, error) {
	if rc.Country == "" {
		return nil, nil
	}
	country := strings.ToUpper(strings.TrimSpace(rc.Country))
	if len(country) > 3 {
		country = country[:3]
	}
	if _, hit := r.countries[country]; !hit {
		return nil, nil
	}
	return &domain.Hit{
		RuleID:   r.ID(),
		Severity: domain.SeverityHigh,
		Reason:   fmt.Sprintf("transaction involves high-risk country %s", rc.Country),
		Evidence: map[string]any{
			"country":        rc.Country,
			"list_version":   r.listVersion,
			"effective_date": r.effectiveDate,
		},
		ScoreDelta: 35,
	}, nil
}

// NetworkRingRule fires when an account shares enough counterparties with
// enough other accounts inside the lookback window. It fires at most once per
// account per run; the overlap is a property of the account, not of any
// single transaction.
type NetworkRingRule struct {
	minSharedCounterparties int
	minLinkedAccounts       int
	lookbackDays            int
	severity                string
	scoreDelta              float64
	hash                    string
}

func NewNetworkRingRule(cfg domain.NetworkRingConfig) *NetworkRingRule {
	severity := cfg.Severity
	if severity == "" {
		severity = domain.SeverityHigh
	}
	return &NetworkRingRule{
		minSharedCounterparties: cfg.MinSharedCounterparties,
		minLinkedAccounts:       cfg.MinLinkedAccounts,
		lookbackDays:            cfg.LookbackDays,
		severity:                severity,
		scoreDelta:              cfg.ScoreDelta,
		hash:                    stableRuleHash("NetworkRingIndicator"),
	}
}

func (r *NetworkRingRule) ID() string   { return "NetworkRingIndicator" }
func (r *NetworkRingRule) Hash() string { return r.hash }

func (r *NetworkRingRule) Evaluate(ctx context.Context, rc domain.RuleContext, history domain.HistoryReader, state *RunState) (*domain.Hit, error) {
	if state.HasFired(r.ID(), rc.AccountID) {
		return nil, nil
	}
	signal, err := history.RingSignal(ctx, rc.AccountID, r.lookbackDays)
	if err != nil {
		return nil, err
	}
	if signal.OverlapCount < r.minSharedCounterparties {
		return nil, nil
	}
	if len(signal.LinkedAccounts) < r.minLinkedAccounts {
		return nil, nil
	}
	state.MarkFired(r.ID(), rc.AccountID)
	return &domain.Hit{
		RuleID:   r.ID(),
		Severity: r.severity,
		Reason: fmt.Sprintf("account shares %d counterparties with %d other account(s) (ring pattern)",
			signal.OverlapCount, len(signal.LinkedAccounts)),
		Evidence: map[string]any{
			"linked_accounts":       signal.LinkedAccounts,
			"shared_counterparties": signal.SharedCounterparties,
			"overlap_count":         signal.OverlapCount,
			"degree":                signal.Degree,
			"lookback_days":         r.lookbackDays,
		},
		ScoreDelta: r.scoreDelta,
	}, nil
}
