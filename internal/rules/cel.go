package rules

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/harrier/internal/domain"
)

// celEnv builds the CEL environment exposing the transaction fields custom
// rules may reference.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("counterparty", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("direction", cel.StringType),
	)
}

// CELRule is a configuration-defined rule backed by a compiled CEL boolean
// expression over the current transaction's fields. CEL rules see no history,
// so they are chunk-invariant by construction.
type CELRule struct {
	id         string
	program    cel.Program
	severity   string
	scoreDelta float64
	reason     string
	hash       string
}

// NewCELRule compiles a custom rule definition. The expression must evaluate
// to a boolean.
func NewCELRule(cfg domain.CustomRuleConfig) (*CELRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}

	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	severity := cfg.Severity
	if severity == "" {
		severity = domain.SeverityMedium
	}
	reason := cfg.Reason
	if reason == "" {
		reason = fmt.Sprintf("custom rule %s matched", cfg.ID)
	}

	return &CELRule{
		id:         cfg.ID,
		program:    program,
		severity:   severity,
		scoreDelta: cfg.ScoreDelta,
		reason:     reason,
		hash:       stableRuleHash(cfg.ID),
	}, nil
}

func (r *CELRule) ID() string   { return r.id }
func (r *CELRule) Hash() string { return r.hash }

func (r *CELRule) Evaluate(ctx context.Context, rc domain.RuleContext, history domain.HistoryReader, state *RunState) (*domain.Hit, error) {
	activation := map[string]any{
		"amount":       rc.Amount,
		"currency":     rc.Currency,
		"merchant":     rc.Merchant,
		"counterparty": rc.Counterparty,
		"country":      rc.Country,
		"channel":      rc.Channel,
		"direction":    rc.Direction,
	}

	out, _, err := r.program.Eval(activation)
	if err != nil {
		return nil, fmt.Errorf("rule %s: evaluation error: %w", r.id, err)
	}
	matched, ok := out.(types.Bool)
	if !ok || !bool(matched) {
		return nil, nil
	}

	return &domain.Hit{
		RuleID:   r.id,
		Severity: r.severity,
		Reason:   r.reason,
		Evidence: map[string]any{
			"expression_rule": true,
		},
		ScoreDelta: r.scoreDelta,
	}, nil
}
