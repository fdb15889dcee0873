// Package engine orchestrates batch rule runs: chunked evaluation of every
// transaction through the rule set, alert creation, risk scoring and the
// audit checkpoints that make interrupted runs resumable.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
)

// Orchestrator runs the detection rule set over stored transactions. Each
// chunk commits atomically: its alerts, risk scores and run_rules audit entry
// all land in one transaction, so a crash between chunks loses nothing and a
// resumed run continues from the last committed checkpoint.
type Orchestrator struct {
	repo       *repository.SQLRepository
	chain      *audit.Chain
	bus        domain.EventBus
	logger     *slog.Logger
	tracer     trace.Tracer
	cfg        *domain.Config
	configHash string
	ruleSet    []rules.Rule
}

// New builds an orchestrator from resolved configuration. bus may be nil;
// event publication is best effort either way.
func New(repo *repository.SQLRepository, chain *audit.Chain, bus domain.EventBus, cfg *domain.Config, configHash string, logger *slog.Logger) (*Orchestrator, error) {
	ruleSet, err := rules.FromConfig(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule set: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		repo:       repo,
		chain:      chain,
		bus:        bus,
		logger:     logger,
		tracer:     otel.Tracer("harrier/engine"),
		cfg:        cfg,
		configHash: configHash,
		ruleSet:    ruleSet,
	}, nil
}

// RunOptions control one engine run.
type RunOptions struct {
	// CorrelationID labels the run. Empty means a fresh run with a generated id.
	CorrelationID string

	// Resume continues the run identified by CorrelationID from its last
	// committed checkpoint instead of starting over.
	Resume bool

	Actor string
}

// RunResult summarizes a completed run.
type RunResult struct {
	CorrelationID string        `json:"correlationId"`
	Processed     int           `json:"processed"`
	AlertsCreated int           `json:"alertsCreated"`
	Chunks        int           `json:"chunks"`
	Duration      time.Duration `json:"duration"`
}

// Run evaluates every unprocessed transaction through the rule set. Rule
// order, chunk iteration and history queries are all deterministic, so
// re-running over the same data with the same config produces the same
// alerts regardless of chunk size.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx, span := o.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("correlation_id", correlationID),
		attribute.Bool("resume", opts.Resume),
	))
	defer span.End()

	var lastProcessedID int64
	if opts.Resume && opts.CorrelationID != "" {
		checkpoint, err := o.chain.LastRunCheckpoint(ctx, o.repo.DB(), correlationID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Nothing committed yet; start from the beginning.
		case err != nil:
			return nil, fmt.Errorf("failed to load checkpoint: %w", err)
		default:
			lastProcessedID = checkpointID(checkpoint)
		}
	}

	rulesVersion := domain.RulesVersion()
	chunkSize := o.cfg.Run.ChunkSize
	state := rules.NewRunState()
	start := time.Now()

	result := &RunResult{CorrelationID: correlationID}
	for {
		chunk, err := o.runChunk(ctx, chunkParams{
			correlationID:   correlationID,
			actor:           opts.Actor,
			rulesVersion:    rulesVersion,
			chunkSize:       chunkSize,
			chunkIndex:      result.Chunks,
			lastProcessedID: lastProcessedID,
			processedSoFar:  result.Processed,
			alertsSoFar:     result.AlertsCreated,
			runStart:        start,
			state:           state,
		})
		if err != nil {
			return nil, err
		}
		if chunk.processed == 0 {
			break
		}

		result.Processed += chunk.processed
		result.AlertsCreated += chunk.alertsCreated
		result.Chunks++
		lastProcessedID = chunk.lastProcessedID

		o.publishAlerts(ctx, chunk.alerts)

		if chunkSize <= 0 || chunk.processed < chunkSize {
			break
		}
	}
	result.Duration = time.Since(start)

	o.publishRunCompleted(ctx, result)
	o.logger.Info("rule run complete",
		"correlation_id", result.CorrelationID,
		"processed", result.Processed,
		"alerts_created", result.AlertsCreated,
		"chunks", result.Chunks,
		"duration", result.Duration,
	)
	return result, nil
}

type chunkParams struct {
	correlationID   string
	actor           string
	rulesVersion    string
	chunkSize       int
	chunkIndex      int
	lastProcessedID int64
	processedSoFar  int
	alertsSoFar     int
	runStart        time.Time
	state           *rules.RunState
}

type chunkResult struct {
	processed       int
	alertsCreated   int
	lastProcessedID int64
	alerts          []*domain.Alert
}

// runChunk processes one chunk inside a single transaction. An empty chunk
// commits nothing and writes no audit entry.
func (o *Orchestrator) runChunk(ctx context.Context, p chunkParams) (*chunkResult, error) {
	ctx, span := o.tracer.Start(ctx, "engine.chunk", trace.WithAttributes(
		attribute.Int("chunk_index", p.chunkIndex),
		attribute.Int64("after_id", p.lastProcessedID),
	))
	defer span.End()

	res := &chunkResult{lastProcessedID: p.lastProcessedID}
	err := o.repo.WithinTx(ctx, func(tx *sql.Tx) error {
		records, err := o.repo.ListTransactionsAfter(ctx, tx, p.lastProcessedID, p.chunkSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		history := o.repo.History(tx)
		for _, rec := range records {
			hits, err := o.evaluate(ctx, rec, history, p.state)
			if err != nil {
				return fmt.Errorf("transaction %d: %w", rec.ID, err)
			}

			for _, pair := range hits {
				alert, err := o.createAlert(ctx, tx, rec, pair, p)
				if err != nil {
					return err
				}
				res.alerts = append(res.alerts, alert)
				res.alertsCreated++
			}

			score, _ := scoring.ComputeRisk(rec.BaseRisk, hitsOnly(hits),
				o.cfg.Scoring.MaxScore, o.cfg.Scoring.LowThreshold, o.cfg.Scoring.MediumThreshold)
			if err := o.repo.SetTransactionRisk(ctx, tx, rec.ID, score,
				o.configHash, p.rulesVersion, domain.EngineVersion); err != nil {
				return err
			}

			res.processed++
			res.lastProcessedID = rec.ID
		}

		return o.chain.Append(ctx, tx, &domain.AuditEntry{
			CorrelationID: p.correlationID,
			Action:        domain.ActionRunRules,
			EntityType:    "batch",
			EntityID:      "all",
			Actor:         p.actor,
			Details: map[string]any{
				"processed":         p.processedSoFar + res.processed,
				"alerts_created":    p.alertsSoFar + res.alertsCreated,
				"duration_seconds":  roundSeconds(time.Since(p.runStart)),
				"config_hash":       o.configHash,
				"rules_version":     p.rulesVersion,
				"engine_version":    domain.EngineVersion,
				"chunk_index":       p.chunkIndex,
				"last_processed_id": res.lastProcessedID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ruleHit pairs a hit with the rule that produced it, for evidence stamping.
type ruleHit struct {
	rule rules.Rule
	hit  *domain.Hit
}

func (o *Orchestrator) evaluate(ctx context.Context, rec *repository.TransactionRecord, history domain.HistoryReader, state *rules.RunState) ([]ruleHit, error) {
	currency := rec.Currency
	if currency == "" {
		currency = "USD"
	}
	rc := domain.RuleContext{
		TransactionID: rec.ID,
		AccountID:     rec.AccountID,
		CustomerID:    rec.CustomerID,
		TS:            rec.TS,
		Amount:        rec.Amount,
		Currency:      currency,
		Merchant:      rec.Merchant,
		Counterparty:  rec.Counterparty,
		Country:       rec.Country,
		Channel:       rec.Channel,
		Direction:     rec.Direction,
	}

	var hits []ruleHit
	for _, rule := range o.ruleSet {
		hit, err := rule.Evaluate(ctx, rc, history, state)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID(), err)
		}
		if hit != nil {
			hits = append(hits, ruleHit{rule: rule, hit: hit})
		}
	}
	return hits, nil
}

func (o *Orchestrator) createAlert(ctx context.Context, tx *sql.Tx, rec *repository.TransactionRecord, pair ruleHit, p chunkParams) (*domain.Alert, error) {
	evidence := make(map[string]any, len(pair.hit.Evidence)+1)
	for k, v := range pair.hit.Evidence {
		evidence[k] = v
	}
	evidence["rule_hash"] = pair.rule.Hash()

	alert := &domain.Alert{
		TransactionID: rec.ID,
		RuleID:        pair.hit.RuleID,
		Severity:      pair.hit.Severity,
		ScoreDelta:    pair.hit.ScoreDelta,
		Reason:        pair.hit.Reason,
		Evidence:      evidence,
		ConfigHash:    o.configHash,
		RulesVersion:  p.rulesVersion,
		EngineVersion: domain.EngineVersion,
		CorrelationID: p.correlationID,
	}
	if err := o.repo.InsertAlert(ctx, tx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

func hitsOnly(pairs []ruleHit) []domain.Hit {
	hits := make([]domain.Hit, 0, len(pairs))
	for _, p := range pairs {
		hits = append(hits, *p.hit)
	}
	return hits
}

func checkpointID(entry *domain.AuditEntry) int64 {
	switch v := entry.Details["last_processed_id"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
