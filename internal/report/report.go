// Package report reconstructs what a run produced. Given a correlation id it
// bundles the audit trail, alerts, touched transactions and network edges
// into a single exportable document, and summarizes alert volumes.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

// Reporter builds run exports and summaries.
type Reporter struct {
	repo   *repository.SQLRepository
	chain  *audit.Chain
	logger *slog.Logger
}

// NewReporter creates a reporter.
func NewReporter(repo *repository.SQLRepository, chain *audit.Chain, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{repo: repo, chain: chain, logger: logger}
}

// Bundle is the reproducibility export for one correlation id.
type Bundle struct {
	Metadata     BundleMetadata        `json:"metadata"`
	Config       ConfigSummary         `json:"config"`
	AuditEntries []*domain.AuditEntry  `json:"auditEntries"`
	Alerts       []*domain.Alert       `json:"alerts"`
	Transactions []*domain.Transaction `json:"transactions"`
	Network      NetworkSection        `json:"network"`
}

// BundleMetadata records when and for which run the bundle was produced.
type BundleMetadata struct {
	GeneratedAt   time.Time `json:"generatedAt"`
	CorrelationID string    `json:"correlationId"`
}

// ConfigSummary collects the version fingerprints observed across the run's
// artifacts. More than one entry in any list means the run's output mixes
// configurations and is not reproducible from a single config.
type ConfigSummary struct {
	ConfigHashes   []string `json:"configHashes"`
	RulesVersions  []string `json:"rulesVersions"`
	EngineVersions []string `json:"engineVersions"`
}

// NetworkSection holds the relationship edges tagged by the run.
type NetworkSection struct {
	EdgeCount int                        `json:"edgeCount"`
	Edges     []*domain.RelationshipEdge `json:"edges"`
}

// Summary aggregates alert volumes for one correlation id.
type Summary struct {
	CorrelationID string         `json:"correlationId"`
	TotalAlerts   int            `json:"totalAlerts"`
	ByRule        map[string]int `json:"byRule"`
	BySeverity    map[string]int `json:"bySeverity"`
}

// Reproduce gathers everything tied to a correlation id and writes a report
// audit entry under a fresh correlation id.
func (r *Reporter) Reproduce(ctx context.Context, correlationID, actor string) (*Bundle, error) {
	if actor == "" {
		actor = domain.DefaultActor
	}

	bundle := &Bundle{
		Metadata: BundleMetadata{
			GeneratedAt:   time.Now().UTC(),
			CorrelationID: correlationID,
		},
	}

	entries, err := r.repo.ListAuditEntries(ctx, domain.AuditFilter{CorrelationID: correlationID})
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	bundle.AuditEntries = entries

	alerts, err := r.repo.ListAlerts(ctx, domain.AlertFilter{CorrelationID: correlationID})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	sort.Slice(alerts, func(a, b int) bool { return alerts[a].ID < alerts[b].ID })
	bundle.Alerts = alerts

	configHashes := map[string]struct{}{}
	rulesVersions := map[string]struct{}{}
	engineVersions := map[string]struct{}{}
	for _, e := range entries {
		if ch, ok := e.Details["config_hash"].(string); ok && ch != "" {
			configHashes[ch] = struct{}{}
		}
		if rv, ok := e.Details["rules_version"].(string); ok && rv != "" {
			rulesVersions[rv] = struct{}{}
		}
		if ev, ok := e.Details["engine_version"].(string); ok && ev != "" {
			engineVersions[ev] = struct{}{}
		}
	}

	txnIDs := map[int64]struct{}{}
	for _, a := range alerts {
		txnIDs[a.TransactionID] = struct{}{}
		if a.ConfigHash != "" {
			configHashes[a.ConfigHash] = struct{}{}
		}
		if a.RulesVersion != "" {
			rulesVersions[a.RulesVersion] = struct{}{}
		}
		if a.EngineVersion != "" {
			engineVersions[a.EngineVersion] = struct{}{}
		}
	}

	ids := make([]int64, 0, len(txnIDs))
	for id := range txnIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	for _, id := range ids {
		txn, err := r.repo.GetTransaction(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load transaction %d: %w", id, err)
		}
		bundle.Transactions = append(bundle.Transactions, txn)
	}

	edges, err := r.repo.ListEdges(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	bundle.Network = NetworkSection{EdgeCount: len(edges), Edges: edges}

	bundle.Config = ConfigSummary{
		ConfigHashes:   sortedKeys(configHashes),
		RulesVersions:  sortedKeys(rulesVersions),
		EngineVersions: sortedKeys(engineVersions),
	}

	err = r.repo.WithinTx(ctx, func(tx *sql.Tx) error {
		return r.chain.Append(ctx, tx, &domain.AuditEntry{
			CorrelationID: uuid.New().String(),
			Action:        domain.ActionReport,
			EntityType:    "run",
			EntityID:      correlationID,
			Actor:         actor,
			Details: map[string]any{
				"target_correlation_id": correlationID,
				"alert_count":           len(bundle.Alerts),
				"transaction_count":     len(bundle.Transactions),
				"audit_entry_count":     len(bundle.AuditEntries),
				"edge_count":            bundle.Network.EdgeCount,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("write report audit entry: %w", err)
	}

	r.logger.Info("reproduce bundle built",
		"correlation_id", correlationID,
		"alerts", len(bundle.Alerts),
		"transactions", len(bundle.Transactions),
		"audit_entries", len(bundle.AuditEntries),
	)
	return bundle, nil
}

// WriteBundle serializes a bundle to disk. When path is empty it writes
// reproduce_<correlation id>.json in the working directory.
func WriteBundle(bundle *Bundle, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("reproduce_%s.json", bundle.Metadata.CorrelationID)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Summarize counts alerts by rule and severity for a correlation id.
func (r *Reporter) Summarize(ctx context.Context, correlationID string) (*Summary, error) {
	alerts, err := r.repo.ListAlerts(ctx, domain.AlertFilter{CorrelationID: correlationID})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	s := &Summary{
		CorrelationID: correlationID,
		TotalAlerts:   len(alerts),
		ByRule:        make(map[string]int),
		BySeverity:    make(map[string]int),
	}
	for _, a := range alerts {
		s.ByRule[a.RuleID]++
		s.BySeverity[a.Severity]++
	}
	return s, nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
