package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

func newTestReporter(t *testing.T) (*Reporter, *repository.SQLRepository, *audit.Chain) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	chain := audit.NewChain(repo.Driver())
	return NewReporter(repo, chain, nil), repo, chain
}

func seedRun(t *testing.T, repo *repository.SQLRepository, chain *audit.Chain, correlationID string) int64 {
	t.Helper()
	ctx := context.Background()

	customer := &domain.Customer{Name: "Acme GmbH", Country: "DE", BaseRisk: 10}
	if err := repo.CreateCustomer(ctx, repo.DB(), customer); err != nil {
		t.Fatalf("create customer failed: %v", err)
	}
	account := &domain.Account{CustomerID: customer.ID, Number: "ACC-1"}
	if err := repo.CreateAccount(ctx, repo.DB(), account); err != nil {
		t.Fatalf("create account failed: %v", err)
	}
	txn := &domain.Transaction{
		ExternalID:   "txn-1",
		AccountID:    account.ID,
		TS:           time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		Amount:       15000,
		Currency:     "EUR",
		Counterparty: "vendor one",
		Direction:    "out",
	}
	if err := repo.InsertTransaction(ctx, repo.DB(), txn); err != nil {
		t.Fatalf("insert transaction failed: %v", err)
	}

	alert := &domain.Alert{
		TransactionID: txn.ID,
		RuleID:        "HighValueTransaction",
		Severity:      "high",
		ScoreDelta:    25,
		Reason:        "amount exceeds threshold",
		ConfigHash:    "cfg-a",
		RulesVersion:  "1.0.0",
		EngineVersion: domain.EngineVersion,
		CorrelationID: correlationID,
	}
	if err := repo.InsertAlert(ctx, repo.DB(), alert); err != nil {
		t.Fatalf("insert alert failed: %v", err)
	}

	edge := &domain.RelationshipEdge{
		SrcType:       "account",
		SrcID:         account.ID,
		DstType:       "counterparty",
		DstKey:        "vendor one",
		FirstSeenAt:   txn.TS,
		LastSeenAt:    txn.TS,
		TxnCount:      1,
		CorrelationID: correlationID,
	}
	if err := repo.UpsertEdge(ctx, repo.DB(), edge); err != nil {
		t.Fatalf("upsert edge failed: %v", err)
	}

	err := repo.WithinTx(ctx, func(tx *sql.Tx) error {
		return chain.Append(ctx, tx, &domain.AuditEntry{
			CorrelationID: correlationID,
			Action:        domain.ActionRunRules,
			EntityType:    "batch",
			EntityID:      correlationID,
			Actor:         "tester",
			Details:       map[string]any{"processed": 1, "config_hash": "cfg-a"},
		})
	})
	if err != nil {
		t.Fatalf("append audit entry failed: %v", err)
	}
	return txn.ID
}

func TestReproduceBundlesRunArtifacts(t *testing.T) {
	r, repo, chain := newTestReporter(t)
	ctx := context.Background()

	txnID := seedRun(t, repo, chain, "run-1")

	bundle, err := r.Reproduce(ctx, "run-1", "tester")
	if err != nil {
		t.Fatalf("reproduce failed: %v", err)
	}

	if bundle.Metadata.CorrelationID != "run-1" {
		t.Errorf("expected correlation id run-1, got %q", bundle.Metadata.CorrelationID)
	}
	if len(bundle.AuditEntries) != 1 {
		t.Errorf("expected 1 audit entry, got %d", len(bundle.AuditEntries))
	}
	if len(bundle.Alerts) != 1 || bundle.Alerts[0].RuleID != "HighValueTransaction" {
		t.Errorf("unexpected alerts: %+v", bundle.Alerts)
	}
	if len(bundle.Transactions) != 1 || bundle.Transactions[0].ID != txnID {
		t.Errorf("expected the alerted transaction in the bundle")
	}
	if bundle.Network.EdgeCount != 1 {
		t.Errorf("expected 1 edge, got %d", bundle.Network.EdgeCount)
	}
	if len(bundle.Config.ConfigHashes) != 1 || bundle.Config.ConfigHashes[0] != "cfg-a" {
		t.Errorf("expected single config hash cfg-a, got %v", bundle.Config.ConfigHashes)
	}
	if len(bundle.Config.EngineVersions) != 1 || bundle.Config.EngineVersions[0] != domain.EngineVersion {
		t.Errorf("expected engine version in summary, got %v", bundle.Config.EngineVersions)
	}

	// Reproduce itself leaves a report audit entry under a fresh
	// correlation id, and the chain stays intact.
	reports, err := repo.ListAuditEntries(ctx, domain.AuditFilter{Action: domain.ActionReport})
	if err != nil {
		t.Fatalf("list audit entries failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report audit entry, got %d", len(reports))
	}
	if reports[0].Details["target_correlation_id"] != "run-1" {
		t.Errorf("expected target correlation id in details, got %v", reports[0].Details)
	}
	if reports[0].CorrelationID == "run-1" {
		t.Error("expected the report entry to carry its own correlation id")
	}

	verify, err := chain.Verify(ctx, repo.DB())
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !verify.Valid {
		t.Errorf("expected valid chain after reproduce: %s", verify.Reason)
	}
}

func TestReproduceEmptyRun(t *testing.T) {
	r, _, _ := newTestReporter(t)
	ctx := context.Background()

	bundle, err := r.Reproduce(ctx, "never-ran", "tester")
	if err != nil {
		t.Fatalf("reproduce failed: %v", err)
	}
	if len(bundle.Alerts) != 0 || len(bundle.Transactions) != 0 || len(bundle.AuditEntries) != 0 {
		t.Errorf("expected empty bundle for unknown correlation id")
	}
}

func TestReproduceVersionsWithoutAlerts(t *testing.T) {
	r, repo, chain := newTestReporter(t)
	ctx := context.Background()

	// A run that raised no alerts still stamps its checkpoints.
	err := repo.WithinTx(ctx, func(tx *sql.Tx) error {
		return chain.Append(ctx, tx, &domain.AuditEntry{
			CorrelationID: "quiet-run",
			Action:        domain.ActionRunRules,
			EntityType:    "batch",
			EntityID:      "quiet-run",
			Actor:         "tester",
			Details: map[string]any{
				"processed":      5,
				"config_hash":    "cfg-q",
				"rules_version":  "1.0.0",
				"engine_version": domain.EngineVersion,
			},
		})
	})
	if err != nil {
		t.Fatalf("append audit entry failed: %v", err)
	}

	bundle, err := r.Reproduce(ctx, "quiet-run", "tester")
	if err != nil {
		t.Fatalf("reproduce failed: %v", err)
	}
	if len(bundle.Config.ConfigHashes) != 1 || bundle.Config.ConfigHashes[0] != "cfg-q" {
		t.Errorf("expected config hash from audit entry, got %v", bundle.Config.ConfigHashes)
	}
	if len(bundle.Config.RulesVersions) != 1 || bundle.Config.RulesVersions[0] != "1.0.0" {
		t.Errorf("expected rules version from audit entry, got %v", bundle.Config.RulesVersions)
	}
	if len(bundle.Config.EngineVersions) != 1 || bundle.Config.EngineVersions[0] != domain.EngineVersion {
		t.Errorf("expected engine version from audit entry, got %v", bundle.Config.EngineVersions)
	}
}

func TestWriteBundle(t *testing.T) {
	r, repo, chain := newTestReporter(t)
	ctx := context.Background()

	seedRun(t, repo, chain, "run-1")
	bundle, err := r.Reproduce(ctx, "run-1", "tester")
	if err != nil {
		t.Fatalf("reproduce failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "out", "bundle.json")
	written, err := WriteBundle(bundle, path)
	if err != nil {
		t.Fatalf("write bundle failed: %v", err)
	}

	data, err := os.ReadFile(written)
	if err != nil {
		t.Fatalf("read bundle failed: %v", err)
	}
	var decoded Bundle
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("bundle is not valid json: %v", err)
	}
	if decoded.Metadata.CorrelationID != "run-1" {
		t.Errorf("expected correlation id in written bundle, got %q", decoded.Metadata.CorrelationID)
	}
}

func TestSummarize(t *testing.T) {
	r, repo, chain := newTestReporter(t)
	ctx := context.Background()

	txnID := seedRun(t, repo, chain, "run-1")
	extra := &domain.Alert{
		TransactionID: txnID,
		RuleID:        "SanctionsKeywordMatch",
		Severity:      "high",
		ScoreDelta:    40,
		Reason:        "keyword match",
		CorrelationID: "run-1",
	}
	if err := repo.InsertAlert(ctx, repo.DB(), extra); err != nil {
		t.Fatalf("insert alert failed: %v", err)
	}

	s, err := r.Summarize(ctx, "run-1")
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if s.TotalAlerts != 2 {
		t.Errorf("expected 2 alerts, got %d", s.TotalAlerts)
	}
	if s.ByRule["HighValueTransaction"] != 1 || s.ByRule["SanctionsKeywordMatch"] != 1 {
		t.Errorf("unexpected rule counts: %v", s.ByRule)
	}
	if s.BySeverity["high"] != 2 {
		t.Errorf("expected 2 high severity alerts, got %v", s.BySeverity)
	}
}
