//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Harrier detection
// pipeline:
//
//	Ingest → Rules → Scoring → Alerts → Network → Reproduce → Chain verify
//
// Run with: go test -tags=integration -v ./tests/integration/...
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/network"
	"github.com/opensource-finance/harrier/internal/report"
	"github.com/opensource-finance/harrier/internal/repository"
)

type stack struct {
	repo         *repository.SQLRepository
	chain        *audit.Chain
	ingester     *ingest.Ingester
	orchestrator *engine.Orchestrator
	builder      *network.Builder
	reporter     *report.Reporter
}

func newStack(t *testing.T) *stack {
	t.Helper()

	cfg := domain.DefaultConfig()
	cfg.Repository.SQLitePath = filepath.Join(t.TempDir(), "pipeline.db")
	cfg.Rules.SanctionsKeyword.Keywords = []string{"sanctioned"}
	configHash, err := config.Fingerprint(cfg)
	if err != nil {
		t.Fatalf("fingerprint failed: %v", err)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	chain := audit.NewChain(repo.Driver())
	orchestrator, err := engine.New(repo, chain, nil, cfg, configHash, nil)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	return &stack{
		repo:         repo,
		chain:        chain,
		ingester:     ingest.NewIngester(repo, chain, cache.NewLRUCache(1000), cfg.Ingest, configHash, nil),
		orchestrator: orchestrator,
		builder:      network.NewBuilder(repo, chain, nil),
		reporter:     report.NewReporter(repo, chain, nil),
	}
}

func writeDataset(t *testing.T) string {
	t.Helper()

	base := time.Now().UTC().Add(-48 * time.Hour)
	lines := []string{
		// Baseline.
		jsonl("Alice Corp", "USA", "US-1", base, 500, "Acme Ltd"),
		// High value.
		jsonl("Alice Corp", "USA", "US-1", base.Add(time.Hour), 15000, "Big Payee"),
		// Sanctions keyword.
		jsonl("Bob Ltd", "GBR", "GB-1", base.Add(2*time.Hour), 1000, "sanctioned entity"),
		// Structuring: three payments at 90% of the reporting threshold.
		jsonl("Dave LLC", "DEU", "DE-1", base.Add(3*time.Hour), 8550, "Split Pay"),
		jsonl("Dave LLC", "DEU", "DE-1", base.Add(3*time.Hour+10*time.Minute), 8550, "Split Pay"),
		jsonl("Dave LLC", "DEU", "DE-1", base.Add(3*time.Hour+20*time.Minute), 8550, "Split Pay"),
	}

	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	path := filepath.Join(t.TempDir(), "txns.jsonl")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write dataset: %v", err)
	}
	return path
}

func jsonl(name, country, acct string, ts time.Time, amount float64, counterparty string) string {
	return fmt.Sprintf(
		`{"customer_name":%q,"country":%q,"iban_or_acct":%q,"ts":%q,"amount":%v,"currency":"USD","counterparty":%q,"direction":"out"}`,
		name, country, acct, ts.Format(time.RFC3339), amount, counterparty,
	)
}

func TestFullPipeline(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	path := writeDataset(t)

	// Ingest.
	ingestRes, err := s.ingester.IngestJSONL(ctx, path, ingest.Options{CorrelationID: "it-ingest", Actor: "it"})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if ingestRes.RowsInserted != 6 {
		t.Fatalf("expected 6 rows inserted, got %d", ingestRes.RowsInserted)
	}

	// Re-ingesting is a no-op.
	again, err := s.ingester.IngestJSONL(ctx, path, ingest.Options{CorrelationID: "it-ingest-2", Actor: "it"})
	if err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}
	if again.RowsInserted != 0 {
		t.Fatalf("expected idempotent re-ingest, got %d inserted", again.RowsInserted)
	}

	// Build the relationship graph.
	buildRes, err := s.builder.Build(ctx, "it-network", "it")
	if err != nil {
		t.Fatalf("network build failed: %v", err)
	}
	if buildRes.EdgeCount == 0 {
		t.Fatal("expected edges from network build")
	}

	// Run the rules.
	runRes, err := s.orchestrator.Run(ctx, engine.RunOptions{CorrelationID: "it-run", Actor: "it"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if runRes.Processed != 6 {
		t.Errorf("expected 6 transactions processed, got %d", runRes.Processed)
	}

	alerts, err := s.repo.ListAlerts(ctx, domain.AlertFilter{CorrelationID: "it-run"})
	if err != nil {
		t.Fatalf("list alerts failed: %v", err)
	}
	byRule := map[string]int{}
	for _, a := range alerts {
		byRule[a.RuleID]++
	}
	if byRule["HighValueTransaction"] != 1 {
		t.Errorf("expected 1 high-value alert, got %d", byRule["HighValueTransaction"])
	}
	if byRule["SanctionsKeywordMatch"] != 1 {
		t.Errorf("expected 1 sanctions alert, got %d", byRule["SanctionsKeywordMatch"])
	}
	if byRule["StructuringSmurfing"] == 0 {
		t.Error("expected structuring alerts")
	}

	// Resuming a finished run processes nothing further.
	resume, err := s.orchestrator.Run(ctx, engine.RunOptions{CorrelationID: "it-run", Resume: true, Actor: "it"})
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resume.Processed != 0 || resume.AlertsCreated != 0 {
		t.Errorf("expected idle resume, got %+v", resume)
	}

	// Reproduce the run.
	bundle, err := s.reporter.Reproduce(ctx, "it-run", "it")
	if err != nil {
		t.Fatalf("reproduce failed: %v", err)
	}
	if len(bundle.Alerts) != len(alerts) {
		t.Errorf("expected %d alerts in bundle, got %d", len(alerts), len(bundle.Alerts))
	}
	if len(bundle.Config.ConfigHashes) != 1 {
		t.Errorf("expected a single config hash across the run, got %v", bundle.Config.ConfigHashes)
	}

	// The whole pipeline leaves an intact chain.
	verify, err := s.chain.Verify(ctx, s.repo.DB())
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !verify.Valid {
		t.Fatalf("expected valid audit chain, broken at %d: %s", verify.BrokenID, verify.Reason)
	}
	if verify.Entries == 0 {
		t.Error("expected audit entries from the pipeline")
	}
}
