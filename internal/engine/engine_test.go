package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

type testEngine struct {
	orch *Orchestrator
	repo *repository.SQLRepository
	cfg  *domain.Config
}

func newTestEngine(t *testing.T, mutate func(cfg *domain.Config)) *testEngine {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cfg := domain.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	orch, err := New(repo, audit.NewChain(repo.Driver()), nil, cfg, "cfg-test", nil)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	return &testEngine{orch: orch, repo: repo, cfg: cfg}
}

func (te *testEngine) seedAccount(t *testing.T, baseRisk float64, number string) *domain.Account {
	t.Helper()
	ctx := context.Background()

	customer := &domain.Customer{Name: "Customer " + number, Country: "GB", BaseRisk: baseRisk}
	if err := te.repo.CreateCustomer(ctx, te.repo.DB(), customer); err != nil {
		t.Fatalf("failed to create customer: %v", err)
	}
	account := &domain.Account{CustomerID: customer.ID, Number: number}
	if err := te.repo.CreateAccount(ctx, te.repo.DB(), account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	return account
}

func (te *testEngine) seedTransaction(t *testing.T, txn *domain.Transaction) *domain.Transaction {
	t.Helper()
	if err := te.repo.InsertTransaction(context.Background(), te.repo.DB(), txn); err != nil {
		t.Fatalf("failed to insert transaction: %v", err)
	}
	return txn
}

func TestRunHighValueScenario(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	account := te.seedAccount(t, 10, "ACC-HV")
	txn := te.seedTransaction(t, &domain.Transaction{
		ExternalID: "hv-1", AccountID: account.ID,
		TS: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), Amount: 15000, Currency: "USD",
	})

	result, err := te.orch.Run(ctx, RunOptions{Actor: "tester"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Processed != 1 || result.AlertsCreated != 1 {
		t.Fatalf("expected (1 processed, 1 alert), got (%d, %d)", result.Processed, result.AlertsCreated)
	}

	alerts, err := te.repo.ListAlerts(ctx, domain.AlertFilter{CorrelationID: result.CorrelationID})
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].RuleID != "HighValueTransaction" {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}
	if alerts[0].ConfigHash != "cfg-test" || alerts[0].EngineVersion != domain.EngineVersion {
		t.Errorf("version stamps missing: %+v", alerts[0])
	}
	if alerts[0].Evidence["rule_hash"] == nil {
		t.Error("expected rule_hash in evidence")
	}

	// Base risk 10 + delta 25 = 35.
	scored, err := te.repo.GetTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatalf("failed to get transaction: %v", err)
	}
	if scored.RiskScore == nil || *scored.RiskScore != 35 {
		t.Errorf("expected risk score 35, got %v", scored.RiskScore)
	}
}

func TestRunStructuringScenario(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	account := te.seedAccount(t, 0, "ACC-ST")
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		te.seedTransaction(t, &domain.Transaction{
			ExternalID: fmt.Sprintf("st-%d", i), AccountID: account.ID,
			TS: base.Add(time.Duration(i*15) * time.Minute), Amount: 8550, Currency: "USD",
		})
	}

	result, err := te.orch.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	alerts, err := te.repo.ListAlerts(ctx, domain.AlertFilter{RuleID: "StructuringSmurfing"})
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	// The cluster completes at the third transaction; earlier ones see too few.
	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 structuring alert, got %d", len(alerts))
	}
	if alerts[0].Evidence["count"] != float64(3) {
		t.Errorf("expected evidence count 3, got %v", alerts[0].Evidence["count"])
	}
	if result.AlertsCreated != 1 {
		t.Errorf("expected 1 alert total, got %d", result.AlertsCreated)
	}
}

func TestRunNetworkRingScenario(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	recent := time.Now().UTC().AddDate(0, 0, -2)
	accounts := make([]*domain.Account, 3)
	for i := range accounts {
		accounts[i] = te.seedAccount(t, 0, fmt.Sprintf("ACC-R%d", i))
		te.seedTransaction(t, &domain.Transaction{
			ExternalID: fmt.Sprintf("ring-%d", i), AccountID: accounts[i].ID,
			TS: recent, Amount: 100, Currency: "USD",
		})
	}

	// All three accounts share the same two counterparties.
	for _, account := range accounts {
		for _, vendor := range []string{"vendor-a", "vendor-b"} {
			edge := &domain.RelationshipEdge{
				SrcType: "account", SrcID: account.ID,
				DstType: "counterparty", DstKey: vendor,
				FirstSeenAt: recent, LastSeenAt: recent, TxnCount: 1,
			}
			if err := te.repo.UpsertEdge(ctx, te.repo.DB(), edge); err != nil {
				t.Fatalf("failed to seed edge: %v", err)
			}
		}
	}

	result, err := te.orch.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	alerts, err := te.repo.ListAlerts(ctx, domain.AlertFilter{RuleID: "NetworkRingIndicator"})
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("expected one ring alert per account, got %d", len(alerts))
	}
	if result.AlertsCreated != 3 {
		t.Errorf("expected 3 alerts total, got %d", result.AlertsCreated)
	}
}

func TestRunNetworkRingDedupAcrossChunks(t *testing.T) {
	te := newTestEngine(t, func(cfg *domain.Config) {
		cfg.Run.ChunkSize = 1
	})
	ctx := context.Background()

	recent := time.Now().UTC().AddDate(0, 0, -2)
	account := te.seedAccount(t, 0, "ACC-DUP")
	other := te.seedAccount(t, 0, "ACC-OTHER")
	another := te.seedAccount(t, 0, "ACC-ANOTHER")

	// Multiple transactions from the ringed account, split across chunks.
	for i := 0; i < 3; i++ {
		te.seedTransaction(t, &domain.Transaction{
			ExternalID: fmt.Sprintf("dup-%d", i), AccountID: account.ID,
			TS: recent.Add(time.Duration(i) * time.Hour), Amount: 100, Currency: "USD",
		})
	}
	for _, acct := range []*domain.Account{account, other, another} {
		for _, vendor := range []string{"vendor-a", "vendor-b"} {
			edge := &domain.RelationshipEdge{
				SrcType: "account", SrcID: acct.ID,
				DstType: "counterparty", DstKey: vendor,
				FirstSeenAt: recent, LastSeenAt: recent, TxnCount: 1,
			}
			if err := te.repo.UpsertEdge(ctx, te.repo.DB(), edge); err != nil {
				t.Fatalf("failed to seed edge: %v", err)
			}
		}
	}

	if _, err := te.orch.Run(ctx, RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	alerts, err := te.repo.ListAlerts(ctx, domain.AlertFilter{RuleID: "NetworkRingIndicator"})
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	// Dedup state spans chunk boundaries within one run.
	if len(alerts) != 1 {
		t.Errorf("expected 1 ring alert despite 3 transactions across chunks, got %d", len(alerts))
	}
}

func seedMixedDataset(t *testing.T, te *testEngine) {
	t.Helper()

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	accountA := te.seedAccount(t, 10, "MIX-A")
	accountB := te.seedAccount(t, 5, "MIX-B")

	te.seedTransaction(t, &domain.Transaction{
		ExternalID: "mix-1", AccountID: accountA.ID, TS: base,
		Amount: 12000, Currency: "USD", Counterparty: "Vendor One", Direction: "out",
	})
	for i := 0; i < 3; i++ {
		te.seedTransaction(t, &domain.Transaction{
			ExternalID: fmt.Sprintf("mix-st-%d", i), AccountID: accountB.ID,
			TS: base.Add(time.Duration(i*10) * time.Minute), Amount: 9000, Currency: "USD",
		})
	}
	te.seedTransaction(t, &domain.Transaction{
		ExternalID: "mix-2", AccountID: accountA.ID, TS: base.Add(2 * time.Hour),
		Amount: 300, Currency: "USD", Counterparty: "Vendor Two", Direction: "out",
	})
}

func collectRunOutput(t *testing.T, te *testEngine, correlationID string) map[string]string {
	t.Helper()
	ctx := context.Background()

	out := make(map[string]string)
	alerts, err := te.repo.ListAlerts(ctx, domain.AlertFilter{CorrelationID: correlationID})
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	for _, a := range alerts {
		txn, err := te.repo.GetTransaction(ctx, a.TransactionID)
		if err != nil {
			t.Fatalf("failed to get transaction: %v", err)
		}
		key := txn.ExternalID + "/" + a.RuleID
		out[key] = fmt.Sprintf("%s:%.1f", a.Severity, a.ScoreDelta)
	}

	records, err := te.repo.ListTransactionsAfter(ctx, te.repo.DB(), 0, 0)
	if err != nil {
		t.Fatalf("failed to list transactions: %v", err)
	}
	for _, rec := range records {
		if rec.RiskScore != nil {
			out["score/"+rec.ExternalID] = fmt.Sprintf("%.2f", *rec.RiskScore)
		}
	}
	return out
}

func TestRunChunkInvariance(t *testing.T) {
	unchunked := newTestEngine(t, func(cfg *domain.Config) { cfg.Run.ChunkSize = 0 })
	chunked := newTestEngine(t, func(cfg *domain.Config) { cfg.Run.ChunkSize = 2 })

	seedMixedDataset(t, unchunked)
	seedMixedDataset(t, chunked)

	ctx := context.Background()
	resultU, err := unchunked.orch.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("unchunked run failed: %v", err)
	}
	resultC, err := chunked.orch.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("chunked run failed: %v", err)
	}

	if resultU.Processed != resultC.Processed || resultU.AlertsCreated != resultC.AlertsCreated {
		t.Errorf("chunking changed totals: (%d, %d) vs (%d, %d)",
			resultU.Processed, resultU.AlertsCreated, resultC.Processed, resultC.AlertsCreated)
	}
	if resultC.Chunks != 3 {
		t.Errorf("expected 3 chunks of 2 over 5 transactions, got %d", resultC.Chunks)
	}

	outU := collectRunOutput(t, unchunked, resultU.CorrelationID)
	outC := collectRunOutput(t, chunked, resultC.CorrelationID)
	if len(outU) != len(outC) {
		t.Fatalf("output size mismatch: %d vs %d", len(outU), len(outC))
	}
	for key, want := range outU {
		if got, ok := outC[key]; !ok || got != want {
			t.Errorf("chunked output differs at %s: want %q, got %q", key, want, got)
		}
	}
}

func TestRunDeterminism(t *testing.T) {
	first := newTestEngine(t, nil)
	second := newTestEngine(t, nil)
	seedMixedDataset(t, first)
	seedMixedDataset(t, second)

	ctx := context.Background()
	r1, err := first.orch.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	r2, err := second.orch.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	out1 := collectRunOutput(t, first, r1.CorrelationID)
	out2 := collectRunOutput(t, second, r2.CorrelationID)
	if len(out1) != len(out2) {
		t.Fatalf("output size mismatch: %d vs %d", len(out1), len(out2))
	}
	for key, want := range out1 {
		if out2[key] != want {
			t.Errorf("runs differ at %s: %q vs %q", key, want, out2[key])
		}
	}
}

func TestRunResume(t *testing.T) {
	te := newTestEngine(t, func(cfg *domain.Config) { cfg.Run.ChunkSize = 2 })
	ctx := context.Background()

	account := te.seedAccount(t, 0, "ACC-RES")
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		te.seedTransaction(t, &domain.Transaction{
			ExternalID: fmt.Sprintf("res-%d", i), AccountID: account.ID,
			TS: base.Add(time.Duration(i) * time.Hour), Amount: 100, Currency: "USD",
		})
	}

	first, err := te.orch.Run(ctx, RunOptions{Actor: "tester"})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.Processed != 4 {
		t.Fatalf("expected 4 processed, got %d", first.Processed)
	}

	// New data arrives after the run completed.
	te.seedTransaction(t, &domain.Transaction{
		ExternalID: "res-late-1", AccountID: account.ID,
		TS: base.Add(10 * time.Hour), Amount: 100, Currency: "USD",
	})
	te.seedTransaction(t, &domain.Transaction{
		ExternalID: "res-late-2", AccountID: account.ID,
		TS: base.Add(11 * time.Hour), Amount: 100, Currency: "USD",
	})

	resumed, err := te.orch.Run(ctx, RunOptions{
		CorrelationID: first.CorrelationID,
		Resume:        true,
		Actor:         "tester",
	})
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.Processed != 2 {
		t.Errorf("expected resume to process only new transactions, got %d", resumed.Processed)
	}

	// Resuming again with nothing new is a no-op and writes no audit entry.
	before, err := te.repo.ListAuditEntries(ctx, domain.AuditFilter{CorrelationID: first.CorrelationID})
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	again, err := te.orch.Run(ctx, RunOptions{
		CorrelationID: first.CorrelationID,
		Resume:        true,
	})
	if err != nil {
		t.Fatalf("second resume failed: %v", err)
	}
	if again.Processed != 0 {
		t.Errorf("expected idle resume, processed %d", again.Processed)
	}
	after, err := te.repo.ListAuditEntries(ctx, domain.AuditFilter{CorrelationID: first.CorrelationID})
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("idle resume wrote %d new audit entries", len(after)-len(before))
	}
}

func TestRunWritesCheckpoints(t *testing.T) {
	te := newTestEngine(t, func(cfg *domain.Config) { cfg.Run.ChunkSize = 2 })
	ctx := context.Background()

	account := te.seedAccount(t, 0, "ACC-CHK")
	for i := 0; i < 5; i++ {
		te.seedTransaction(t, &domain.Transaction{
			ExternalID: fmt.Sprintf("chk-%d", i), AccountID: account.ID,
			TS: time.Date(2025, 3, 1, 9+i, 0, 0, 0, time.UTC), Amount: 100, Currency: "USD",
		})
	}

	result, err := te.orch.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Chunks != 3 {
		t.Fatalf("expected 3 chunks, got %d", result.Chunks)
	}

	entries, err := te.repo.ListAuditEntries(ctx, domain.AuditFilter{
		CorrelationID: result.CorrelationID,
		Action:        domain.ActionRunRules,
	})
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected one audit entry per chunk, got %d", len(entries))
	}

	last := entries[len(entries)-1].Details
	if last["processed"] != float64(5) {
		t.Errorf("expected cumulative processed 5, got %v", last["processed"])
	}
	if last["chunk_index"] != float64(2) {
		t.Errorf("expected chunk_index 2, got %v", last["chunk_index"])
	}
	if last["config_hash"] != "cfg-test" {
		t.Errorf("expected config hash in checkpoint, got %v", last["config_hash"])
	}

	// The whole run leaves a verifiable chain.
	chain := audit.NewChain(te.repo.Driver())
	res, err := chain.Verify(ctx, te.repo.DB())
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !res.Valid {
		t.Errorf("expected valid chain after run, broken at %d: %s", res.BrokenID, res.Reason)
	}
}

func TestRunEmptyDatabase(t *testing.T) {
	te := newTestEngine(t, nil)

	result, err := te.orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Processed != 0 || result.AlertsCreated != 0 || result.Chunks != 0 {
		t.Errorf("expected empty run, got %+v", result)
	}

	entries, err := te.repo.ListAuditEntries(context.Background(), domain.AuditFilter{})
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no audit entries for empty run, got %d", len(entries))
	}
}
