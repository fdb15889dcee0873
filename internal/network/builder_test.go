package network

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

func newTestBuilder(t *testing.T) (*Builder, *repository.SQLRepository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewBuilder(repo, audit.NewChain(repo.Driver()), nil), repo
}

func seedTransactions(t *testing.T, repo *repository.SQLRepository) {
	t.Helper()
	ctx := context.Background()

	customer := &domain.Customer{Name: "Ring Customer", Country: "GB"}
	if err := repo.CreateCustomer(ctx, repo.DB(), customer); err != nil {
		t.Fatalf("failed to create customer: %v", err)
	}
	account := &domain.Account{CustomerID: customer.ID, Number: "ACC-1"}
	if err := repo.CreateAccount(ctx, repo.DB(), account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	txns := []*domain.Transaction{
		{ExternalID: "n-1", AccountID: account.ID, TS: base, Amount: 100, Currency: "GBP", Counterparty: " Acme Ltd ", Merchant: "Coffee Shop"},
		{ExternalID: "n-2", AccountID: account.ID, TS: base.Add(time.Hour), Amount: 200, Currency: "GBP", Counterparty: "ACME LTD"},
		{ExternalID: "n-3", AccountID: account.ID, TS: base.Add(2 * time.Hour), Amount: 300, Currency: "GBP", Counterparty: "Other Corp"},
		// Neither counterparty nor merchant: contributes no edges.
		{ExternalID: "n-4", AccountID: account.ID, TS: base.Add(3 * time.Hour), Amount: 50, Currency: "GBP"},
	}
	for _, txn := range txns {
		if err := repo.InsertTransaction(ctx, repo.DB(), txn); err != nil {
			t.Fatalf("failed to insert transaction: %v", err)
		}
	}
}

func TestBuildAggregatesEdges(t *testing.T) {
	builder, repo := newTestBuilder(t)
	ctx := context.Background()
	seedTransactions(t, repo)

	result, err := builder.Build(ctx, "build-1", "tester")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if result.TransactionCount != 4 {
		t.Errorf("expected 4 transactions scanned, got %d", result.TransactionCount)
	}
	// acme: account + customer, other corp: account + customer, coffee shop: account merchant.
	if result.EdgeCount != 5 {
		t.Errorf("expected 5 edges, got %d", result.EdgeCount)
	}

	edges, err := repo.ListEdges(ctx, "build-1")
	if err != nil {
		t.Fatalf("failed to list edges: %v", err)
	}
	if len(edges) != 5 {
		t.Fatalf("expected 5 stored edges, got %d", len(edges))
	}

	var acme *domain.RelationshipEdge
	for _, e := range edges {
		if e.SrcType == "account" && e.DstType == "counterparty" && e.DstKey == "acme ltd" {
			acme = e
		}
	}
	if acme == nil {
		t.Fatal("expected normalized acme edge")
	}
	if acme.TxnCount != 2 {
		t.Errorf("expected count 2 across casing variants, got %d", acme.TxnCount)
	}
	if !acme.LastSeenAt.After(acme.FirstSeenAt) {
		t.Errorf("expected widened seen window, got first=%v last=%v", acme.FirstSeenAt, acme.LastSeenAt)
	}
}

func TestBuildWritesAuditEntry(t *testing.T) {
	builder, repo := newTestBuilder(t)
	ctx := context.Background()
	seedTransactions(t, repo)

	if _, err := builder.Build(ctx, "build-1", "tester"); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	entries, err := repo.ListAuditEntries(ctx, domain.AuditFilter{
		CorrelationID: "build-1",
		Action:        domain.ActionNetworkBuild,
	})
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	details := entries[0].Details
	if details["edge_count"] != float64(5) || details["transaction_count"] != float64(4) {
		t.Errorf("unexpected audit details: %v", details)
	}
	if entries[0].Actor != "tester" {
		t.Errorf("expected actor recorded, got %q", entries[0].Actor)
	}
}

func TestRebuildOverwritesCounts(t *testing.T) {
	builder, repo := newTestBuilder(t)
	ctx := context.Background()
	seedTransactions(t, repo)

	if _, err := builder.Build(ctx, "build-1", "tester"); err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	second, err := builder.Build(ctx, "build-2", "tester")
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if second.EdgeCount != 5 {
		t.Errorf("expected same edge count on rebuild, got %d", second.EdgeCount)
	}

	edges, err := repo.ListEdges(ctx, "")
	if err != nil {
		t.Fatalf("failed to list edges: %v", err)
	}
	if len(edges) != 5 {
		t.Fatalf("expected rebuild to update in place, got %d edges", len(edges))
	}
	for _, e := range edges {
		if e.CorrelationID != "build-2" {
			t.Errorf("expected edges retagged with latest build, got %q", e.CorrelationID)
		}
		if e.DstKey == "acme ltd" && e.SrcType == "account" && e.TxnCount != 2 {
			t.Errorf("expected count overwritten to 2, got %d", e.TxnCount)
		}
	}
}

func TestBuildAssignsCorrelationID(t *testing.T) {
	builder, repo := newTestBuilder(t)
	seedTransactions(t, repo)

	result, err := builder.Build(context.Background(), "", "tester")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if result.CorrelationID == "" {
		t.Error("expected generated correlation id")
	}
}
