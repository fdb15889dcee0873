// Package network builds the relationship graph the ring detection rule
// reads: aggregated edges from accounts and customers to the counterparties
// and merchants their transactions touch.
package network

import (
	"context"
	"database/sql"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

// Builder recomputes relationship edges from the full transaction history.
// Each build is a fresh aggregation: counts are overwritten, seen windows
// only widen, and edges plus their audit entry commit in one transaction.
type Builder struct {
	repo   *repository.SQLRepository
	chain  *audit.Chain
	logger *slog.Logger
}

// NewBuilder creates a network builder.
func NewBuilder(repo *repository.SQLRepository, chain *audit.Chain, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{repo: repo, chain: chain, logger: logger}
}

// BuildResult summarizes one network build.
type BuildResult struct {
	CorrelationID    string        `json:"correlationId"`
	EdgeCount        int           `json:"edgeCount"`
	TransactionCount int           `json:"transactionCount"`
	Duration         time.Duration `json:"duration"`
}

type edgeKey struct {
	srcType string
	srcID   int64
	dstType string
	dstKey  string
}

type edgeAgg struct {
	first time.Time
	last  time.Time
	count int64
}

// Build aggregates all transactions into edges and upserts them. An empty
// correlationID gets a fresh one.
func (b *Builder) Build(ctx context.Context, correlationID, actor string) (*BuildResult, error) {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	start := time.Now()

	result := &BuildResult{CorrelationID: correlationID}
	err := b.repo.WithinTx(ctx, func(tx *sql.Tx) error {
		records, err := b.repo.ListTransactionsAfter(ctx, tx, 0, 0)
		if err != nil {
			return err
		}
		result.TransactionCount = len(records)

		agg := aggregate(records)
		for _, key := range sortedKeys(agg) {
			a := agg[key]
			edge := &domain.RelationshipEdge{
				SrcType:       key.srcType,
				SrcID:         key.srcID,
				DstType:       key.dstType,
				DstKey:        key.dstKey,
				FirstSeenAt:   a.first,
				LastSeenAt:    a.last,
				TxnCount:      a.count,
				CorrelationID: correlationID,
			}
			if err := b.repo.UpsertEdge(ctx, tx, edge); err != nil {
				return err
			}
			result.EdgeCount++
		}

		result.Duration = time.Since(start)
		return b.chain.Append(ctx, tx, &domain.AuditEntry{
			CorrelationID: correlationID,
			Action:        domain.ActionNetworkBuild,
			EntityType:    "batch",
			EntityID:      "all",
			Actor:         actor,
			Details: map[string]any{
				"edge_count":        result.EdgeCount,
				"transaction_count": result.TransactionCount,
				"duration_seconds":  roundSeconds(result.Duration),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("network build complete",
		"correlation_id", result.CorrelationID,
		"edges", result.EdgeCount,
		"transactions", result.TransactionCount,
		"duration", result.Duration,
	)
	return result, nil
}

// aggregate groups transactions into edge aggregates. Counterparties produce
// both an account-level and a customer-level edge; merchants only an
// account-level one.
func aggregate(records []*repository.TransactionRecord) map[edgeKey]edgeAgg {
	agg := make(map[edgeKey]edgeAgg)

	touch := func(key edgeKey, ts time.Time) {
		a, ok := agg[key]
		if !ok {
			agg[key] = edgeAgg{first: ts, last: ts, count: 1}
			return
		}
		if ts.Before(a.first) {
			a.first = ts
		}
		if ts.After(a.last) {
			a.last = ts
		}
		a.count++
		agg[key] = a
	}

	for _, rec := range records {
		ts := rec.TS.UTC()
		counterparty := normalize(rec.Counterparty)
		merchant := normalize(rec.Merchant)

		if counterparty != "" {
			touch(edgeKey{"account", rec.AccountID, "counterparty", counterparty}, ts)
			touch(edgeKey{"customer", rec.CustomerID, "counterparty", counterparty}, ts)
		}
		if merchant != "" {
			touch(edgeKey{"account", rec.AccountID, "merchant", merchant}, ts)
		}
	}
	return agg
}

// sortedKeys orders edges so repeated builds insert rows in the same order.
func sortedKeys(agg map[edgeKey]edgeAgg) []edgeKey {
	keys := make([]edgeKey, 0, len(agg))
	for k := range agg {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.srcType != b.srcType {
			return a.srcType < b.srcType
		}
		if a.srcID != b.srcID {
			return a.srcID < b.srcID
		}
		if a.dstType != b.dstType {
			return a.dstType < b.dstType
		}
		return a.dstKey < b.dstKey
	})
	return keys
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
