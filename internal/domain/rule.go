package domain

import (
	"context"
	"time"
)

// Hit is the output of one rule firing for one transaction.
type Hit struct {
	RuleID     string         `json:"ruleId"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason"`
	Evidence   map[string]any `json:"evidence,omitempty"`
	ScoreDelta float64        `json:"scoreDelta"`
}

// Severity levels for rule hits.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// RuleContext carries the fields of the transaction under evaluation plus the
// identifiers rules need for historical queries. It is plain data; history
// access goes through HistoryReader.
type RuleContext struct {
	TransactionID int64
	AccountID     int64
	CustomerID    int64
	TS            time.Time
	Amount        float64
	Currency      string
	Merchant      string
	Counterparty  string
	Country       string
	Channel       string
	Direction     string
}

// HistoryReader is the narrow query surface rules are allowed to touch.
// Implementations read committed state only, so rule output is independent
// of chunking.
type HistoryReader interface {
	// CountAccountTransactions counts transactions for an account with
	// timestamp in [from, to], inclusive on both ends.
	CountAccountTransactions(ctx context.Context, accountID int64, from, to time.Time) (int64, error)

	// CountAccountTransactionsInBand counts transactions for an account in
	// [from, to] whose amount falls in [minAmount, maxAmount).
	CountAccountTransactionsInBand(ctx context.Context, accountID int64, from, to time.Time, minAmount, maxAmount float64) (int64, error)

	// DistinctCustomerCountries returns the distinct non-empty countries seen
	// across a customer's transactions in [from, to].
	DistinctCustomerCountries(ctx context.Context, customerID int64, from, to time.Time) ([]string, error)

	// RingSignal computes the one-hop counterparty overlap for an account
	// over relationship edges whose last_seen falls within the lookback.
	RingSignal(ctx context.Context, accountID int64, lookbackDays int) (*RingSignal, error)
}
