package domain

import (
	"time"
)

// Customer is a monitored party. BaseRisk seeds the risk score of every
// transaction attributed to the customer.
type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Country   string    `json:"country"` // ISO 3166 alpha-2/3
	BaseRisk  float64   `json:"baseRisk"`
	CreatedAt time.Time `json:"createdAt"`
}

// Account belongs to a customer and owns transactions.
type Account struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customerId"`
	Number     string    `json:"number"` // IBAN or account number, unique
	CreatedAt  time.Time `json:"createdAt"`
}

// Transaction is an immutable business record once ingested. The engine only
// ever writes the risk fields (RiskScore, ConfigHash, RulesVersion,
// EngineVersion); everything else is fixed at ingestion time.
type Transaction struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"externalId"` // unique; derived or upstream-supplied
	AccountID  int64  `json:"accountId"`

	TS       time.Time `json:"ts"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`

	Merchant     string `json:"merchant,omitempty"`
	Counterparty string `json:"counterparty,omitempty"`
	Country      string `json:"country,omitempty"`
	Channel      string `json:"channel,omitempty"`
	Direction    string `json:"direction,omitempty"` // in/out

	Metadata map[string]any `json:"metadata,omitempty"`

	// Engine-written fields, set exactly once per run.
	RiskScore     *float64 `json:"riskScore,omitempty"`
	ConfigHash    string   `json:"configHash,omitempty"`
	RulesVersion  string   `json:"rulesVersion,omitempty"`
	EngineVersion string   `json:"engineVersion,omitempty"`
}

// Alert is created when a detection rule fires for a transaction. Status and
// Disposition are mutated only by case-management workflows, never by the
// engine.
type Alert struct {
	ID            int64          `json:"id"`
	TransactionID int64          `json:"transactionId"`
	RuleID        string         `json:"ruleId"`
	Severity      string         `json:"severity"`
	ScoreDelta    float64        `json:"scoreDelta"`
	Reason        string         `json:"reason"`
	Evidence      map[string]any `json:"evidence,omitempty"`
	ConfigHash    string         `json:"configHash,omitempty"`
	RulesVersion  string         `json:"rulesVersion,omitempty"`
	EngineVersion string         `json:"engineVersion,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Status        string         `json:"status"`
	Disposition   string         `json:"disposition,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     *time.Time     `json:"updatedAt,omitempty"`
}

// Alert status values. Only AlertStatusOpen is written by the engine.
const (
	AlertStatusOpen      = "open"
	AlertStatusClosed    = "closed"
	AlertStatusEscalated = "escalated"
)

// RelationshipEdge is an aggregated summary of one (source, destination) pair
// observed across transactions. Unique per (SrcType, SrcID, DstType, DstKey);
// the count is recomputed from a full aggregation on every network build.
type RelationshipEdge struct {
	ID            int64     `json:"id"`
	SrcType       string    `json:"srcType"` // "account" or "customer"
	SrcID         int64     `json:"srcId"`
	DstType       string    `json:"dstType"` // "counterparty" or "merchant"
	DstKey        string    `json:"dstKey"`  // normalized (trimmed, lowercased)
	FirstSeenAt   time.Time `json:"firstSeenAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
	TxnCount      int64     `json:"txnCount"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// RingSignal is the one-hop overlap metric for an account: how many other
// accounts share counterparties with it inside a lookback window.
type RingSignal struct {
	OverlapCount         int      `json:"overlapCount"`
	SharedCounterparties []string `json:"sharedCounterparties"`
	LinkedAccounts       []int64  `json:"linkedAccounts"`
	Degree               int      `json:"degree"`
}
