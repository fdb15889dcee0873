// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"context"
)

// Repository is the read/query surface exposed to collaborators (API, CLI,
// reproduction exports). Write paths with transactional requirements live on
// the concrete repository implementation.
type Repository interface {
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)
	GetTransactionByExternalID(ctx context.Context, externalID string) (*Transaction, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
	GetCustomer(ctx context.Context, id int64) (*Customer, error)

	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
	ListEdges(ctx context.Context, correlationID string) ([]*RelationshipEdge, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AlertFilter selects alerts by the dimensions collaborators query on.
// Zero values mean "any".
type AlertFilter struct {
	RuleID        string
	Severity      string
	CorrelationID string
	Status        string
	TransactionID int64
	Limit         int
}

// AuditFilter selects audit entries. Zero values mean "any".
type AuditFilter struct {
	CorrelationID string
	Action        string
	Limit         int
}
