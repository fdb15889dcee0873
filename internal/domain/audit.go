package domain

import (
	"time"
)

// AuditEntry is one link of the global, append-only audit hash chain.
// PrevHash is the RowHash of the most recently committed entry across the
// entire log (empty for the first entry); RowHash covers PrevHash plus the
// canonical encoding of the business fields. Retroactive edits break the
// chain and are detectable by verification.
type AuditEntry struct {
	ID            int64          `json:"id"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Action        string         `json:"action"`
	EntityType    string         `json:"entityType"`
	EntityID      string         `json:"entityId"`
	TS            time.Time      `json:"ts"`
	Actor         string         `json:"actor"`
	Details       map[string]any `json:"details,omitempty"`
	PrevHash      string         `json:"prevHash,omitempty"`
	RowHash       string         `json:"rowHash,omitempty"`
}

// Audit actions written by the engine.
const (
	ActionIngest       = "ingest"
	ActionRunRules     = "run_rules"
	ActionNetworkBuild = "network_build"
	ActionReport       = "report"
)

// DefaultActor is recorded when the caller supplies no actor label.
const DefaultActor = "system"
