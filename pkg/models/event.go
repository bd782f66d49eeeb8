package models

import "time"

// Audit event types. Configuration events are emitted by the policy and
// whitelist services; decision events by the evaluator.
const (
	EventPolicyCreated     = "policy.created"
	EventPolicyUpdated     = "policy.updated"
	EventWindowSet         = "policy.window_set"
	EventWindowViolation   = "policy.window_violation"
	EventWhitelistAdded    = "whitelist.added"
	EventWhitelistRemoved  = "whitelist.removed"
	EventWhitelistRequired = "whitelist.required"
	EventWhitelistViolation = "whitelist.violation"
	EventOperationValidated = "operation.validated"
)

// Event is one auditable record: a configuration change or the outcome
// of a validate call. Fields not relevant to the event type are zero.
type Event struct {
	ID         int64     `json:"id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Type       string    `json:"type"`
	AssetID    string    `json:"asset_id"`
	OpType     string    `json:"op_type"`
	Principal  AccountID `json:"principal,omitempty"`
	Target     AccountID `json:"target,omitempty"`
	Amount     uint64    `json:"amount,omitempty"`
	Approved   bool      `json:"approved"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  int64     `json:"timestamp,omitempty"` // caller-supplied now, Unix seconds
	OccurredAt time.Time `json:"occurred_at"`
}
