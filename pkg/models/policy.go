package models

import "time"

// Operation type tags known to the HTTP boundary. The core treats the
// tag as an opaque string; only the API layer rejects unknown tags.
const (
	OpTransfer = "TRANSFER"
	OpMint     = "MINT"
	OpBurn     = "BURN"
)

// KnownOpType returns true if the tag is one of the recognized
// operation types. Used at the API edge to catch typos early.
func KnownOpType(opType string) bool {
	switch opType {
	case OpTransfer, OpMint, OpBurn:
		return true
	}
	return false
}

// IsTransferClass returns true for operation types that move value to a
// counterparty. Transfer-class operations are whitelist-checked against
// the target; everything else is checked against the principal.
func IsTransferClass(opType string) bool {
	return opType == OpTransfer
}

// SecondsPerDay is the width of the daily-quota bucket.
const SecondsPerDay = 86400

// DayBucket returns the coarse day index for a Unix-seconds timestamp.
func DayBucket(now int64) int64 {
	return now / SecondsPerDay
}

// Policy is the configured set of limits and gates for one
// (asset, operation type) pair. At most one policy exists per pair;
// writes replace in place. A zero value for any limit field means
// "unrestricted" for that rule.
type Policy struct {
	AssetID           string `json:"asset_id"`
	OpType            string `json:"op_type"`
	Active            bool   `json:"active"`
	MaxAmount         uint64 `json:"max_amount"`       // 0 = no per-operation cap
	DailyLimit        uint64 `json:"daily_limit"`      // 0 = no daily cap
	CooldownSeconds   uint64 `json:"cooldown_seconds"` // 0 = no cooldown
	ActivationTime    int64  `json:"activation_time"`  // 0 = immediately active
	ExpirationTime    int64  `json:"expiration_time"`  // 0 = never expires
	RequiresWhitelist bool   `json:"requires_whitelist"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// HasTimeRestrictions reports whether the policy carries an activation
// or expiration boundary.
func (p *Policy) HasTimeRestrictions() bool {
	return p.ActivationTime > 0 || p.ExpirationTime > 0
}

// CapsAmount reports whether the policy carries a per-operation cap.
// MaxAmount == 0 encodes "no cap" on the wire, so callers must never
// compare the raw field against an amount without this guard.
func (p *Policy) CapsAmount() bool {
	return p.MaxAmount > 0
}

// UsageRecord is the per (asset, opType, principal) usage state backing
// the daily-limit and cooldown rules. DailyTotal is only meaningful
// while DayIndex matches the current day bucket; a stale bucket counts
// as zero and is reset lazily on the next approved write.
type UsageRecord struct {
	AssetID           string    `json:"asset_id"`
	OpType            string    `json:"op_type"`
	Principal         AccountID `json:"principal"`
	DayIndex          int64     `json:"day_index"`
	DailyTotal        uint64    `json:"daily_total"`
	LastOperationTime int64     `json:"last_operation_time"`
}

// Decision is the engine's answer for one requested operation.
// A denial always carries a stable, specific reason string.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}
