package models

// AccountID is an opaque identifier for a principal or counterparty.
// The engine only compares these values; it attaches no meaning to
// their contents — they come from whatever identity layer the
// integrating system uses.
type AccountID string

// NilAccount is the reserved "no counterparty" sentinel. It can never
// be a whitelist member and is rejected by every single-item mutation.
const NilAccount AccountID = ""

// IsNil reports whether the identifier is the null sentinel.
func (a AccountID) IsNil() bool {
	return a == NilAccount
}
