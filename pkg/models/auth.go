package models

import "time"

// Capability constants for API tokens.
const (
	// CapManagement grants policy/whitelist/token mutation.
	CapManagement = "management"
	// CapValidate grants the validate/preview endpoints and reads.
	CapValidate = "validate"
)

// Token represents an API token. The plaintext is shown once at
// creation; only its SHA-256 hash is stored.
type Token struct {
	ID           string
	DisplayName  string
	Capabilities []string
	TTL          time.Duration
	CreatedAt    time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
}

// HasCapability returns true if the token grants the given capability.
// Management implies validate.
func (t *Token) HasCapability(cap string) bool {
	for _, c := range t.Capabilities {
		if c == cap || c == CapManagement {
			return true
		}
	}
	return false
}

// IsExpired returns true if the token has passed its expiry time.
func (t *Token) IsExpired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// IsRevoked returns true if the token has been revoked.
func (t *Token) IsRevoked() bool {
	return t.RevokedAt != nil
}
