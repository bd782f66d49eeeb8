package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/assetgate/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// Backend defines the persistence interface for AssetGate.
//
// Per-key atomicity of the usage read-modify-write is the evaluator's
// responsibility (it holds a key lock around GetUsage/PutUsage); a
// Backend only has to make each individual call atomic.
type Backend interface {
	// Policies. GetPolicy returns ErrNotFound when no policy exists
	// for the pair; callers that want the default-allow posture map
	// that to a zero-valued (inactive) policy.
	WritePolicy(ctx context.Context, policy *models.Policy) error
	GetPolicy(ctx context.Context, assetID, opType string) (*models.Policy, error)
	ListPolicies(ctx context.Context, assetID string) ([]*models.Policy, error)
	CountPolicies(ctx context.Context) (int64, error)

	// Whitelist. AddWhitelistMember returns ErrAlreadyExists for a
	// present member; RemoveWhitelistMember returns ErrNotFound for an
	// absent one. Membership order is not meaningful.
	AddWhitelistMember(ctx context.Context, assetID, opType string, id models.AccountID) error
	RemoveWhitelistMember(ctx context.Context, assetID, opType string, id models.AccountID) error
	IsWhitelisted(ctx context.Context, assetID, opType string, id models.AccountID) (bool, error)
	ListWhitelist(ctx context.Context, assetID, opType string) ([]models.AccountID, error)

	// Usage records. GetUsage returns ErrNotFound before the first
	// approved operation for a key; PutUsage upserts.
	GetUsage(ctx context.Context, assetID, opType string, principal models.AccountID) (*models.UsageRecord, error)
	PutUsage(ctx context.Context, rec *models.UsageRecord) error

	// Audit events
	WriteEvent(ctx context.Context, event *models.Event) error
	QueryEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error)

	// Tokens. tokenHash is the SHA-256 of the plaintext token.
	WriteToken(ctx context.Context, token *models.Token, tokenHash string) error
	GetToken(ctx context.Context, tokenHash string) (*models.Token, error)
	RevokeToken(ctx context.Context, tokenID string) error
	CountActiveTokens(ctx context.Context) (int64, error)

	// Lifecycle
	Close()
}

// EventFilter specifies query parameters for audit event retrieval.
type EventFilter struct {
	AssetID   string
	OpType    string
	Type      string
	Principal models.AccountID
	Since     *time.Time
	Limit     int
	Offset    int
}
