package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/org/assetgate/internal/storage"
	"github.com/org/assetgate/pkg/models"
	"github.com/rs/zerolog/log"
)

const tokenPrefix = "agt_"

// TokenService handles API token creation, validation and revocation.
// Tokens are opaque random strings; only their SHA-256 hash is stored.
// The management capability itself is expected to come from whatever
// identity layer deploys this service — here it is simply a capability
// carried by the token.
type TokenService struct {
	store storage.Backend
}

// NewTokenService creates a TokenService backed by the given storage.
func NewTokenService(store storage.Backend) *TokenService {
	return &TokenService{store: store}
}

// CreateToken generates a new token with the given capabilities and
// persists it. Returns the token model and the plaintext token string
// (shown once to the caller).
func (s *TokenService) CreateToken(ctx context.Context, displayName string, capabilities []string, ttl time.Duration) (*models.Token, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}
	plaintext := tokenPrefix + base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	t := &models.Token{
		ID:           uuid.NewString(),
		DisplayName:  displayName,
		Capabilities: capabilities,
		TTL:          ttl,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
	}
	if err := s.store.WriteToken(ctx, t, HashToken(plaintext)); err != nil {
		return nil, "", fmt.Errorf("persisting token: %w", err)
	}
	return t, plaintext, nil
}

// ValidateToken looks up a token by its plaintext value.
// Returns an error if not found, expired, or revoked.
func (s *TokenService) ValidateToken(ctx context.Context, plaintext string) (*models.Token, error) {
	token, err := s.store.GetToken(ctx, HashToken(plaintext))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.New("invalid token")
		}
		return nil, err
	}
	if token.IsRevoked() {
		return nil, errors.New("token has been revoked")
	}
	if token.IsExpired() {
		return nil, errors.New("token has expired")
	}
	return token, nil
}

// RevokeToken revokes a token by ID.
func (s *TokenService) RevokeToken(ctx context.Context, tokenID string) error {
	return s.store.RevokeToken(ctx, tokenID)
}

// Bootstrap creates the initial management token when the store holds
// no active tokens, and returns its plaintext. Returns "" when a token
// already exists.
func (s *TokenService) Bootstrap(ctx context.Context) (string, error) {
	n, err := s.store.CountActiveTokens(ctx)
	if err != nil {
		return "", fmt.Errorf("counting tokens: %w", err)
	}
	if n > 0 {
		return "", nil
	}
	_, plaintext, err := s.CreateToken(ctx, "bootstrap", []string{models.CapManagement}, 0)
	if err != nil {
		return "", err
	}
	log.Info().Msg("bootstrap management token created")
	return plaintext, nil
}

// HashToken returns the SHA-256 hex hash of a plaintext token. Exported for use by middleware.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
