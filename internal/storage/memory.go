package storage

import (
	"context"
	"sync"
	"time"

	"github.com/org/assetgate/pkg/models"
)

// MemoryBackend is an in-memory Backend used by tests and the "memory"
// storage mode of the dev server. Safe for concurrent use.
type MemoryBackend struct {
	mu        sync.RWMutex
	policies  map[string]*models.Policy        // pairKey → policy
	whitelist map[string][]models.AccountID    // pairKey → members
	usage     map[string]*models.UsageRecord   // usageKey → record
	events    []*models.Event
	tokens    map[string]*models.Token // tokenHash → token
	tokenIDs  map[string]string        // tokenID → tokenHash
	nextEvent int64
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		policies:  map[string]*models.Policy{},
		whitelist: map[string][]models.AccountID{},
		usage:     map[string]*models.UsageRecord{},
		tokens:    map[string]*models.Token{},
		tokenIDs:  map[string]string{},
	}
}

func pairKey(assetID, opType string) string {
	return assetID + "\x00" + opType
}

func usageKey(assetID, opType string, principal models.AccountID) string {
	return assetID + "\x00" + opType + "\x00" + string(principal)
}

// --- Policies ---

func (m *MemoryBackend) WritePolicy(ctx context.Context, policy *models.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *policy
	m.policies[pairKey(policy.AssetID, policy.OpType)] = &cp
	return nil
}

func (m *MemoryBackend) GetPolicy(ctx context.Context, assetID, opType string) (*models.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[pairKey(assetID, opType)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryBackend) ListPolicies(ctx context.Context, assetID string) ([]*models.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Policy
	for _, p := range m.policies {
		if assetID == "" || p.AssetID == assetID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryBackend) CountPolicies(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.policies)), nil
}

// --- Whitelist ---

func (m *MemoryBackend) AddWhitelistMember(ctx context.Context, assetID, opType string, id models.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(assetID, opType)
	for _, member := range m.whitelist[key] {
		if member == id {
			return ErrAlreadyExists
		}
	}
	m.whitelist[key] = append(m.whitelist[key], id)
	return nil
}

func (m *MemoryBackend) RemoveWhitelistMember(ctx context.Context, assetID, opType string, id models.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(assetID, opType)
	members := m.whitelist[key]
	for i, member := range members {
		if member == id {
			// Swap-with-last; order carries no meaning.
			members[i] = members[len(members)-1]
			m.whitelist[key] = members[:len(members)-1]
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryBackend) IsWhitelisted(ctx context.Context, assetID, opType string, id models.AccountID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, member := range m.whitelist[pairKey(assetID, opType)] {
		if member == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryBackend) ListWhitelist(ctx context.Context, assetID, opType string) ([]models.AccountID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.whitelist[pairKey(assetID, opType)]
	out := make([]models.AccountID, len(members))
	copy(out, members)
	return out, nil
}

// --- Usage ---

func (m *MemoryBackend) GetUsage(ctx context.Context, assetID, opType string, principal models.AccountID) (*models.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.usage[usageKey(assetID, opType, principal)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryBackend) PutUsage(ctx context.Context, rec *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.usage[usageKey(rec.AssetID, rec.OpType, rec.Principal)] = &cp
	return nil
}

// --- Events ---

func (m *MemoryBackend) WriteEvent(ctx context.Context, event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEvent++
	cp := *event
	cp.ID = m.nextEvent
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryBackend) QueryEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.Event
	// Newest first, like the postgres backend.
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if filter.AssetID != "" && e.AssetID != filter.AssetID {
			continue
		}
		if filter.OpType != "" && e.OpType != filter.OpType {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Principal != models.NilAccount && e.Principal != filter.Principal {
			continue
		}
		if filter.Since != nil && e.OccurredAt.Before(*filter.Since) {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// --- Tokens ---

func (m *MemoryBackend) WriteToken(ctx context.Context, token *models.Token, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.tokens[tokenHash] = &cp
	m.tokenIDs[token.ID] = tokenHash
	return nil
}

func (m *MemoryBackend) GetToken(ctx context.Context, tokenHash string) (*models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryBackend) RevokeToken(ctx context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok := m.tokenIDs[tokenID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	m.tokens[hash].RevokedAt = &now
	return nil
}

func (m *MemoryBackend) CountActiveTokens(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, t := range m.tokens {
		if !t.IsRevoked() && !t.IsExpired() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) Close() {}
