package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/org/assetgate/internal/storage"
	"github.com/org/assetgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrNotActive is returned when whitelist enforcement is enabled on a
// policy that does not exist or is inactive.
var ErrNotActive = errors.New("policy is not active")

// Recorder receives the configuration events the service emits.
type Recorder interface {
	Record(ctx context.Context, event *models.Event)
}

// Service manages the one-policy-per-(asset, opType) store. All
// mutations are last-write-wins; policies are never deleted, only
// deactivated. Mutations are serialized under one mutex — management
// traffic is rare, coarse locking is fine here.
type Service struct {
	mu       sync.Mutex
	store    storage.Backend
	recorder Recorder
}

// NewService creates a policy Service over the given storage.
func NewService(store storage.Backend, recorder Recorder) *Service {
	return &Service{store: store, recorder: recorder}
}

// Create creates or replaces the policy for (assetID, opType) and
// activates it. Replacement is in place: there is no versioning.
func (s *Service) Create(ctx context.Context, assetID, opType string, maxAmount, dailyLimit, cooldownSeconds uint64, activationTime, expirationTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pol := &models.Policy{
		AssetID:         assetID,
		OpType:          opType,
		Active:          true,
		MaxAmount:       maxAmount,
		DailyLimit:      dailyLimit,
		CooldownSeconds: cooldownSeconds,
		ActivationTime:  activationTime,
		ExpirationTime:  expirationTime,
	}
	if err := s.store.WritePolicy(ctx, pol); err != nil {
		return fmt.Errorf("writing policy: %w", err)
	}

	s.recorder.Record(ctx, &models.Event{
		Type:    models.EventPolicyCreated,
		AssetID: assetID,
		OpType:  opType,
	})
	if pol.HasTimeRestrictions() {
		s.recorder.Record(ctx, &models.Event{
			Type:    models.EventWindowSet,
			AssetID: assetID,
			OpType:  opType,
		})
	}
	log.Info().Str("asset", assetID).Str("op_type", opType).Msg("policy created")
	return nil
}

// Update mutates the activity and amount fields only; the time window
// and whitelist requirement are left untouched.
func (s *Service) Update(ctx context.Context, assetID, opType string, active bool, maxAmount, dailyLimit uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pol, err := s.store.GetPolicy(ctx, assetID, opType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("loading policy: %w", err)
	}
	pol.Active = active
	pol.MaxAmount = maxAmount
	pol.DailyLimit = dailyLimit
	if err := s.store.WritePolicy(ctx, pol); err != nil {
		return fmt.Errorf("writing policy: %w", err)
	}

	s.recorder.Record(ctx, &models.Event{
		Type:    models.EventPolicyUpdated,
		AssetID: assetID,
		OpType:  opType,
	})
	return nil
}

// SetTimeRestrictions rewrites the activation/expiration window
// independently of the other fields. Setting both to zero clears the
// window.
func (s *Service) SetTimeRestrictions(ctx context.Context, assetID, opType string, activationTime, expirationTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pol, err := s.store.GetPolicy(ctx, assetID, opType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("loading policy: %w", err)
	}
	pol.ActivationTime = activationTime
	pol.ExpirationTime = expirationTime
	if err := s.store.WritePolicy(ctx, pol); err != nil {
		return fmt.Errorf("writing policy: %w", err)
	}

	s.recorder.Record(ctx, &models.Event{
		Type:    models.EventWindowSet,
		AssetID: assetID,
		OpType:  opType,
	})
	return nil
}

// EnableWhitelistRequirement turns on whitelist enforcement. The policy
// must exist and be active — enforcing a whitelist on an inactive
// policy would silently arm a gate nothing evaluates.
func (s *Service) EnableWhitelistRequirement(ctx context.Context, assetID, opType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pol, err := s.store.GetPolicy(ctx, assetID, opType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotActive
		}
		return fmt.Errorf("loading policy: %w", err)
	}
	if !pol.Active {
		return ErrNotActive
	}
	pol.RequiresWhitelist = true
	if err := s.store.WritePolicy(ctx, pol); err != nil {
		return fmt.Errorf("writing policy: %w", err)
	}

	s.recorder.Record(ctx, &models.Event{
		Type:    models.EventWhitelistRequired,
		AssetID: assetID,
		OpType:  opType,
	})
	return nil
}

// Get returns the policy for (assetID, opType). It never fails on
// absence: a missing policy reads as a zero-valued, inactive policy,
// which the evaluator treats as "no restriction".
func (s *Service) Get(ctx context.Context, assetID, opType string) (*models.Policy, error) {
	pol, err := s.store.GetPolicy(ctx, assetID, opType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &models.Policy{AssetID: assetID, OpType: opType}, nil
		}
		return nil, fmt.Errorf("loading policy: %w", err)
	}
	return pol, nil
}

// List returns all policies, optionally filtered to one asset.
func (s *Service) List(ctx context.Context, assetID string) ([]*models.Policy, error) {
	return s.store.ListPolicies(ctx, assetID)
}
