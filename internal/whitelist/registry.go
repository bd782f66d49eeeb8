package whitelist

import (
	"context"
	"errors"
	"fmt"

	"github.com/org/assetgate/internal/storage"
	"github.com/org/assetgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrNilAccount is returned when the null identifier is passed to a
// single-item mutation.
var ErrNilAccount = errors.New("account id is the null identifier")

// ErrAlreadyMember is returned when adding an identifier that is
// already whitelisted.
var ErrAlreadyMember = errors.New("account already whitelisted")

// ErrNotMember is returned when removing an identifier that is not
// whitelisted.
var ErrNotMember = errors.New("account not whitelisted")

// Recorder receives the whitelist events the registry emits.
type Recorder interface {
	Record(ctx context.Context, event *models.Event)
}

// Registry manages the per (asset, opType) whitelist sets. The sets are
// unordered; removal may reorder the backing collection, so callers
// must never rely on membership order.
type Registry struct {
	store    storage.Backend
	recorder Recorder
}

// NewRegistry creates a Registry over the given storage.
func NewRegistry(store storage.Backend, recorder Recorder) *Registry {
	return &Registry{store: store, recorder: recorder}
}

// Add inserts one identifier. Nil and duplicate identifiers are hard
// failures — operator error, never a silent no-op.
func (r *Registry) Add(ctx context.Context, assetID, opType string, id models.AccountID) error {
	if id.IsNil() {
		return ErrNilAccount
	}
	if err := r.store.AddWhitelistMember(ctx, assetID, opType, id); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("adding whitelist member: %w", err)
	}
	r.recorder.Record(ctx, &models.Event{
		Type:    models.EventWhitelistAdded,
		AssetID: assetID,
		OpType:  opType,
		Target:  id,
	})
	return nil
}

// AddBatch inserts every novel, non-nil identifier and silently skips
// the rest. Bad entries never fail the batch: bulk onboarding of
// hundreds of accounts must not abort on one duplicate.
func (r *Registry) AddBatch(ctx context.Context, assetID, opType string, ids []models.AccountID) (int, error) {
	added := 0
	for _, id := range ids {
		if id.IsNil() {
			continue
		}
		if err := r.store.AddWhitelistMember(ctx, assetID, opType, id); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			return added, fmt.Errorf("adding whitelist member: %w", err)
		}
		r.recorder.Record(ctx, &models.Event{
			Type:    models.EventWhitelistAdded,
			AssetID: assetID,
			OpType:  opType,
			Target:  id,
		})
		added++
	}
	log.Info().
		Str("asset", assetID).
		Str("op_type", opType).
		Int("requested", len(ids)).
		Int("added", added).
		Msg("whitelist batch applied")
	return added, nil
}

// Remove deletes one identifier; removing a non-member is a hard
// failure.
func (r *Registry) Remove(ctx context.Context, assetID, opType string, id models.AccountID) error {
	if err := r.store.RemoveWhitelistMember(ctx, assetID, opType, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotMember
		}
		return fmt.Errorf("removing whitelist member: %w", err)
	}
	r.recorder.Record(ctx, &models.Event{
		Type:    models.EventWhitelistRemoved,
		AssetID: assetID,
		OpType:  opType,
		Target:  id,
	})
	return nil
}

// IsWhitelisted reports membership.
func (r *Registry) IsWhitelisted(ctx context.Context, assetID, opType string, id models.AccountID) (bool, error) {
	return r.store.IsWhitelisted(ctx, assetID, opType, id)
}

// List returns the members of the set in no particular order.
func (r *Registry) List(ctx context.Context, assetID, opType string) ([]models.AccountID, error) {
	return r.store.ListWhitelist(ctx, assetID, opType)
}
