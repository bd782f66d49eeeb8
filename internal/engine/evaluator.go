package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/org/assetgate/internal/storage"
	"github.com/org/assetgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Denial reasons. These strings are stable API: integrating layers
// branch on them, so they must never be reworded.
const (
	ReasonNotYetActive           = "Policy not yet active"
	ReasonExpired                = "Policy has expired"
	ReasonTargetRequired         = "Target address required for transfer whitelist check"
	ReasonTargetNotWhitelisted   = "Target address not whitelisted"
	ReasonOperatorNotWhitelisted = "Operator address not whitelisted"
	ReasonAmountExceedsLimit     = "Amount exceeds policy limit"
	ReasonDailyLimitExceeded     = "Daily limit exceeded"
	ReasonCooldownActive         = "Cooldown period not elapsed"
)

// Store is the minimal interface the Evaluator needs from storage.
type Store interface {
	GetPolicy(ctx context.Context, assetID, opType string) (*models.Policy, error)
	IsWhitelisted(ctx context.Context, assetID, opType string, id models.AccountID) (bool, error)
	GetUsage(ctx context.Context, assetID, opType string, principal models.AccountID) (*models.UsageRecord, error)
	PutUsage(ctx context.Context, rec *models.UsageRecord) error
}

// Recorder receives the decision events Validate emits.
type Recorder interface {
	Record(ctx context.Context, event *models.Event)
}

// Evaluator answers whether a requested operation is permitted under
// the (asset, opType) policy. Validate mutates usage state on approval;
// Preview never does.
type Evaluator struct {
	store    Store
	usage    usageLedger
	recorder Recorder
	locks    keyLocks
}

// NewEvaluator creates an Evaluator over the given store. The recorder
// may be nil, in which case no decision events are emitted.
func NewEvaluator(store Store, recorder Recorder) *Evaluator {
	return &Evaluator{
		store:    store,
		usage:    usageLedger{store: store},
		recorder: recorder,
	}
}

// Validate decides whether the operation is permitted and, on approval,
// commits the amount to the principal's usage state. Rules run in a
// fixed order and short-circuit on the first failure: time window,
// whitelist, per-operation cap, daily quota, cooldown. A missing or
// inactive policy approves unconditionally (default allow).
//
// now is the caller's clock in Unix seconds; the engine never reads the
// wall clock. The returned error is reserved for storage failures —
// a denial is a normal result, not an error.
func (e *Evaluator) Validate(ctx context.Context, assetID string, principal, target models.AccountID, opType string, amount uint64, now int64) (models.Decision, error) {
	pol, err := e.store.GetPolicy(ctx, assetID, opType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return e.approve(ctx, assetID, principal, opType, amount, now)
		}
		return models.Decision{}, fmt.Errorf("loading policy: %w", err)
	}
	if !pol.Active {
		return e.approve(ctx, assetID, principal, opType, amount, now)
	}

	if pol.HasTimeRestrictions() {
		if reason := checkWindow(pol, now); reason != "" {
			e.emit(ctx, &models.Event{
				Type:      models.EventWindowViolation,
				AssetID:   assetID,
				OpType:    opType,
				Principal: principal,
				Reason:    reason,
				Timestamp: now,
			})
			return models.Decision{Approved: false, Reason: reason}, nil
		}
	}

	if pol.RequiresWhitelist {
		reason, err := e.checkWhitelist(ctx, assetID, principal, target, opType)
		if err != nil {
			return models.Decision{}, err
		}
		if reason != "" {
			e.emit(ctx, &models.Event{
				Type:      models.EventWhitelistViolation,
				AssetID:   assetID,
				OpType:    opType,
				Principal: principal,
				Target:    target,
				Reason:    reason,
				Timestamp: now,
			})
			return models.Decision{Approved: false, Reason: reason}, nil
		}
	}

	if pol.CapsAmount() && amount > pol.MaxAmount {
		return e.deny(ctx, assetID, principal, opType, amount, now, ReasonAmountExceedsLimit), nil
	}

	// The quota and cooldown checks and the usage write must observe a
	// consistent record: racing validates on the same key must not both
	// commit against the same stale total.
	unlock := e.locks.lock(usageLockKey(assetID, opType, principal))
	defer unlock()

	if pol.DailyLimit > 0 {
		total, err := e.usage.dailyTotal(ctx, assetID, opType, principal, now)
		if err != nil {
			return models.Decision{}, fmt.Errorf("reading usage: %w", err)
		}
		if exceedsQuota(total, amount, pol.DailyLimit) {
			return e.deny(ctx, assetID, principal, opType, amount, now, ReasonDailyLimitExceeded), nil
		}
	}

	if pol.CooldownSeconds > 0 {
		last, err := e.usage.lastOperation(ctx, assetID, opType, principal)
		if err != nil {
			return models.Decision{}, fmt.Errorf("reading usage: %w", err)
		}
		if now-last < int64(pol.CooldownSeconds) {
			return e.deny(ctx, assetID, principal, opType, amount, now, ReasonCooldownActive), nil
		}
	}

	if err := e.usage.record(ctx, assetID, opType, principal, amount, now); err != nil {
		return models.Decision{}, fmt.Errorf("recording usage: %w", err)
	}
	return e.approve(ctx, assetID, principal, opType, amount, now)
}

// Preview runs the whitelist, per-operation cap, daily quota and
// cooldown checks without touching usage state.
//
// Two deliberate divergences from Validate, both load-bearing for
// integrators: the time-window rule is NOT evaluated, so an expired or
// not-yet-active policy still previews as approved; and with no target
// parameter the whitelist rule always checks the principal, even for
// transfer-class operation types.
func (e *Evaluator) Preview(ctx context.Context, assetID string, principal models.AccountID, opType string, amount uint64, now int64) (models.Decision, error) {
	pol, err := e.store.GetPolicy(ctx, assetID, opType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Decision{Approved: true}, nil
		}
		return models.Decision{}, fmt.Errorf("loading policy: %w", err)
	}
	if !pol.Active {
		return models.Decision{Approved: true}, nil
	}

	if pol.RequiresWhitelist {
		ok, err := e.store.IsWhitelisted(ctx, assetID, opType, principal)
		if err != nil {
			return models.Decision{}, fmt.Errorf("checking whitelist: %w", err)
		}
		if !ok {
			return models.Decision{Approved: false, Reason: ReasonOperatorNotWhitelisted}, nil
		}
	}

	if pol.CapsAmount() && amount > pol.MaxAmount {
		return models.Decision{Approved: false, Reason: ReasonAmountExceedsLimit}, nil
	}

	if pol.DailyLimit > 0 {
		total, err := e.usage.dailyTotal(ctx, assetID, opType, principal, now)
		if err != nil {
			return models.Decision{}, fmt.Errorf("reading usage: %w", err)
		}
		if exceedsQuota(total, amount, pol.DailyLimit) {
			return models.Decision{Approved: false, Reason: ReasonDailyLimitExceeded}, nil
		}
	}

	if pol.CooldownSeconds > 0 {
		last, err := e.usage.lastOperation(ctx, assetID, opType, principal)
		if err != nil {
			return models.Decision{}, fmt.Errorf("reading usage: %w", err)
		}
		if now-last < int64(pol.CooldownSeconds) {
			return models.Decision{Approved: false, Reason: ReasonCooldownActive}, nil
		}
	}

	return models.Decision{Approved: true}, nil
}

// checkWindow returns the denial reason for the time-window rule, or ""
// when the window admits now. Activation is inclusive; expiration is
// exclusive, so now == ExpirationTime is still allowed.
func checkWindow(pol *models.Policy, now int64) string {
	if pol.ActivationTime > 0 && now < pol.ActivationTime {
		return ReasonNotYetActive
	}
	if pol.ExpirationTime > 0 && now > pol.ExpirationTime {
		return ReasonExpired
	}
	return ""
}

// checkWhitelist returns the denial reason for the whitelist rule, or
// "" when the relevant party is a member. Transfer-class operations
// gate on the target; everything else gates on the principal.
func (e *Evaluator) checkWhitelist(ctx context.Context, assetID string, principal, target models.AccountID, opType string) (string, error) {
	if models.IsTransferClass(opType) {
		if target.IsNil() {
			return ReasonTargetRequired, nil
		}
		ok, err := e.store.IsWhitelisted(ctx, assetID, opType, target)
		if err != nil {
			return "", fmt.Errorf("checking whitelist: %w", err)
		}
		if !ok {
			return ReasonTargetNotWhitelisted, nil
		}
		return "", nil
	}
	ok, err := e.store.IsWhitelisted(ctx, assetID, opType, principal)
	if err != nil {
		return "", fmt.Errorf("checking whitelist: %w", err)
	}
	if !ok {
		return ReasonOperatorNotWhitelisted, nil
	}
	return "", nil
}

func (e *Evaluator) approve(ctx context.Context, assetID string, principal models.AccountID, opType string, amount uint64, now int64) (models.Decision, error) {
	e.emit(ctx, &models.Event{
		Type:      models.EventOperationValidated,
		AssetID:   assetID,
		OpType:    opType,
		Principal: principal,
		Amount:    amount,
		Approved:  true,
		Timestamp: now,
	})
	return models.Decision{Approved: true}, nil
}

func (e *Evaluator) deny(ctx context.Context, assetID string, principal models.AccountID, opType string, amount uint64, now int64, reason string) models.Decision {
	log.Debug().
		Str("asset", assetID).
		Str("op_type", opType).
		Str("principal", string(principal)).
		Str("reason", reason).
		Msg("operation denied")
	e.emit(ctx, &models.Event{
		Type:      models.EventOperationValidated,
		AssetID:   assetID,
		OpType:    opType,
		Principal: principal,
		Amount:    amount,
		Approved:  false,
		Reason:    reason,
		Timestamp: now,
	})
	return models.Decision{Approved: false, Reason: reason}
}

func (e *Evaluator) emit(ctx context.Context, event *models.Event) {
	if e.recorder != nil {
		e.recorder.Record(ctx, event)
	}
}

// exceedsQuota reports whether total+amount would exceed limit, without
// computing the uint64 sum: total+amount can wrap, and a wrapped sum
// compares small.
func exceedsQuota(total, amount, limit uint64) bool {
	return amount > limit || total > limit-amount
}

func usageLockKey(assetID, opType string, principal models.AccountID) string {
	return assetID + "\x00" + opType + "\x00" + string(principal)
}
