package engine

import (
	"context"
	"errors"
	"math"

	"github.com/org/assetgate/internal/storage"
	"github.com/org/assetgate/pkg/models"
)

// usageLedger wraps the usage-record storage with the day-bucket
// semantics: a record whose DayIndex is stale counts as zero for quota
// purposes and is reset lazily on the next write.
type usageLedger struct {
	store Store
}

// peek returns the stored record, or nil when the principal has never
// had an approved operation for this key.
func (l usageLedger) peek(ctx context.Context, assetID, opType string, principal models.AccountID) (*models.UsageRecord, error) {
	rec, err := l.store.GetUsage(ctx, assetID, opType, principal)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// dailyTotal projects the cumulative approved amount for the day bucket
// containing now.
func (l usageLedger) dailyTotal(ctx context.Context, assetID, opType string, principal models.AccountID, now int64) (uint64, error) {
	rec, err := l.peek(ctx, assetID, opType, principal)
	if err != nil {
		return 0, err
	}
	if rec == nil || rec.DayIndex != models.DayBucket(now) {
		return 0, nil
	}
	return rec.DailyTotal, nil
}

// lastOperation returns the timestamp of the most recent approved
// operation, or 0 when there has never been one.
func (l usageLedger) lastOperation(ctx context.Context, assetID, opType string, principal models.AccountID) (int64, error) {
	rec, err := l.peek(ctx, assetID, opType, principal)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, nil
	}
	return rec.LastOperationTime, nil
}

// record adds an approved amount to the current day bucket and stamps
// the operation time. Callers must hold the key lock.
func (l usageLedger) record(ctx context.Context, assetID, opType string, principal models.AccountID, amount uint64, now int64) error {
	rec, err := l.peek(ctx, assetID, opType, principal)
	if err != nil {
		return err
	}
	bucket := models.DayBucket(now)
	if rec == nil {
		rec = &models.UsageRecord{
			AssetID:   assetID,
			OpType:    opType,
			Principal: principal,
		}
	}
	if rec.DayIndex != bucket {
		rec.DayIndex = bucket
		rec.DailyTotal = 0
	}
	// Saturate rather than wrap: with no daily limit configured the
	// running total can reach the top of the range.
	if amount > math.MaxUint64-rec.DailyTotal {
		rec.DailyTotal = math.MaxUint64
	} else {
		rec.DailyTotal += amount
	}
	rec.LastOperationTime = now
	return l.store.PutUsage(ctx, rec)
}
