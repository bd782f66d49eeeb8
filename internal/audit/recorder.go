package audit

import (
	"context"
	"time"

	"github.com/org/assetgate/internal/storage"
	"github.com/org/assetgate/pkg/models"
	"github.com/rs/zerolog/log"
)

type contextKey string

const ctxKeyRequestID contextKey = "request_id"

// WithRequestID attaches a request ID to the context. Events recorded
// under this context carry the ID so decisions can be correlated with
// the API request that produced them.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext returns the request ID, or "" when none is set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// Recorder writes audit events through storage.
type Recorder struct {
	store storage.Backend
}

// NewRecorder creates a Recorder backed by the given storage.
func NewRecorder(store storage.Backend) *Recorder {
	return &Recorder{store: store}
}

// Record persists one audit event. Fire and forget — an audit write
// failure must not turn an approved operation into an error, but it is
// logged so operators notice the gap.
func (r *Recorder) Record(ctx context.Context, event *models.Event) {
	event.OccurredAt = time.Now().UTC()
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	if err := r.store.WriteEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("audit write failed")
	}
}

// Query retrieves audit events matching the filter, newest first.
func (r *Recorder) Query(ctx context.Context, filter storage.EventFilter) ([]*models.Event, error) {
	return r.store.QueryEvents(ctx, filter)
}
