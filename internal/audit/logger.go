// Package audit emits security events to the structured log and, when a
// store is attached, appends them to the event store. Recording never fails
// the calling operation.
package audit

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keygate-dev/keygate/domain"
)

// Recorder implements domain.AuditLogger over zerolog and an optional
// append-only event repository.
type Recorder struct {
	events domain.EventRepository
	logger zerolog.Logger
}

// NewRecorder creates a Recorder. events may be nil, in which case events are
// only logged.
func NewRecorder(events domain.EventRepository) *Recorder {
	return &Recorder{
		events: events,
		logger: zerolog.New(os.Stdout).With().Timestamp().Logger(),
	}
}

// Record logs the event and appends it to the event store. Store failures are
// logged in full but never propagated; the audit trail must not be able to
// fail a login.
func (r *Recorder) Record(ctx context.Context, event *domain.SecurityEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	entry := r.logger.Log().
		Str("kind", string(event.Kind)).
		Time("at", event.CreatedAt)
	if event.UserID != "" {
		entry = entry.Str("user_id", event.UserID)
	}
	if event.IP != "" {
		entry = entry.Str("ip", event.IP)
	}
	if event.UserAgent != "" {
		entry = entry.Str("user_agent", event.UserAgent)
	}
	for k, v := range event.Details {
		entry = entry.Str("detail_"+k, v)
	}
	entry.Msg("audit")

	if r.events != nil {
		if err := r.events.Append(ctx, event); err != nil {
			log.Error().Err(err).Str("kind", string(event.Kind)).Msg("Failed to persist audit event")
		}
	}
}

var _ domain.AuditLogger = (*Recorder)(nil)
