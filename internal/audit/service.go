package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"schoolbook/internal/apperr"
	"schoolbook/internal/feed"
	"schoolbook/internal/metrics"
)

// Store is the persistence collaborator for the audit log.
type Store interface {
	AppendLogEntry(ctx context.Context, e Entry) error
	ListLogEntries(ctx context.Context) ([]Entry, error)
	// ClearLogEntries wipes all entries after persisting the marker, as one
	// atomic step. The marker survives the wipe.
	ClearLogEntries(ctx context.Context, m ClearMarker) error
	LastClearMarker(ctx context.Context) (*ClearMarker, error)
}

// Service owns the append-only audit log.
type Service struct {
	store Store
	feed  feed.Feed // optional fan-out, nil disables
}

// NewService creates an audit service. The feed may be nil.
func NewService(store Store, f feed.Feed) *Service {
	return &Service{store: store, feed: f}
}

// Record appends a new entry for an action performed by actor. The payload
// is marshaled as the action-specific snapshot.
func (s *Service) Record(ctx context.Context, action string, actor Actor, payload any) (Entry, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Entry{}, fmt.Errorf("marshal audit payload: %w", err)
		}
		raw = b
	}

	e := Entry{
		ID:        uuid.NewString(),
		Action:    action,
		Payload:   raw,
		ActorRole: actor.Role,
		ActorName: actor.Name,
		When:      time.Now().UTC(),
	}
	if err := s.store.AppendLogEntry(ctx, e); err != nil {
		return Entry{}, err
	}
	metrics.AuditEntries.WithLabelValues(action).Inc()

	if s.feed != nil {
		body, _ := json.Marshal(e)
		if err := s.feed.Publish(ctx, feed.Message{Action: action, Body: body}); err != nil {
			log.Printf("audit feed publish failed: %v", err)
		}
	}
	return e, nil
}

// Entries returns the log, newest first.
func (s *Service) Entries(ctx context.Context) ([]Entry, error) {
	return s.store.ListLogEntries(ctx)
}

// Clear wipes the log. Principal only. The clear marker is written before
// the wipe and remains queryable afterwards.
func (s *Service) Clear(ctx context.Context, actor Actor) error {
	if actor.Role != RolePrincipal {
		return apperr.Permission("only principal can clear data log")
	}
	return s.store.ClearLogEntries(ctx, ClearMarker{
		ClearedBy: actor.Role,
		ClearedAt: time.Now().UTC(),
	})
}

// LastClear returns the most recent clear marker, or nil when the log has
// never been cleared.
func (s *Service) LastClear(ctx context.Context) (*ClearMarker, error) {
	return s.store.LastClearMarker(ctx)
}
