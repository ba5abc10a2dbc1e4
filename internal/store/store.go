package store

import (
	"context"
	"time"

	"github.com/nhle/mail-followup/internal/model"
)

// EventFilter controls filtering and pagination for journal queries.
type EventFilter struct {
	Kind        *model.EventKind
	TrackingKey *string
	Code        *string
	Since       *time.Time
	Query       *string // search subject + reference
	Limit       int
	Offset      int
}

// Journal records what the engine did, for operator listings. It is an
// audit trail only; scheduling decisions never read it.
type Journal interface {
	RecordDispatch(ctx context.Context, e model.Event) error
	RecordReply(ctx context.Context, e model.Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error)
	CountByCode(ctx context.Context, since time.Time) (map[string]int, error)
}
