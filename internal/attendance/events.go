package attendance

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"presence/internal/queue"
)

// Event types published after a record change is committed.
const (
	EventCheckedIn   = "record.checked_in"
	EventStatusSet   = "record.status_set"
	EventSheetClosed = "sheet.closed"
)

// Event describes a committed change to one or more records.
type Event struct {
	CourseID   string    `json:"course_id"`
	Date       string    `json:"date"`
	StudentID  string    `json:"student_id,omitempty"`
	OldStatus  Status    `json:"old_status,omitempty"`
	NewStatus  Status    `json:"new_status"`
	Source     Source    `json:"source"`
	Actor      string    `json:"actor"`
	Changed    int       `json:"changed"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher is the part of a queue the attendance services write to.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// emit publishes ev. The change is already committed, so failures are
// logged and never surfaced to the caller.
func emit(ctx context.Context, p Publisher, log zerolog.Logger, typ string, ev Event) {
	if p == nil {
		return
	}
	msg, err := queue.NewMessage(typ, ev)
	if err == nil {
		err = p.Publish(ctx, msg)
	}
	if err != nil {
		log.Warn().Err(err).
			Str("event", typ).
			Str("course_id", ev.CourseID).
			Str("date", ev.Date).
			Msg("failed to publish attendance event")
	}
}
