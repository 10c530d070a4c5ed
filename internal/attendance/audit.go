package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"presence/internal/metrics"
	"presence/internal/queue"
	"presence/internal/store"
)

// AuditEntry is the durable trace of one published event.
type AuditEntry struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	CourseID   string    `json:"course_id"`
	Date       string    `json:"date"`
	StudentID  string    `json:"student_id,omitempty"`
	OldStatus  Status    `json:"old_status,omitempty"`
	NewStatus  Status    `json:"new_status"`
	Source     Source    `json:"source"`
	Actor      string    `json:"actor"`
	Changed    int       `json:"changed"`
	OccurredAt time.Time `json:"occurred_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AuditFromMessage decodes a queued event into an audit entry keyed by
// the message id, so redelivered messages are written once.
func AuditFromMessage(msg queue.Message) (AuditEntry, error) {
	switch msg.Type {
	case EventCheckedIn, EventStatusSet, EventSheetClosed:
	default:
		return AuditEntry{}, fmt.Errorf("unknown event type %q", msg.Type)
	}
	var ev Event
	if err := msg.Decode(&ev); err != nil {
		return AuditEntry{}, fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	return AuditEntry{
		ID:         msg.ID,
		Type:       msg.Type,
		CourseID:   ev.CourseID,
		Date:       ev.Date,
		StudentID:  ev.StudentID,
		OldStatus:  ev.OldStatus,
		NewStatus:  ev.NewStatus,
		Source:     ev.Source,
		Actor:      ev.Actor,
		Changed:    ev.Changed,
		OccurredAt: ev.OccurredAt,
	}, nil
}

// InsertAudit stores an entry. Inserting the same id twice is a no-op.
func (r *Repository) InsertAudit(ctx context.Context, e AuditEntry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO attendance_audit
		   (id, event_type, course_id, meeting_date, student_id, old_status, new_status, source, actor, changed, occurred_at, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`),
		e.ID, e.Type, e.CourseID, e.Date, e.StudentID, string(e.OldStatus), string(e.NewStatus),
		string(e.Source), e.Actor, e.Changed, e.OccurredAt.UTC(), e.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", e.ID, err)
	}
	return nil
}

// ListAudit returns the audit trail of one meeting in the order events happened.
func (r *Repository) ListAudit(ctx context.Context, courseID, date string) ([]AuditEntry, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(
		`SELECT id, event_type, course_id, meeting_date, student_id, old_status, new_status, source, actor, changed, occurred_at, recorded_at
		 FROM attendance_audit
		 WHERE course_id = ? AND meeting_date = ?
		 ORDER BY occurred_at, id`), courseID, date)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                         AuditEntry
			oldStatus, newStatus, src string
			occurred, recorded        store.Timestamp
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.CourseID, &e.Date, &e.StudentID, &oldStatus, &newStatus,
			&src, &e.Actor, &e.Changed, &occurred, &recorded); err != nil {
			return nil, err
		}
		e.OldStatus, e.NewStatus, e.Source = Status(oldStatus), Status(newStatus), Source(src)
		e.OccurredAt, e.RecordedAt = occurred.Time, recorded.Time
		out = append(out, e)
	}
	return out, rows.Err()
}

// Auditor writes consumed events to the audit trail.
type Auditor struct {
	repo *Repository
	log  zerolog.Logger
}

// NewAuditor creates an auditor writing through repo.
func NewAuditor(repo *Repository, log zerolog.Logger) *Auditor {
	return &Auditor{repo: repo, log: log}
}

// Run consumes q until ctx ends. Messages that fail are logged and skipped.
func (a *Auditor) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for msg := range messages {
		if err := a.Handle(ctx, msg); err != nil {
			a.log.Error().Err(err).Str("message_id", msg.ID).Str("type", msg.Type).Msg("audit failed")
		}
	}
	return nil
}

// Handle writes one message to the audit trail.
func (a *Auditor) Handle(ctx context.Context, msg queue.Message) error {
	entry, err := AuditFromMessage(msg)
	if err != nil {
		return err
	}
	if err := a.repo.InsertAudit(ctx, entry); err != nil {
		return err
	}
	metrics.AuditEntries.WithLabelValues(msg.Type).Inc()
	a.log.Debug().Str("message_id", msg.ID).Str("type", msg.Type).Str("course_id", entry.CourseID).Msg("audited")
	return nil
}
