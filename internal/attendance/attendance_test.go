package attendance

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/internal/auth"
	"presence/internal/course"
	"presence/internal/queue"
	"presence/internal/session"
	"presence/internal/store/storetest"
)

const (
	seoulLat = 37.5665
	seoulLon = 126.9780
	nearLat  = 37.5666
	nearLon  = 126.9781
	farLat   = 37.5670
	farLon   = 126.9785
	today    = "2026-03-02"
)

var (
	kst       = time.FixedZone("KST", 9*3600)
	professor = auth.Principal{UserID: "prof", Role: auth.RoleProfessor}
	stranger  = auth.Principal{UserID: "prof2", Role: auth.RoleProfessor}
	admin     = auth.Principal{UserID: "admin", Role: auth.RoleAdmin}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	repo     *Repository
	courses  *course.Repo
	sessions *session.Controller
	svc      *Service
	rec      *Reconciler
	events   *queue.InMemory
	clock    *clock
}

func ptr(f float64) *float64 { return &f }

func newFixture(t *testing.T, lateGrace time.Duration) *fixture {
	t.Helper()
	db := storetest.NewSQLite(t)
	ctx := context.Background()

	courses := course.NewRepo(db)
	users := []course.User{
		{ID: "prof", Name: "Prof Kim", Email: "kim@example.edu", Role: auth.RoleProfessor},
		{ID: "prof2", Name: "Prof Lee", Email: "lee@example.edu", Role: auth.RoleProfessor},
		{ID: "admin", Name: "Admin", Email: "admin@example.edu", Role: auth.RoleAdmin},
		{ID: "s1", Name: "Alice", Email: "s1@example.edu", Role: auth.RoleStudent},
		{ID: "s2", Name: "Bob", Email: "s2@example.edu", Role: auth.RoleStudent},
		{ID: "s3", Name: "Chloe", Email: "s3@example.edu", Role: auth.RoleStudent},
		{ID: "s9", Name: "Outsider", Email: "s9@example.edu", Role: auth.RoleStudent},
	}
	for _, u := range users {
		require.NoError(t, courses.CreateUser(ctx, u))
	}
	require.NoError(t, courses.CreateCourse(ctx, course.Course{
		ID: "c1", Code: "CS101", Name: "Intro", ProfessorID: "prof",
		Latitude: ptr(seoulLat), Longitude: ptr(seoulLon), RadiusMeters: 50, Active: true,
		Slots: []course.Slot{{DayOfWeek: 0, Start: "09:00", End: "10:30"}},
	}))
	require.NoError(t, courses.CreateCourse(ctx, course.Course{
		ID: "c2", Code: "CS102", Name: "Roomless", ProfessorID: "prof", RadiusMeters: 50, Active: true,
	}))
	enrolled := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, courses.Enroll(ctx, "c1", id, enrolled.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, courses.Enroll(ctx, "c2", id, enrolled))
	}

	// Monday 09:05 in Seoul.
	clk := &clock{t: time.Date(2026, 3, 2, 9, 5, 0, 0, kst)}
	sessions := session.NewController(session.NewMemoryStore(time.Hour, clk.Now), nil, session.Options{
		Now:    clk.Now,
		Logger: zerolog.Nop(),
	})
	events := queue.NewInMemory(64)
	repo := NewRepository(db)
	opts := Options{Location: kst, LateGrace: lateGrace, Now: clk.Now, Events: events, Logger: zerolog.Nop()}

	return &fixture{
		repo:     repo,
		courses:  courses,
		sessions: sessions,
		svc:      NewService(repo, courses, sessions, opts),
		rec:      NewReconciler(repo, courses, opts),
		events:   events,
		clock:    clk,
	}
}

func (f *fixture) activate(t *testing.T, courseID string) string {
	t.Helper()
	snap, err := f.sessions.Activate(context.Background(), session.Key{CourseID: courseID, Date: today})
	require.NoError(t, err)
	return snap.Code.Value
}

func (f *fixture) statuses(t *testing.T, courseID string) map[string]Status {
	t.Helper()
	entries, err := f.rec.ListSheet(context.Background(), professor, courseID, today)
	require.NoError(t, err)
	out := make(map[string]Status, len(entries))
	for _, e := range entries {
		out[e.StudentID] = e.Status
	}
	return out
}

func TestCheckInSeoulGeofence(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	code := f.activate(t, "c1")

	rec, err := f.svc.CheckIn(ctx, "s1", CheckInRequest{CourseID: "c1", Code: code, Lat: nearLat, Lon: nearLon})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, rec.Status)
	assert.Equal(t, SourceAutomatic, rec.Source)
	assert.Equal(t, today, rec.Date)
	assert.True(t, f.clock.Now().Equal(rec.UpdatedAt))

	_, err = f.svc.CheckIn(ctx, "s2", CheckInRequest{CourseID: "c1", Code: code, Lat: farLat, Lon: farLon})
	require.ErrorIs(t, err, ErrLocationOutOfRange)
	var oor *OutOfRangeError
	require.True(t, errors.As(err, &oor))
	assert.InDelta(t, 70.9, oor.Distance, 1.5)
	assert.Equal(t, 50.0, oor.Radius)
	assert.Contains(t, err.Error(), "allowed 50m")

	_, err = f.repo.Get(ctx, "c1", today, "s2")
	assert.ErrorIs(t, err, sql.ErrNoRows, "failed attempts persist nothing")
}

func TestCheckInIsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	code := f.activate(t, "c1")
	req := CheckInRequest{CourseID: "c1", Code: code, Lat: nearLat, Lon: nearLon}

	first, err := f.svc.CheckIn(ctx, "s1", req)
	require.NoError(t, err)

	f.clock.Set(f.clock.Now().Add(5 * time.Second))
	_, err = f.svc.CheckIn(ctx, "s1", req)
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	stored, err := f.repo.Get(ctx, "c1", today, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, stored.Status)
	assert.True(t, first.UpdatedAt.Equal(stored.UpdatedAt), "second attempt must not touch the row")

	records, err := f.rec.ListRecords(ctx, admin, RecordFilter{CourseID: "c1"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestConcurrentCheckInsWriteOnce(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	code := f.activate(t, "c1")
	req := CheckInRequest{CourseID: "c1", Code: code, Lat: nearLat, Lon: nearLon}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dups int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CheckIn(ctx, "s1", req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyCheckedIn):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 9, dups)
}

func TestCheckInRejectsSupersededCode(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	old := f.activate(t, "c1")
	fresh := f.activate(t, "c1")
	require.NotEqual(t, old, fresh)

	_, err := f.svc.CheckIn(ctx, "s1", CheckInRequest{CourseID: "c1", Code: old, Lat: nearLat, Lon: nearLon})
	assert.ErrorIs(t, err, ErrCodeInvalidOrExpired)

	_, err = f.svc.CheckIn(ctx, "s1", CheckInRequest{CourseID: "c1", Code: fresh, Lat: nearLat, Lon: nearLon})
	assert.NoError(t, err)
}

func TestCheckInFailures(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	code := f.activate(t, "c1")
	roomless := f.activate(t, "c2")

	tests := []struct {
		name    string
		student string
		req     CheckInRequest
		want    error
	}{
		{"latitude out of range", "s1", CheckInRequest{CourseID: "c1", Code: code, Lat: 91, Lon: 0}, ErrInvalidCoordinates},
		{"unknown course", "s1", CheckInRequest{CourseID: "nope", Code: code, Lat: nearLat, Lon: nearLon}, ErrNoSuchCourse},
		{"wrong code", "s1", CheckInRequest{CourseID: "c1", Code: "000000x", Lat: nearLat, Lon: nearLon}, ErrCodeInvalidOrExpired},
		{"code of another course", "s1", CheckInRequest{CourseID: "c1", Code: roomless, Lat: nearLat, Lon: nearLon}, ErrCodeInvalidOrExpired},
		{"course without location", "s1", CheckInRequest{CourseID: "c2", Code: roomless, Lat: nearLat, Lon: nearLon}, ErrCourseLocationUnset},
		{"not enrolled", "s9", CheckInRequest{CourseID: "c1", Code: code, Lat: nearLat, Lon: nearLon}, ErrStudentNotEnrolled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CheckIn(ctx, tt.student, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, f.events.Len(), "no events for rejected check-ins")
}

func TestCheckInWithoutSession(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.svc.CheckIn(context.Background(), "s1", CheckInRequest{CourseID: "c1", Code: "123456", Lat: nearLat, Lon: nearLon})
	assert.ErrorIs(t, err, ErrCodeInvalidOrExpired)
}

func TestCheckInAfterCodeWindow(t *testing.T) {
	f := newFixture(t, 0)
	code := f.activate(t, "c1")
	f.clock.Set(f.clock.Now().Add(31 * time.Second))

	_, err := f.svc.CheckIn(context.Background(), "s1", CheckInRequest{CourseID: "c1", Code: code, Lat: nearLat, Lon: nearLon})
	assert.ErrorIs(t, err, ErrCodeInvalidOrExpired)
}

func TestLatePolicy(t *testing.T) {
	f := newFixture(t, 10*time.Minute)
	ctx := context.Background()

	code := f.activate(t, "c1")
	rec, err := f.svc.CheckIn(ctx, "s1", CheckInRequest{CourseID: "c1", Code: code, Lat: nearLat, Lon: nearLon})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, rec.Status, "09:05 is inside the grace period")

	f.clock.Set(time.Date(2026, 3, 2, 9, 11, 0, 0, kst))
	code = f.activate(t, "c1")
	rec, err = f.svc.CheckIn(ctx, "s2", CheckInRequest{CourseID: "c1", Code: code, Lat: nearLat, Lon: nearLon})
	require.NoError(t, err)
	assert.Equal(t, StatusLate, rec.Status)
}

func TestLatePolicyDisabledByDefault(t *testing.T) {
	f := newFixture(t, 0)
	f.clock.Set(time.Date(2026, 3, 2, 10, 20, 0, 0, kst))
	code := f.activate(t, "c1")

	rec, err := f.svc.CheckIn(context.Background(), "s1", CheckInRequest{CourseID: "c1", Code: code, Lat: nearLat, Lon: nearLon})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, rec.Status)
}

func TestCheckInUsesConfiguredTimezone(t *testing.T) {
	f := newFixture(t, 0)
	f.clock.Set(time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC))
	assert.Equal(t, today, f.svc.Today(), "Sunday 23:30 UTC is already Monday in Seoul")
}

func TestSheetScenario(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	entries, err := f.rec.ListSheet(ctx, professor, "c1", today)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, id := range []string{"s1", "s2", "s3"} {
		assert.Equal(t, id, entries[i].StudentID)
		assert.Equal(t, StatusNone, entries[i].Status)
	}
	assert.Equal(t, "Alice", entries[0].StudentName)

	changed, err := f.rec.BatchMarkAbsent(ctx, professor, "c1", today)
	require.NoError(t, err)
	assert.Equal(t, 3, changed)
	for _, st := range f.statuses(t, "c1") {
		assert.Equal(t, StatusAbsent, st)
	}

	changed, err = f.rec.BatchMarkAbsent(ctx, professor, "c1", today)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}

func TestBatchMarkAbsentNeverDowngrades(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	code := f.activate(t, "c1")

	_, err := f.svc.CheckIn(ctx, "s1", CheckInRequest{CourseID: "c1", Code: code, Lat: nearLat, Lon: nearLon})
	require.NoError(t, err)
	_, err = f.rec.SetStatus(ctx, professor, "c1", today, "s2", StatusLate)
	require.NoError(t, err)

	changed, err := f.rec.BatchMarkAbsent(ctx, professor, "c1", today)
	require.NoError(t, err)
	assert.Equal(t, 1, changed, "only s3 had no final status")

	assert.Equal(t, map[string]Status{"s1": StatusPresent, "s2": StatusLate, "s3": StatusAbsent}, f.statuses(t, "c1"))
}

func TestSetStatusPromotesAndDemotes(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	steps := []Status{StatusAbsent, StatusPresent, StatusLate, StatusAbsent, StatusPresent}
	for _, st := range steps {
		rec, err := f.rec.SetStatus(ctx, professor, "c1", today, "s1", st)
		require.NoError(t, err)
		assert.Equal(t, st, rec.Status)
		assert.Equal(t, SourceManual, rec.Source)
	}

	_, err := f.rec.SetStatus(ctx, professor, "c1", today, "s1", StatusNone)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = f.rec.SetStatus(ctx, professor, "c1", today, "s1", Status("EXCUSED"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = f.rec.SetStatus(ctx, professor, "c1", today, "s9", StatusPresent)
	assert.ErrorIs(t, err, ErrStudentNotEnrolled)
}

func TestManualAbsentThenCheckIn(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.rec.SetStatus(ctx, professor, "c1", today, "s1", StatusAbsent)
	require.NoError(t, err)

	code := f.activate(t, "c1")
	rec, err := f.svc.CheckIn(ctx, "s1", CheckInRequest{CourseID: "c1", Code: code, Lat: nearLat, Lon: nearLon})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, rec.Status)
	assert.Equal(t, SourceAutomatic, rec.Source)
}

func TestReconcilerAuthorization(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	student := auth.Principal{UserID: "s1", Role: auth.RoleStudent}

	_, err := f.rec.ListSheet(ctx, stranger, "c1", today)
	assert.ErrorIs(t, err, ErrNotInstructorOfCourse)
	_, err = f.rec.ListSheet(ctx, student, "c1", today)
	assert.ErrorIs(t, err, ErrNotInstructorOfCourse)
	_, err = f.rec.BatchMarkAbsent(ctx, stranger, "c1", today)
	assert.ErrorIs(t, err, ErrNotInstructorOfCourse)
	_, err = f.rec.SetStatus(ctx, student, "c1", today, "s1", StatusPresent)
	assert.ErrorIs(t, err, ErrNotInstructorOfCourse)

	_, err = f.rec.ListSheet(ctx, admin, "c1", today)
	assert.NoError(t, err)
	_, err = f.rec.ListSheet(ctx, professor, "missing", today)
	assert.ErrorIs(t, err, ErrNoSuchCourse)
	_, err = f.rec.ListSheet(ctx, professor, "c1", "02/03/2026")
	assert.ErrorIs(t, err, ErrInvalidDate)
	_, err = f.rec.ListSheet(ctx, auth.Principal{UserID: "x", Role: "GUEST"}, "c1", today)
	assert.Error(t, err)
}

func TestListRecordsIsRoleScoped(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.rec.SetStatus(ctx, professor, "c1", today, "s1", StatusPresent)
	require.NoError(t, err)
	_, err = f.rec.SetStatus(ctx, professor, "c1", today, "s2", StatusAbsent)
	require.NoError(t, err)

	mine, err := f.rec.ListRecords(ctx, auth.Principal{UserID: "s1", Role: auth.RoleStudent}, RecordFilter{StudentID: "s2"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "s1", mine[0].StudentID, "students cannot widen their scope")

	theirs, err := f.rec.ListRecords(ctx, stranger, RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, theirs)

	owned, err := f.rec.ListRecords(ctx, professor, RecordFilter{Date: today})
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	all, err := f.rec.ListRecords(ctx, admin, RecordFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.rec.ListRecords(ctx, admin, RecordFilter{Date: "yesterday"})
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestEventsFeedTheAuditTrail(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	code := f.activate(t, "c1")

	_, err := f.svc.CheckIn(ctx, "s1", CheckInRequest{CourseID: "c1", Code: code, Lat: nearLat, Lon: nearLon})
	require.NoError(t, err)
	f.clock.Set(f.clock.Now().Add(time.Minute))
	_, err = f.rec.SetStatus(ctx, professor, "c1", today, "s1", StatusLate)
	require.NoError(t, err)
	f.clock.Set(f.clock.Now().Add(time.Minute))
	_, err = f.rec.BatchMarkAbsent(ctx, professor, "c1", today)
	require.NoError(t, err)
	require.Equal(t, 3, f.events.Len())

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := f.events.Consume(consumeCtx)
	require.NoError(t, err)

	var types []string
	for i := 0; i < 3; i++ {
		msg := <-ch
		entry, err := AuditFromMessage(msg)
		require.NoError(t, err)
		require.NoError(t, f.repo.InsertAudit(ctx, entry))
		require.NoError(t, f.repo.InsertAudit(ctx, entry), "redelivery is a no-op")
		types = append(types, msg.Type)
	}
	assert.Equal(t, []string{EventCheckedIn, EventStatusSet, EventSheetClosed}, types)

	trail, err := f.repo.ListAudit(ctx, "c1", today)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, StatusPresent, trail[1].OldStatus)
	assert.Equal(t, StatusLate, trail[1].NewStatus)
	assert.Equal(t, "prof", trail[1].Actor)
	assert.Equal(t, 2, trail[2].Changed)

	_, err = AuditFromMessage(queue.Message{Type: "unknown"})
	assert.Error(t, err)
}
