package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/internal/metrics"
	"presence/internal/queue"
)

func TestAuditorRunDrainsQueue(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	code := f.activate(t, "c1")
	before := testutil.ToFloat64(metrics.AuditEntries.WithLabelValues(EventCheckedIn))

	_, err := f.svc.CheckIn(ctx, "s1", CheckInRequest{CourseID: "c1", Code: code, Lat: nearLat, Lon: nearLon})
	require.NoError(t, err)
	f.clock.Set(f.clock.Now().Add(time.Minute))
	_, err = f.rec.BatchMarkAbsent(ctx, professor, "c1", today)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewAuditor(f.repo, zerolog.Nop()).Run(runCtx, f.events) }()

	assert.Eventually(t, func() bool {
		trail, err := f.repo.ListAudit(ctx, "c1", today)
		return err == nil && len(trail) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("auditor did not stop")
	}
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuditEntries.WithLabelValues(EventCheckedIn)))
}

func TestAuditorHandleRejectsUnknownEvents(t *testing.T) {
	f := newFixture(t, 0)
	a := NewAuditor(f.repo, zerolog.Nop())

	msg, err := queue.NewMessage("record.deleted", Event{CourseID: "c1", Date: today})
	require.NoError(t, err)
	assert.Error(t, a.Handle(context.Background(), msg))

	trail, err := f.repo.ListAudit(context.Background(), "c1", today)
	require.NoError(t, err)
	assert.Empty(t, trail)
}
