package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	CourseID string `json:"course_id"`
	Count    int    `json:"count"`
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage("sheet.closed", payload{CourseID: "c1", Count: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "sheet.closed", msg.Type)

	var p payload
	require.NoError(t, msg.Decode(&p))
	assert.Equal(t, payload{CourseID: "c1", Count: 3}, p)

	_, err = NewMessage("bad", make(chan int))
	assert.Error(t, err)
}

func TestInMemoryQueue(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg, err := NewMessage("record.checked_in", payload{CourseID: "c1"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))
	assert.Equal(t, 1, q.Len())

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	got := receive(t, ch)
	assert.Equal(t, msg.ID, got.ID)

	cancel()
	for range ch {
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "b"}), context.DeadlineExceeded)
}

func TestRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueue(client, "", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := NewMessage("record.checked_in", payload{CourseID: "c1", Count: 1})
	require.NoError(t, err)
	second, err := NewMessage("record.status_set", payload{CourseID: "c1", Count: 2})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, first))
	_, err = mr.Lpush("attendance:events", "not json")
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, second))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	got := receive(t, ch)
	assert.Equal(t, first.ID, got.ID)
	var p payload
	require.NoError(t, got.Decode(&p))
	assert.Equal(t, 1, p.Count)

	got = receive(t, ch)
	assert.Equal(t, second.ID, got.ID, "malformed entries are skipped")

	cancel()
	for range ch {
	}
}
