package event

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRecorderSnapshotsAreCopies(t *testing.T) {
	r := NewRecorder()
	payload := map[string]any{"tool_name": "search_emails"}
	require.NoError(t, r.Publish(context.Background(), Event{Type: TypeToolCallStart, Payload: payload}))

	payload["tool_name"] = "changed"
	got := r.Events()
	require.Len(t, got, 1)
	assert.Equal(t, "search_emails", got[0].Payload["tool_name"])

	got[0].Payload["tool_name"] = "again"
	assert.Equal(t, "search_emails", r.Events()[0].Payload["tool_name"])
	assert.Equal(t, []Type{TypeToolCallStart}, r.Types())
}

func TestRecorderCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewRecorder().Publish(ctx, Event{}), context.Canceled)
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	boom := errors.New("boom")
	failing := SinkFunc(func(context.Context, Event) error { return boom })

	err := Multi{a, nil, failing, b}.Publish(context.Background(), Event{Type: TypeIntercept})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)

	assert.NoError(t, Nop.Publish(context.Background(), Event{}))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	require.NoError(t, LogSink{Logger: logger}.Publish(context.Background(), Event{Type: TypeEvaluateEnd, Seq: 4, RunID: "run-1"}))
	assert.Contains(t, buf.String(), "type=evaluate_end")
	assert.Contains(t, buf.String(), "seq=4")
}

func TestBroker(t *testing.T) {
	b := NewBroker(1)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, unsubscribe := b.Subscribe(ctx)
	assert.Equal(t, 1, b.Subscribers())

	require.NoError(t, b.Publish(ctx, Event{Type: TypeToolCallStart, Seq: 0}))
	require.NoError(t, b.Publish(ctx, Event{Type: TypeIntercept, Seq: 1}))
	assert.Equal(t, uint64(1), b.Dropped())

	e := <-ch
	assert.Equal(t, TypeToolCallStart, e.Type)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())

	// context cancellation also unsubscribes
	ch2, _ := b.Subscribe(ctx)
	cancel()
	select {
	case _, open := <-ch2:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(4)
	ch, cancel := b.Subscribe(context.Background())
	b.Close()
	_, open := <-ch
	assert.False(t, open)
	cancel()

	late, _ := b.Subscribe(context.Background())
	_, open = <-late
	assert.False(t, open)
}
