package retryqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jordanhubbard/guardian/internal/metrics"
)

func setupTestSink(t *testing.T) (*RedisSink, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	sink := NewRedisSinkWithOptions(&redis.Options{Addr: mr.Addr()}, "test:retry")
	t.Cleanup(func() { sink.Close() })
	return sink, mr
}

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	pushed  int
}

func (b *blockingSink) Push(ctx context.Context, data []byte) error {
	<-b.release
	b.mu.Lock()
	b.pushed++
	b.mu.Unlock()
	return nil
}

type failingSink struct{}

func (failingSink) Push(context.Context, []byte) error { return errors.New("sink down") }

func TestLog_LogOnly(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := metrics.New(prometheus.NewRegistry())
	q := New(zap.New(core), m, nil, 4)

	q.Log(Entry{
		Type:          EntrySkillbookUpdate,
		InteractionID: "int-1",
		UserID:        "u1",
		Reasoning:     "tag skill-001",
	})
	require.NoError(t, q.Close(context.Background()))

	entries := logs.FilterMessage("learning retry queued").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "skillbook_update", fields["type"])
	assert.Equal(t, "int-1", fields["interaction_id"])
	assert.Equal(t, "u1", fields["user_id"])
	assert.Equal(t, "tag skill-001", fields["reasoning"])
	assert.NotNil(t, fields["timestamp"])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RetryQueueEntries.WithLabelValues("skillbook_update")))
}

func TestLog_RedisRoundTrip(t *testing.T) {
	sink, mr := setupTestSink(t)
	q := New(zap.NewNop(), nil, sink, 8)

	q.Log(Entry{Type: EntryReflection, InteractionID: "int-1", UserID: "u1", Error: "timeout"})
	q.Log(Entry{Type: EntrySkillbookUpdate, InteractionID: "int-2", UserID: "u1"})
	require.NoError(t, q.Close(context.Background()))

	n, err := sink.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, mr.Exists("test:retry"))

	first, err := sink.Pop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, EntryReflection, first.Type)
	assert.Equal(t, "int-1", first.InteractionID)
	assert.Equal(t, "timeout", first.Error)
	assert.False(t, first.Timestamp.IsZero())

	second, err := sink.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "int-2", second.InteractionID)

	empty, err := sink.Pop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestLog_NeverBlocksWhenBufferFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	m := metrics.New(prometheus.NewRegistry())
	q := New(zap.NewNop(), m, sink, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			q.Log(Entry{Type: EntryReflection, InteractionID: "int"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on a stalled sink")
	}

	close(sink.release)
	require.NoError(t, q.Close(context.Background()))

	sink.mu.Lock()
	pushed := sink.pushed
	sink.mu.Unlock()
	dropped := int(testutil.ToFloat64(m.RetryQueueDropped))
	assert.Equal(t, 10, pushed+dropped)
	assert.GreaterOrEqual(t, dropped, 8)
}

func TestLog_AfterCloseIsDropped(t *testing.T) {
	sink, _ := setupTestSink(t)
	m := metrics.New(prometheus.NewRegistry())
	q := New(zap.NewNop(), m, sink, 4)
	require.NoError(t, q.Close(context.Background()))
	require.NoError(t, q.Close(context.Background()))

	assert.NotPanics(t, func() {
		q.Log(Entry{Type: EntryReflection, InteractionID: "late"})
	})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RetryQueueDropped))
}

func TestSinkFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	q := New(zap.New(core), nil, failingSink{}, 4)

	q.Log(Entry{Type: EntryReflection, InteractionID: "int-1"})
	require.NoError(t, q.Close(context.Background()))

	assert.Equal(t, 1, logs.FilterMessage("failed to persist retry entry").Len())
}

func TestClose_RespectsContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	q := New(zap.NewNop(), nil, sink, 4)
	q.Log(Entry{Type: EntryReflection})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)

	close(sink.release)
}

func TestNewRedisSink(t *testing.T) {
	_, mr := setupTestSink(t)

	sink, err := NewRedisSink("redis://"+mr.Addr()+"/0", "k")
	require.NoError(t, err)
	defer sink.Close()
	assert.NoError(t, sink.Ping(context.Background()))

	_, err = NewRedisSink("://bad", "k")
	assert.Error(t, err)

	_, err = NewRedisSink("redis://"+mr.Addr(), "")
	assert.Error(t, err)
}

func TestPop_CorruptEntry(t *testing.T) {
	sink, mr := setupTestSink(t)
	_, err := mr.Lpush("test:retry", "not json")
	require.NoError(t, err)

	_, err = sink.Pop(context.Background())
	assert.Error(t, err)
}
