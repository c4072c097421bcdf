// Package retryqueue records learning work that failed and should be run
// again later. Logging an entry never blocks and never fails the caller.
package retryqueue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/internal/metrics"
	"github.com/jordanhubbard/guardian/pkg/models"
)

// EntryType names the pipeline stage that gave up.
type EntryType string

const (
	EntryReflection           EntryType = "reflection"
	EntrySkillbookUpdate      EntryType = "skillbook_update"
	EntrySatisfactionFeedback EntryType = "satisfaction_feedback"
	// EntryLearningComplete marks an interaction whose skillbook update was
	// persisted but whose terminal status write failed.
	EntryLearningComplete EntryType = "learning_complete"
)

// Entry is one retry-queue record.
type Entry struct {
	Type          EntryType           `json:"type"`
	InteractionID string              `json:"interaction_id"`
	UserID        string              `json:"user_id"`
	Timestamp     time.Time           `json:"timestamp"`
	Reasoning     string              `json:"reasoning,omitempty"`
	Error         string              `json:"error,omitempty"`
	Stage         string              `json:"stage,omitempty"`
	GhostCardID   string              `json:"ghost_card_id,omitempty"`
	Satisfaction  models.Satisfaction `json:"satisfaction,omitempty"`
}

func (e Entry) fields() []zap.Field {
	fields := []zap.Field{
		zap.String("type", string(e.Type)),
		zap.String("interaction_id", e.InteractionID),
		zap.String("user_id", e.UserID),
		zap.Time("timestamp", e.Timestamp),
	}
	if e.Reasoning != "" {
		fields = append(fields, zap.String("reasoning", e.Reasoning))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	if e.Stage != "" {
		fields = append(fields, zap.String("stage", e.Stage))
	}
	if e.GhostCardID != "" {
		fields = append(fields, zap.String("ghost_card_id", e.GhostCardID))
	}
	if e.Satisfaction != "" {
		fields = append(fields, zap.String("satisfaction", string(e.Satisfaction)))
	}
	return fields
}

// Sink durably stores encoded entries.
type Sink interface {
	Push(ctx context.Context, data []byte) error
}

const pushTimeout = 5 * time.Second

// Queue logs entries and forwards them to a Sink in the background.
type Queue struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	sink    Sink

	mu     sync.RWMutex
	closed bool
	buf    chan Entry
	done   chan struct{}
}

// New returns a queue. With a nil sink entries are only logged.
func New(logger *zap.Logger, m *metrics.Metrics, sink Sink, bufferSize int) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	q := &Queue{
		logger:  logger.Named("retry_queue"),
		metrics: m,
		sink:    sink,
		buf:     make(chan Entry, bufferSize),
		done:    make(chan struct{}),
	}
	if sink == nil {
		close(q.done)
	} else {
		go q.run()
	}
	return q
}

// Log records an entry. It never blocks: when the sink buffer is full the
// entry survives only in the log.
func (q *Queue) Log(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	q.logger.Warn("learning retry queued", e.fields()...)
	q.metrics.RetryQueued(string(e.Type))

	if q.sink == nil {
		return
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("retry queue closed, entry kept in log only", zap.String("interaction_id", e.InteractionID))
		q.metrics.RetryDropped()
		return
	}
	select {
	case q.buf <- e:
	default:
		q.logger.Warn("retry queue buffer full, entry kept in log only", zap.String("interaction_id", e.InteractionID))
		q.metrics.RetryDropped()
	}
}

// Close stops accepting entries and waits for buffered ones to reach the
// sink, or for ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		if q.sink != nil {
			close(q.buf)
		}
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for e := range q.buf {
		data, err := json.Marshal(e)
		if err != nil {
			q.logger.Error("failed to encode retry entry", append(e.fields(), zap.Error(err))...)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		err = q.sink.Push(ctx, data)
		cancel()
		if err != nil {
			q.logger.Error("failed to persist retry entry", append(e.fields(), zap.Error(err))...)
		}
	}
}
