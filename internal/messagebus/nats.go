package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/pkg/messages"
)

const subjectRoot = "guardian"

const learningJobsSubject = subjectRoot + ".learning.jobs.*"

// jobSubject returns the subject learning jobs of kind are published on.
func jobSubject(kind messages.JobKind) string {
	return fmt.Sprintf("%s.learning.jobs.%s", subjectRoot, kind)
}

// eventSubject maps "learning.completed" to guardian.events.learning.completed.
func eventSubject(eventType string) string {
	return fmt.Sprintf("%s.events.%s", subjectRoot, strings.TrimPrefix(eventType, subjectRoot+"."))
}

// NatsMessageBus implements a message bus using NATS with JetStream
type NatsMessageBus struct {
	conn           *nats.Conn
	js             nats.JetStreamContext
	logger         *zap.Logger
	mu             sync.Mutex
	subscriptions  map[string]*nats.Subscription
	streamName     string
	url            string
	consumerPrefix string
	ackWait        time.Duration
}

// Config holds NATS configuration
type Config struct {
	URL            string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName     string        // JetStream stream name (default: "GUARDIAN")
	Timeout        time.Duration // Connection timeout
	ConsumerPrefix string        // Prefix for durable consumer names (for test isolation)
	AckWait        time.Duration // Redelivery delay for unsettled jobs (default: 2m)
	Logger         *zap.Logger
}

// NewNatsMessageBus creates a new NATS message bus with JetStream
func NewNatsMessageBus(cfg Config) (*NatsMessageBus, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "GUARDIAN"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.AckWait == 0 {
		cfg.AckWait = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("messagebus")

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	mb := &NatsMessageBus{
		conn:           nc,
		js:             js,
		logger:         logger,
		subscriptions:  make(map[string]*nats.Subscription),
		streamName:     cfg.StreamName,
		url:            cfg.URL,
		consumerPrefix: cfg.ConsumerPrefix,
		ackWait:        cfg.AckWait,
	}

	if err := mb.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	logger.Info("connected to NATS",
		zap.String("url", cfg.URL),
		zap.String("stream", cfg.StreamName))
	return mb, nil
}

// ensureStream creates or updates the JetStream stream.
func (mb *NatsMessageBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      mb.streamName,
		Subjects:  []string{subjectRoot + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		if _, err := mb.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		mb.logger.Info("created JetStream stream", zap.String("stream", mb.streamName))
		return nil
	}

	if _, err := mb.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// PublishLearningJob publishes a learning job for at-least-once delivery.
func (mb *NatsMessageBus) PublishLearningJob(ctx context.Context, job *messages.LearningJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	return mb.publish(ctx, jobSubject(job.Kind), job, job.ID)
}

// PublishEvent publishes a learning lifecycle event
func (mb *NatsMessageBus) PublishEvent(ctx context.Context, event *messages.EventMessage) error {
	return mb.publish(ctx, eventSubject(event.Type), event, "")
}

// publish is the internal method to publish messages. A non-empty msgID
// lets JetStream drop duplicate publishes.
func (mb *NatsMessageBus) publish(ctx context.Context, subject string, msg interface{}, msgID string) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	opts := []nats.PubOpt{nats.Context(ctx)}
	if msgID != "" {
		opts = append(opts, nats.MsgId(msgID))
	}
	if _, err := mb.js.Publish(subject, data, opts...); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

// SubscribeLearningJobs subscribes to learning jobs of every kind. A
// handler that returns nil takes ownership of the delivery and must settle
// it; an error naks the message for redelivery. Undecodable or invalid jobs
// are terminated. Unsettled jobs are redelivered after the ack wait.
func (mb *NatsMessageBus) SubscribeLearningJobs(handler JobHandler) error {
	return mb.subscribe(learningJobsSubject, "learning-jobs", func(msg *nats.Msg) {
		mb.dispatchJob(msg.Data, natsDelivery{msg: msg}, handler)
	})
}

type terminable interface {
	Delivery
	Term() error
}

// natsDelivery adapts a JetStream message to Delivery.
type natsDelivery struct {
	msg *nats.Msg
}

func (d natsDelivery) Ack() error        { return d.msg.Ack() }
func (d natsDelivery) Nak() error        { return d.msg.Nak() }
func (d natsDelivery) InProgress() error { return d.msg.InProgress() }
func (d natsDelivery) Term() error       { return d.msg.Term() }

func (mb *NatsMessageBus) dispatchJob(data []byte, d terminable, handler JobHandler) {
	var job messages.LearningJob
	if err := json.Unmarshal(data, &job); err != nil {
		mb.logger.Error("failed to unmarshal learning job", zap.Error(err))
		_ = d.Term()
		return
	}
	if err := job.Validate(); err != nil {
		mb.logger.Error("invalid learning job", zap.Error(err))
		_ = d.Term()
		return
	}

	if err := handler(&job, d); err != nil {
		mb.logger.Warn("learning job not accepted, requesting redelivery",
			zap.String("job_id", job.ID),
			zap.Error(err))
		_ = d.Nak()
	}
}

// prefixConsumer adds the optional consumer prefix for namespace isolation
func (mb *NatsMessageBus) prefixConsumer(name string) string {
	if mb.consumerPrefix != "" {
		return mb.consumerPrefix + "-" + name
	}
	return name
}

// subscribe is the internal method to set up durable subscriptions
func (mb *NatsMessageBus) subscribe(subject, consumerName string, handler nats.MsgHandler) error {
	prefixed := mb.prefixConsumer(consumerName)
	sub, err := mb.js.QueueSubscribe(subject, prefixed, handler,
		nats.Durable(prefixed),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(5),
		nats.AckWait(mb.ackWait),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	mb.mu.Lock()
	mb.subscriptions[subject] = sub
	mb.mu.Unlock()
	mb.logger.Info("subscribed", zap.String("subject", subject), zap.String("consumer", prefixed))
	return nil
}

// Unsubscribe removes a subscription
func (mb *NatsMessageBus) Unsubscribe(subject string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	sub, ok := mb.subscriptions[subject]
	if !ok {
		return fmt.Errorf("no subscription found for %s", subject)
	}
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", subject, err)
	}
	delete(mb.subscriptions, subject)
	return nil
}

// Close drains all subscriptions and closes the NATS connection
func (mb *NatsMessageBus) Close() error {
	mb.mu.Lock()
	subjects := make([]string, 0, len(mb.subscriptions))
	for subject := range mb.subscriptions {
		subjects = append(subjects, subject)
	}
	mb.mu.Unlock()

	for _, subject := range subjects {
		_ = mb.Unsubscribe(subject)
	}

	mb.conn.Close()
	mb.logger.Info("closed NATS connection")
	return nil
}

// Health returns the health status of the NATS connection
func (mb *NatsMessageBus) Health() error {
	if mb.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !mb.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", mb.streamName, err)
	}
	return nil
}
