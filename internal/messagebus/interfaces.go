package messagebus

import (
	"context"

	"github.com/jordanhubbard/guardian/pkg/messages"
)

// JobPublisher abstracts learning job publishing for testability.
type JobPublisher interface {
	PublishLearningJob(ctx context.Context, job *messages.LearningJob) error
}

// Delivery settles one received learning job. Nak asks for redelivery;
// InProgress restarts the redelivery timer.
type Delivery interface {
	Ack() error
	Nak() error
	InProgress() error
}

// JobHandler receives a decoded learning job. Returning nil hands the
// delivery to the handler, which must settle it later; an error asks for
// redelivery.
type JobHandler func(job *messages.LearningJob, d Delivery) error

// JobSubscriber abstracts learning job subscription for testability.
type JobSubscriber interface {
	SubscribeLearningJobs(handler JobHandler) error
}

// EventPublisher abstracts event publishing for testability.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *messages.EventMessage) error
}

// Verify NatsMessageBus implements all interfaces at compile time.
var (
	_ JobPublisher   = (*NatsMessageBus)(nil)
	_ JobSubscriber  = (*NatsMessageBus)(nil)
	_ EventPublisher = (*NatsMessageBus)(nil)
)
