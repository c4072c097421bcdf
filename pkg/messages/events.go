package messages

import "time"

// EventMessage represents a learning lifecycle event sent via NATS
type EventMessage struct {
	Type          string            `json:"type"`   // "learning.completed", "learning.failed"
	Source        string            `json:"source"` // Service that generated the event
	InteractionID string            `json:"interaction_id,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	JobID         string            `json:"job_id,omitempty"`
	Description   string            `json:"description,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// LearningCompleted creates a learning.completed event
func LearningCompleted(job *LearningJob, source string) *EventMessage {
	return &EventMessage{
		Type:          "learning.completed",
		Source:        source,
		InteractionID: job.InteractionID,
		UserID:        job.UserID,
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		Timestamp:     time.Now(),
	}
}

// LearningFailed creates a learning.failed event
func LearningFailed(job *LearningJob, source, reason string) *EventMessage {
	return &EventMessage{
		Type:          "learning.failed",
		Source:        source,
		InteractionID: job.InteractionID,
		UserID:        job.UserID,
		JobID:         job.ID,
		Description:   reason,
		CorrelationID: job.CorrelationID,
		Timestamp:     time.Now(),
	}
}
