package messages

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/guardian/pkg/models"
)

// JobKind selects the learning entrypoint a job runs.
type JobKind string

const (
	JobKindOutcome      JobKind = "outcome"      // immediate outcome known
	JobKindSatisfaction JobKind = "satisfaction" // delayed satisfaction feedback on a ghost card
)

// LearningJob asks a learner to run the pipeline for one interaction. Jobs
// are delivered at least once; every entrypoint they trigger tolerates
// redelivery.
type LearningJob struct {
	ID              string              `json:"id"`
	Kind            JobKind             `json:"kind"`
	InteractionID   string              `json:"interaction_id,omitempty"`
	UserID          string              `json:"user_id"`
	GhostCardID     string              `json:"ghost_card_id,omitempty"`
	Satisfaction    models.Satisfaction `json:"satisfaction,omitempty"`
	CorrelationID   string              `json:"correlation_id,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
}

// OutcomeJob creates a job for an interaction whose outcome was just recorded.
func OutcomeJob(interactionID, userID, correlationID string) *LearningJob {
	return &LearningJob{
		ID:            uuid.NewString(),
		Kind:          JobKindOutcome,
		InteractionID: interactionID,
		UserID:        userID,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}
}

// SatisfactionJob creates a job for satisfaction feedback on a ghost card.
func SatisfactionJob(ghostCardID, userID string, satisfaction models.Satisfaction, correlationID string) *LearningJob {
	return &LearningJob{
		ID:            uuid.NewString(),
		Kind:          JobKindSatisfaction,
		UserID:        userID,
		GhostCardID:   ghostCardID,
		Satisfaction:  satisfaction,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}
}

// Validate checks that the fields the job's kind needs are present.
func (j *LearningJob) Validate() error {
	if j.UserID == "" {
		return fmt.Errorf("learning job %s: user_id is required", j.ID)
	}
	switch j.Kind {
	case JobKindOutcome:
		if j.InteractionID == "" {
			return fmt.Errorf("learning job %s: interaction_id is required", j.ID)
		}
	case JobKindSatisfaction:
		if j.GhostCardID == "" {
			return fmt.Errorf("learning job %s: ghost_card_id is required", j.ID)
		}
		if j.Satisfaction == "" {
			return fmt.Errorf("learning job %s: satisfaction is required", j.ID)
		}
	default:
		return fmt.Errorf("learning job %s: unknown kind %q", j.ID, j.Kind)
	}
	return nil
}
