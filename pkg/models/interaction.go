package models

import "time"

// Outcome is how a guarded card-unlock interaction ended.
type Outcome string

const (
	OutcomeAutoUnlocked          Outcome = "auto_unlocked"
	OutcomeSavedInstead          Outcome = "saved_instead"
	OutcomeReflectedAndCancelled Outcome = "reflected_and_cancelled"
	OutcomeReflectedAndProceeded Outcome = "reflected_and_proceeded"
	OutcomeCoolingOffAbandoned   Outcome = "cooling_off_abandoned"
	OutcomeCoolingOffCompleted   Outcome = "cooling_off_completed"
	OutcomeOverridden            Outcome = "overridden"
	OutcomeAbandonedChat         Outcome = "abandoned_chat"
	OutcomeErrored               Outcome = "errored"
)

// AllOutcomes lists every declared outcome. A new outcome must be added here
// and to the feedback signal table together.
var AllOutcomes = []Outcome{
	OutcomeAutoUnlocked,
	OutcomeSavedInstead,
	OutcomeReflectedAndCancelled,
	OutcomeReflectedAndProceeded,
	OutcomeCoolingOffAbandoned,
	OutcomeCoolingOffCompleted,
	OutcomeOverridden,
	OutcomeAbandonedChat,
	OutcomeErrored,
}

// Satisfaction is the user's delayed verdict on a purchase.
type Satisfaction string

const (
	SatisfactionWorthIt  Satisfaction = "worth_it"
	SatisfactionRegretIt Satisfaction = "regret_it"
	SatisfactionNotSure  Satisfaction = "not_sure"
)

// AllSatisfactions lists every declared satisfaction value.
var AllSatisfactions = []Satisfaction{
	SatisfactionWorthIt,
	SatisfactionRegretIt,
	SatisfactionNotSure,
}

// LearningStatus tracks an interaction through the learning pipeline.
type LearningStatus string

const (
	LearningStatusPending  LearningStatus = "pending"
	LearningStatusLearning LearningStatus = "learning"
	LearningStatusLearned  LearningStatus = "learned"
)

// Interaction is a completed guardian intervention on a card-unlock request.
type Interaction struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	Tier             string            `json:"tier,omitempty"`
	Outcome          Outcome           `json:"outcome"`
	Question         string            `json:"question,omitempty"`
	ReasoningSummary string            `json:"reasoning_summary,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	LearningStatus   LearningStatus    `json:"learning_status"`
	CreatedAt        time.Time         `json:"created_at"`
}

// GhostCard is a deferred-reflection record consumed by satisfaction feedback.
type GhostCard struct {
	ID            string    `json:"id"`
	InteractionID string    `json:"interaction_id"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
}
