package feedback

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/internal/metrics"
	"github.com/jordanhubbard/guardian/pkg/models"
)

// NeutralSignal primes reflection when a (satisfaction, outcome) pair has no mapping.
const NeutralSignal = "The user gave feedback on this interaction, but its meaning is unclear. " +
	"Treat the outcome as neutral evidence and avoid strong conclusions about which strategies helped."

// signalTable maps delayed user satisfaction and the original outcome to the
// feedback sentence handed to the reflector.
var signalTable = map[models.Satisfaction]map[models.Outcome]string{
	models.SatisfactionWorthIt: {
		models.OutcomeAutoUnlocked:          "The purchase went through without intervention and the user later said it was worth it. Low-friction handling was appropriate here.",
		models.OutcomeSavedInstead:          "The user chose to save instead and later said it was worth it. The savings offer was helpful and should be reinforced.",
		models.OutcomeReflectedAndCancelled: "The user reflected, cancelled, and later said it was worth it. The reflection prompts were helpful.",
		models.OutcomeReflectedAndProceeded: "The user reflected, proceeded, and later said the purchase was worth it. The reflection respected a considered decision.",
		models.OutcomeCoolingOffAbandoned:   "The user let the cooling-off period lapse without buying and later said it was worth it. The pause was helpful.",
		models.OutcomeCoolingOffCompleted:   "The user waited out the cooling-off period, bought, and later said it was worth it. The pause confirmed a deliberate purchase.",
		models.OutcomeOverridden:            "The user overrode the guardian and later said the purchase was worth it. The intervention was likely unnecessary for this kind of request.",
		models.OutcomeAbandonedChat:         "The user left the conversation and later said the result was worth it. Treat the intervention as mildly helpful.",
		models.OutcomeErrored:               "The interaction errored but the user later said the result was worth it. Do not credit any strategy for this outcome.",
	},
	models.SatisfactionRegretIt: {
		models.OutcomeAutoUnlocked:          "The purchase went through without intervention and the user later regretted it. The risk was underestimated and an intervention would have helped.",
		models.OutcomeSavedInstead:          "The user chose to save instead but later regretted it. The savings push may have been too strong for this need.",
		models.OutcomeReflectedAndCancelled: "The user reflected, cancelled, and later regretted cancelling. The reflection prompts may have discouraged a legitimate purchase.",
		models.OutcomeReflectedAndProceeded: "The user reflected, proceeded, and later regretted the purchase. The reflection prompts were not persuasive enough.",
		models.OutcomeCoolingOffAbandoned:   "The user let the cooling-off period lapse and later regretted missing the purchase. The pause was harmful here.",
		models.OutcomeCoolingOffCompleted:   "The user waited out the cooling-off period, bought, and still regretted it. The pause did not change the decision and stronger alternatives were needed.",
		models.OutcomeOverridden:            "The user overrode the guardian and later regretted the purchase. The intervention was right but failed to hold; strategies used were not persuasive.",
		models.OutcomeAbandonedChat:         "The user left the conversation and later regretted the result. The conversation failed to engage the user.",
		models.OutcomeErrored:               "The interaction errored and the user later regretted the result. Do not blame any strategy; the failure was technical.",
	},
	models.SatisfactionNotSure: {
		models.OutcomeAutoUnlocked:          "The purchase went through without intervention and the user is unsure about it. Weak evidence either way.",
		models.OutcomeSavedInstead:          "The user chose to save instead and is unsure about it. Treat the savings offer as neutral.",
		models.OutcomeReflectedAndCancelled: "The user reflected, cancelled, and is unsure about it. Treat the reflection prompts as neutral.",
		models.OutcomeReflectedAndProceeded: "The user reflected, proceeded, and is unsure about the purchase. Treat the reflection prompts as neutral.",
		models.OutcomeCoolingOffAbandoned:   "The user let the cooling-off period lapse and is unsure about it. Treat the pause as neutral.",
		models.OutcomeCoolingOffCompleted:   "The user waited out the cooling-off period, bought, and is unsure about it. Treat the pause as neutral.",
		models.OutcomeOverridden:            "The user overrode the guardian and is unsure about the purchase. Treat the intervention as neutral.",
		models.OutcomeAbandonedChat:         "The user left the conversation and is unsure about the result. Weak evidence either way.",
		models.OutcomeErrored:               "The interaction errored and the user is unsure about the result. Do not credit or blame any strategy.",
	},
}

// Resolver turns (satisfaction, outcome) pairs into reflection feedback.
type Resolver struct {
	table   map[models.Satisfaction]map[models.Outcome]string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewResolver returns a resolver over the built-in signal table. It fails if
// the table does not cover every declared satisfaction and outcome.
func NewResolver(logger *zap.Logger, m *metrics.Metrics) (*Resolver, error) {
	return newResolver(signalTable, logger, m)
}

func newResolver(table map[models.Satisfaction]map[models.Outcome]string, logger *zap.Logger, m *metrics.Metrics) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{table: table, logger: logger.Named("feedback"), metrics: m}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate reports every declared pair missing from the table.
func (r *Resolver) Validate() error {
	var missing []string
	for _, s := range models.AllSatisfactions {
		for _, o := range models.AllOutcomes {
			if strings.TrimSpace(r.table[s][o]) == "" {
				missing = append(missing, fmt.Sprintf("%s/%s", s, o))
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("feedback signal table missing %d entries: %s", len(missing), strings.Join(missing, ", "))
	}
	return nil
}

// Resolve returns the feedback sentence for a pair. Unknown satisfaction or
// outcome values fall back to NeutralSignal with a warning; it never fails.
func (r *Resolver) Resolve(satisfaction models.Satisfaction, outcome models.Outcome) string {
	byOutcome, ok := r.table[satisfaction]
	if !ok {
		r.logger.Warn("unknown satisfaction value, using neutral signal",
			zap.String("satisfaction", string(satisfaction)),
			zap.String("outcome", string(outcome)))
		r.metrics.FeedbackFallback("satisfaction")
		return NeutralSignal
	}
	signal, ok := byOutcome[outcome]
	if !ok || signal == "" {
		r.logger.Warn("unknown outcome value, using neutral signal",
			zap.String("satisfaction", string(satisfaction)),
			zap.String("outcome", string(outcome)))
		r.metrics.FeedbackFallback("outcome")
		return NeutralSignal
	}
	return signal
}

// OutcomeSignal is the immediate-outcome feedback used when no satisfaction
// verdict exists yet.
func OutcomeSignal(outcome models.Outcome) string {
	switch outcome {
	case models.OutcomeSavedInstead, models.OutcomeReflectedAndCancelled, models.OutcomeCoolingOffAbandoned:
		return fmt.Sprintf("The interaction ended with %q: the user did not make the purchase. Strategies used were likely helpful.", outcome)
	case models.OutcomeOverridden, models.OutcomeReflectedAndProceeded, models.OutcomeCoolingOffCompleted:
		return fmt.Sprintf("The interaction ended with %q: the user made the purchase after an intervention. Judge whether the strategies were persuasive or merely friction.", outcome)
	case models.OutcomeAutoUnlocked:
		return "The request was low risk and unlocked without intervention. No strategy was exercised."
	case models.OutcomeAbandonedChat:
		return "The user left the conversation before deciding. Engagement strategies may have failed."
	case models.OutcomeErrored:
		return "The interaction failed for technical reasons. Do not credit or blame any strategy."
	default:
		return NeutralSignal
	}
}
