package learning

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/internal/database"
	"github.com/jordanhubbard/guardian/internal/retryqueue"
	"github.com/jordanhubbard/guardian/internal/tracing"
	"github.com/jordanhubbard/guardian/pkg/models"
)

// SatisfactionRequest is delayed user feedback on a ghost card.
type SatisfactionRequest struct {
	GhostCardID  string
	UserID       string
	Satisfaction models.Satisfaction
}

// RunSatisfactionFeedbackLearning reflects on the interaction behind a ghost
// card using the user's later satisfaction verdict as feedback, then updates
// the skillbook. Lookup misses and stage failures are logged, never
// returned.
func (p *Pipeline) RunSatisfactionFeedbackLearning(ctx context.Context, req SatisfactionRequest) {
	entry := retryqueue.Entry{
		Type:         retryqueue.EntrySatisfactionFeedback,
		UserID:       req.UserID,
		GhostCardID:  req.GhostCardID,
		Satisfaction: req.Satisfaction,
	}
	defer p.guard(stageSatisfaction, &entry)
	p.metrics.StageRun(stageSatisfaction)

	logger := p.logger.With(
		zap.String("ghost_card_id", req.GhostCardID),
		zap.String("user_id", req.UserID),
		zap.String("satisfaction", string(req.Satisfaction)))

	card, err := p.interactions.FindGhostCard(ctx, req.GhostCardID)
	if err != nil {
		p.lookupFailed(logger, "find_ghost_card", entry, err)
		return
	}
	entry.InteractionID = card.InteractionID

	interaction, err := p.interactions.FindInteraction(ctx, card.InteractionID)
	if err != nil {
		p.lookupFailed(logger.With(zap.String("interaction_id", card.InteractionID)), "find_interaction", entry, err)
		return
	}

	signal := p.resolver.Resolve(req.Satisfaction, interaction.Outcome)

	p.attach(func() {
		p.tracer.AttachSatisfactionFeedback(ctx, tracing.SatisfactionFeedback{
			InteractionID: interaction.ID,
			UserID:        req.UserID,
			Metadata:      interaction.Metadata,
			Satisfaction:  req.Satisfaction,
			Outcome:       interaction.Outcome,
			Signal:        signal,
		})
	})

	result := p.reflect(ctx, ReflectionRequest{
		InteractionID:    interaction.ID,
		UserID:           req.UserID,
		Question:         interaction.Question,
		GeneratorAnswer:  interaction.ReasoningSummary,
		Outcome:          interaction.Outcome,
		Tier:             interaction.Tier,
		Metadata:         interaction.Metadata,
		FeedbackOverride: signal,
	}, entry)
	if result == nil {
		return
	}

	updateEntry := entry
	updateEntry.Type = retryqueue.EntrySkillbookUpdate
	p.updateSkills(ctx, result, updateEntry)
}

// lookupFailed logs a failed point lookup. A missing record cannot succeed
// on retry, so only storage errors are queued.
func (p *Pipeline) lookupFailed(logger *zap.Logger, reason string, entry retryqueue.Entry, err error) {
	if errors.Is(err, database.ErrNotFound) {
		logger.Warn("satisfaction feedback skipped: record not found", zap.String("lookup", reason), zap.Error(err))
		p.metrics.StageFailure(stageSatisfaction, reason+"_missing")
		return
	}
	logger.Warn("satisfaction feedback failed", zap.String("lookup", reason), zap.Error(err))
	p.queue(stageSatisfaction, reason, entry, err)
}
