package learning

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/internal/feedback"
	"github.com/jordanhubbard/guardian/internal/reasoning"
	"github.com/jordanhubbard/guardian/internal/retryqueue"
	"github.com/jordanhubbard/guardian/pkg/models"
)

// ReflectionRequest describes one finished interaction to reflect on.
type ReflectionRequest struct {
	InteractionID   string
	UserID          string
	Question        string
	GeneratorAnswer string
	Outcome         models.Outcome
	Tier            string
	Metadata        map[string]string

	// FeedbackOverride replaces the outcome-derived feedback, for delayed
	// satisfaction flows.
	FeedbackOverride string
}

// RunReflection loads the user's skillbook and asks the reflector to analyze
// the interaction. It returns nil after queuing a retry entry on any
// failure.
func (p *Pipeline) RunReflection(ctx context.Context, req ReflectionRequest) *models.LearningPipelineResult {
	return p.reflect(ctx, req, retryqueue.Entry{
		Type:          retryqueue.EntryReflection,
		InteractionID: req.InteractionID,
		UserID:        req.UserID,
	})
}

// reflect is RunReflection with the retry entry a failure should produce.
func (p *Pipeline) reflect(ctx context.Context, req ReflectionRequest, entry retryqueue.Entry) (result *models.LearningPipelineResult) {
	defer p.guard(stageReflection, &entry)
	p.metrics.StageRun(stageReflection)

	logger := p.logger.With(
		zap.String("interaction_id", req.InteractionID),
		zap.String("user_id", req.UserID))

	fb := req.FeedbackOverride
	if fb == "" {
		fb = feedback.OutcomeSignal(req.Outcome)
	}

	sb, err := p.skillbooks.LoadSkillbook(ctx, req.UserID)
	if err != nil {
		logger.Warn("reflection failed: cannot load skillbook", zap.Error(err))
		p.queue(stageReflection, "load_skillbook", entry, err)
		return nil
	}

	out, err := remoteCall(ctx, p, "reflect", func(ctx context.Context) (*models.ReflectionOutput, error) {
		return p.reflector.Reflect(ctx, reasoning.ReflectionInput{
			Question:        req.Question,
			GeneratorAnswer: req.GeneratorAnswer,
			Feedback:        fb,
			Skillbook:       sb.Clone(),
		})
	})
	if err == nil && out == nil {
		err = errors.New("reflector returned no output")
	}
	if err != nil {
		logger.Warn("reflection failed", zap.Error(err))
		p.queue(stageReflection, "reflect", entry, err)
		return nil
	}
	out.Normalize()

	result = &models.LearningPipelineResult{
		ReflectionOutput: out,
		InteractionID:    req.InteractionID,
		UserID:           req.UserID,
		Skillbook:        sb,
		SkillbookVersion: sb.Version,
		Tier:             req.Tier,
		Outcome:          req.Outcome,
		Metadata:         req.Metadata,
	}

	logger.Info("reflection complete",
		zap.Int("skillbook_version", sb.Version),
		zap.Int("helpful", len(out.HelpfulSkillIDs)),
		zap.Int("harmful", len(out.HarmfulSkillIDs)),
		zap.Int("new_learnings", len(out.NewLearnings)))

	p.attach(func() { p.tracer.AttachReflection(ctx, result) })
	return result
}

// attach runs a trace attachment, swallowing any panic it raises.
func (p *Pipeline) attach(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("trace attachment panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
