package tracing

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/internal/telemetry"
	"github.com/jordanhubbard/guardian/pkg/models"
)

// Attacher enriches interaction traces with learning results. Every method
// is best-effort: backend failures and panics are logged and swallowed.
type Attacher struct {
	backend Backend
	logger  *zap.Logger
}

// NewAttacher returns an attacher on backend. A nil backend disables tracing.
func NewAttacher(backend Backend, logger *zap.Logger) *Attacher {
	if backend == nil {
		backend = NoopBackend{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Attacher{backend: backend, logger: logger.Named("tracing")}
}

// SkillUpdate is the trace payload for a persisted skillbook update.
type SkillUpdate struct {
	InteractionID string
	UserID        string
	Metadata      map[string]string
	Batch         *models.UpdateBatch
	Before        *models.Skillbook
	After         *models.Skillbook
	Attempts      int
}

// SatisfactionFeedback is the trace payload for delayed user feedback.
type SatisfactionFeedback struct {
	InteractionID string
	UserID        string
	Metadata      map[string]string
	Satisfaction  models.Satisfaction
	Outcome       models.Outcome
	Signal        string
}

// AttachReflection records a reflection as a child of the interaction's
// trace. Nothing is recorded when the parent cannot be found.
func (a *Attacher) AttachReflection(ctx context.Context, result *models.LearningPipelineResult) {
	defer a.recoverPanic("reflection")
	if result == nil || result.ReflectionOutput == nil {
		return
	}

	parent, ok := a.findParent(ctx, result.Metadata)
	if !ok {
		return
	}

	out := result.ReflectionOutput
	attrs := []attribute.KeyValue{
		attribute.String("guardian.interaction_id", result.InteractionID),
		attribute.String("guardian.user_id", result.UserID),
		attribute.String("guardian.reflection.analysis", out.Analysis),
		attribute.StringSlice("guardian.reflection.helpful_skill_ids", out.HelpfulSkillIDs),
		attribute.StringSlice("guardian.reflection.harmful_skill_ids", out.HarmfulSkillIDs),
		attribute.Int("guardian.reflection.new_learnings", len(out.NewLearnings)),
		attribute.Int("guardian.skillbook.version", result.SkillbookVersion),
		attribute.StringSlice("guardian.tags", []string{"learning", "reflection"}),
	}
	if result.Tier != "" {
		attrs = append(attrs, attribute.String("guardian.tier", result.Tier))
	}
	if result.Outcome != "" {
		attrs = append(attrs, attribute.String("guardian.outcome", string(result.Outcome)))
	}

	a.emit(ctx, Spec{Name: "learning.reflection", Parent: parent, Attributes: attrs})
}

// AttachSkillUpdate records a persisted update batch with before/after skill
// counts, an operation histogram and, when After is set, a per-section
// snapshot. Without a parent trace the update is recorded as a root trace.
func (a *Attacher) AttachSkillUpdate(ctx context.Context, u SkillUpdate) {
	defer a.recoverPanic("skill_update")
	if u.Batch == nil {
		return
	}

	parent, _ := a.findParent(ctx, u.Metadata)

	before := skillCount(u.Before)
	after := skillCount(u.After)
	attrs := []attribute.KeyValue{
		attribute.String("guardian.interaction_id", u.InteractionID),
		attribute.String("guardian.user_id", u.UserID),
		attribute.String("guardian.update.reasoning", u.Batch.Reasoning),
		attribute.Int("guardian.update.operation_count", len(u.Batch.Operations)),
		attribute.Int("guardian.update.attempts", u.Attempts),
		attribute.Int("guardian.skillbook.skills_before", before),
		attribute.Int("guardian.skillbook.skills_after", after),
		attribute.Int("guardian.skillbook.skills_delta", after-before),
		attribute.StringSlice("guardian.tags", []string{"learning", "skill_update"}),
	}
	attrs = append(attrs, countAttributes("guardian.update.operations_by_type.", u.Batch.OperationsByType())...)

	if u.After != nil {
		totals := u.After.Totals()
		attrs = append(attrs,
			attribute.Int("guardian.skillbook.version", u.After.Version),
			attribute.Int("guardian.skillbook.active_skills", u.After.ActiveCount()),
			attribute.Int("guardian.skillbook.helpful_total", totals.Helpful),
			attribute.Int("guardian.skillbook.harmful_total", totals.Harmful),
			attribute.Int("guardian.skillbook.neutral_total", totals.Neutral),
		)
		attrs = append(attrs, countAttributes("guardian.skillbook.section.", u.After.SectionSummary())...)
	}

	a.emit(ctx, Spec{Name: "learning.skill_update", Parent: parent, Attributes: attrs})
	telemetry.RecordSkillDelta(ctx, after-before)
}

// AttachSatisfactionFeedback records delayed user feedback as a child of the
// interaction's trace. Nothing is recorded when the parent cannot be found.
func (a *Attacher) AttachSatisfactionFeedback(ctx context.Context, f SatisfactionFeedback) {
	defer a.recoverPanic("satisfaction_feedback")

	parent, ok := a.findParent(ctx, f.Metadata)
	if !ok {
		return
	}

	a.emit(ctx, Spec{
		Name:   "learning.satisfaction_feedback",
		Parent: parent,
		Attributes: []attribute.KeyValue{
			attribute.String("guardian.interaction_id", f.InteractionID),
			attribute.String("guardian.user_id", f.UserID),
			attribute.String("guardian.satisfaction", string(f.Satisfaction)),
			attribute.String("guardian.outcome", string(f.Outcome)),
			attribute.String("guardian.feedback.signal", f.Signal),
			attribute.StringSlice("guardian.tags", []string{"learning", "satisfaction_feedback"}),
		},
	})
}

// Flush pushes buffered traces to the backend.
func (a *Attacher) Flush(ctx context.Context) {
	defer a.recoverPanic("flush")
	if err := a.backend.Flush(ctx); err != nil {
		a.logger.Debug("trace flush failed", zap.Error(err))
	}
}

func (a *Attacher) findParent(ctx context.Context, metadata map[string]string) (parent trace.SpanContext, ok bool) {
	sc, found, err := a.backend.FindParentTrace(ctx, metadata)
	if err != nil {
		a.logger.Debug("parent trace lookup failed", zap.Error(err))
		return trace.SpanContext{}, false
	}
	return sc, found
}

func (a *Attacher) emit(ctx context.Context, spec Spec) {
	h, err := a.backend.CreateTrace(ctx, spec)
	if err != nil {
		a.logger.Debug("trace creation failed", zap.String("trace", spec.Name), zap.Error(err))
		return
	}
	a.backend.EndTrace(h)
}

func (a *Attacher) recoverPanic(stage string) {
	if r := recover(); r != nil {
		a.logger.Warn("trace attachment panicked",
			zap.String("stage", stage),
			zap.String("panic", fmt.Sprint(r)))
	}
}

func skillCount(sb *models.Skillbook) int {
	if sb == nil {
		return 0
	}
	return len(sb.Skills)
}

// countAttributes flattens a histogram into sorted int attributes.
func countAttributes(prefix string, counts map[string]int) []attribute.KeyValue {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.Int(prefix+k, counts[k]))
	}
	return attrs
}
