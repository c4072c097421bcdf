package learning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jordanhubbard/guardian/internal/database"
	"github.com/jordanhubbard/guardian/internal/feedback"
	"github.com/jordanhubbard/guardian/internal/metrics"
	"github.com/jordanhubbard/guardian/internal/reasoning"
	"github.com/jordanhubbard/guardian/internal/retryqueue"
	"github.com/jordanhubbard/guardian/internal/tracing"
	"github.com/jordanhubbard/guardian/pkg/models"
)

var (
	_ SkillbookStore   = (*database.Database)(nil)
	_ InteractionStore = (*database.Database)(nil)
	_ RetryLogger      = (*retryqueue.Queue)(nil)
	_ SignalResolver   = (*feedback.Resolver)(nil)
	_ TraceAttacher    = (*tracing.Attacher)(nil)
	_ EntrySource      = (*retryqueue.RedisSink)(nil)
)

type storedRow struct {
	skills  []models.Skill
	version int
}

type updateCall struct {
	userID          string
	expectedVersion int
	newVersion      int
	skills          []models.Skill
}

// fakeSkillbooks is an in-memory skillbook table. A non-nil hook replaces
// the matching call; hooks may delegate to the store* methods.
type fakeSkillbooks struct {
	mu      sync.Mutex
	rows    map[string]storedRow
	loads   int
	updates []updateCall
	inserts int

	loadHook   func(n int, userID string) (*models.Skillbook, error)
	updateHook func(n int, call updateCall) (int64, error)
	insertHook func(n int, userID string, skills []models.Skill) error
}

func newFakeSkillbooks() *fakeSkillbooks {
	return &fakeSkillbooks{rows: make(map[string]storedRow)}
}

func cloneSkills(skills []models.Skill) []models.Skill {
	out := make([]models.Skill, len(skills))
	copy(out, skills)
	return out
}

func (f *fakeSkillbooks) seed(userID string, version int, skills ...models.Skill) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[userID] = storedRow{skills: cloneSkills(skills), version: version}
}

func (f *fakeSkillbooks) row(userID string) (storedRow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[userID]
	return r, ok
}

func (f *fakeSkillbooks) LoadSkillbook(ctx context.Context, userID string) (*models.Skillbook, error) {
	f.mu.Lock()
	f.loads++
	n, hook := f.loads, f.loadHook
	f.mu.Unlock()

	if hook != nil {
		return hook(n, userID)
	}
	return f.storeLoad(userID), nil
}

func (f *fakeSkillbooks) storeLoad(userID string) *models.Skillbook {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[userID]
	if !ok {
		return models.NewSkillbook(userID)
	}
	return &models.Skillbook{UserID: userID, Skills: cloneSkills(r.skills), Version: r.version}
}

func (f *fakeSkillbooks) UpdateSkillbookRow(ctx context.Context, userID string, expectedVersion int, skills []models.Skill, newVersion int) (int64, error) {
	call := updateCall{userID: userID, expectedVersion: expectedVersion, newVersion: newVersion, skills: cloneSkills(skills)}
	f.mu.Lock()
	f.updates = append(f.updates, call)
	n, hook := len(f.updates), f.updateHook
	f.mu.Unlock()

	if hook != nil {
		return hook(n, call)
	}
	return f.storeUpdate(call), nil
}

func (f *fakeSkillbooks) storeUpdate(call updateCall) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[call.userID]
	if !ok || r.version != call.expectedVersion {
		return 0
	}
	f.rows[call.userID] = storedRow{skills: call.skills, version: call.newVersion}
	return 1
}

func (f *fakeSkillbooks) InsertSkillbookRow(ctx context.Context, userID string, skills []models.Skill, version int) error {
	f.mu.Lock()
	f.inserts++
	n, hook := f.inserts, f.insertHook
	f.mu.Unlock()

	if hook != nil {
		return hook(n, userID, skills)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[userID]; ok {
		return database.ErrSkillbookExists
	}
	f.rows[userID] = storedRow{skills: cloneSkills(skills), version: version}
	return nil
}

func (f *fakeSkillbooks) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func (f *fakeSkillbooks) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// fakeInteractions is an in-memory interaction and ghost-card table.
type fakeInteractions struct {
	mu           sync.Mutex
	interactions map[string]*models.Interaction
	cards        map[string]*models.GhostCard
	statusWrites []models.LearningStatus
	findErr      error
	statusErr    error
}

func newFakeInteractions() *fakeInteractions {
	return &fakeInteractions{
		interactions: make(map[string]*models.Interaction),
		cards:        make(map[string]*models.GhostCard),
	}
}

func (f *fakeInteractions) add(in *models.Interaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.LearningStatus == "" {
		in.LearningStatus = models.LearningStatusPending
	}
	f.interactions[in.ID] = in
}

func (f *fakeInteractions) addCard(c *models.GhostCard) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards[c.ID] = c
}

func (f *fakeInteractions) FindInteraction(ctx context.Context, id string) (*models.Interaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	in, ok := f.interactions[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (f *fakeInteractions) FindGhostCard(ctx context.Context, id string) (*models.GhostCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cards[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeInteractions) SetInteractionStatus(ctx context.Context, id string, status models.LearningStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	in, ok := f.interactions[id]
	if !ok {
		return database.ErrNotFound
	}
	in.LearningStatus = status
	f.statusWrites = append(f.statusWrites, status)
	return nil
}

func (f *fakeInteractions) status(id string) models.LearningStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interactions[id].LearningStatus
}

// recordingRetry captures retry-queue entries.
type recordingRetry struct {
	mu      sync.Mutex
	entries []retryqueue.Entry
}

func (r *recordingRetry) Log(e retryqueue.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingRetry) all() []retryqueue.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]retryqueue.Entry(nil), r.entries...)
}

// recordingTracer counts trace attachments.
type recordingTracer struct {
	mu           sync.Mutex
	reflections  []*models.LearningPipelineResult
	updates      []tracing.SkillUpdate
	satisfaction []tracing.SatisfactionFeedback
	panicOnAll   bool
}

func (t *recordingTracer) AttachReflection(ctx context.Context, r *models.LearningPipelineResult) {
	if t.panicOnAll {
		panic("tracer bug")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reflections = append(t.reflections, r)
}

func (t *recordingTracer) AttachSkillUpdate(ctx context.Context, u tracing.SkillUpdate) {
	if t.panicOnAll {
		panic("tracer bug")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates = append(t.updates, u)
}

func (t *recordingTracer) AttachSatisfactionFeedback(ctx context.Context, f tracing.SatisfactionFeedback) {
	if t.panicOnAll {
		panic("tracer bug")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.satisfaction = append(t.satisfaction, f)
}

// testEnv bundles a pipeline with its fakes.
type testEnv struct {
	pipeline     *Pipeline
	skillbooks   *fakeSkillbooks
	interactions *fakeInteractions
	retry        *recordingRetry
	tracer       *recordingTracer
	metrics      *metrics.Metrics
	logs         *observer.ObservedLogs

	mu          sync.Mutex
	reflectIn   []reasoning.ReflectionInput
	curateIn    []reasoning.CurationInput
	reflectFunc func(ctx context.Context, in reasoning.ReflectionInput) (*models.ReflectionOutput, error)
	curateFunc  func(ctx context.Context, in reasoning.CurationInput) (*models.UpdateBatch, error)
}

func defaultReflection(ctx context.Context, in reasoning.ReflectionInput) (*models.ReflectionOutput, error) {
	return &models.ReflectionOutput{
		Analysis:        "The savings suggestion landed.",
		HelpfulSkillIDs: []string{"skill-001"},
	}, nil
}

func tagBatch(skillID string) *models.UpdateBatch {
	return &models.UpdateBatch{
		Reasoning: "reinforce " + skillID,
		Operations: []models.UpdateOperation{
			{Kind: models.OperationTag, SkillID: skillID, Tag: models.TagHelpful, Increment: 1},
		},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	m := metrics.New(prometheus.NewRegistry())
	resolver, err := feedback.NewResolver(logger, m)
	require.NoError(t, err)

	env := &testEnv{
		skillbooks:   newFakeSkillbooks(),
		interactions: newFakeInteractions(),
		retry:        &recordingRetry{},
		tracer:       &recordingTracer{},
		metrics:      m,
		logs:         logs,
		reflectFunc:  defaultReflection,
		curateFunc: func(ctx context.Context, in reasoning.CurationInput) (*models.UpdateBatch, error) {
			return tagBatch("skill-001"), nil
		},
	}

	o := Options{
		Skillbooks:   env.skillbooks,
		Interactions: env.interactions,
		Reflector: reasoning.ReflectorFunc(func(ctx context.Context, in reasoning.ReflectionInput) (*models.ReflectionOutput, error) {
			env.mu.Lock()
			env.reflectIn = append(env.reflectIn, in)
			fn := env.reflectFunc
			env.mu.Unlock()
			return fn(ctx, in)
		}),
		Curator: reasoning.CuratorFunc(func(ctx context.Context, in reasoning.CurationInput) (*models.UpdateBatch, error) {
			env.mu.Lock()
			env.curateIn = append(env.curateIn, in)
			fn := env.curateFunc
			env.mu.Unlock()
			return fn(ctx, in)
		}),
		Resolver:   resolver,
		RetryQueue: env.retry,
		Tracer:     env.tracer,
		Metrics:    m,
		Logger:     logger,
		Timeout:    time.Second,
	}
	for _, fn := range opts {
		fn(&o)
	}

	env.pipeline, err = New(o)
	require.NoError(t, err)
	return env
}

func (e *testEnv) reflectCalls() []reasoning.ReflectionInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]reasoning.ReflectionInput(nil), e.reflectIn...)
}

func (e *testEnv) curateCalls() []reasoning.CurationInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]reasoning.CurationInput(nil), e.curateIn...)
}

func activeSkill(id, section, content string) models.Skill {
	return models.Skill{ID: id, Section: section, Content: content, Status: models.SkillStatusActive}
}
