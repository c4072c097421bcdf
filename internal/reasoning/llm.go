package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/internal/provider"
	"github.com/jordanhubbard/guardian/pkg/config"
	"github.com/jordanhubbard/guardian/pkg/models"
)

const reflectorSystemPrompt = `You are the Reflector for a spending guardian. The guardian intervened on a card-unlock request
using strategies from the user's skillbook. Given the conversation, the feedback on how it ended and
the skillbook, decide which skills helped, which hurt, and what new, narrowly scoped strategies
should be learned.

Respond with a single JSON object:
{
  "analysis": "what happened and why",
  "helpful_skill_ids": ["<skill id>"],
  "harmful_skill_ids": ["<skill id>"],
  "new_learnings": [{"section": "<category>", "content": "<strategy>", "atomicity": 0.0-1.0}]
}
Only cite skill ids that appear in the skillbook.`

const curatorSystemPrompt = `You are the Curator of a user's skillbook of guardian strategies. Turn the reflection analysis
into a small, ordered list of edits.

Allowed operations:
- {"type": "ADD", "section": "...", "content": "..."}
- {"type": "TAG", "skill_id": "...", "tag": "helpful|harmful|neutral", "increment": 1}
- {"type": "UPDATE", "skill_id": "...", "content": "..."}
- {"type": "REMOVE", "skill_id": "..."}

Respond with a single JSON object: {"reasoning": "why these edits", "operations": [...]}.
Prefer TAG over ADD when an existing skill already covers the learning. An empty list is fine.`

// LLM implements Reflector and Curator on an OpenAI-compatible endpoint.
type LLM struct {
	protocol    provider.Protocol
	model       string
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewLLM builds the reasoning client from configuration.
func NewLLM(cfg config.ReasoningConfig, logger *zap.Logger) *LLM {
	return NewLLMWithProtocol(provider.NewOpenAIProvider(cfg.Endpoint, cfg.APIKey), cfg, logger)
}

// NewLLMWithProtocol builds the reasoning client on an existing protocol.
func NewLLMWithProtocol(p provider.Protocol, cfg config.ReasoningConfig, logger *zap.Logger) *LLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLM{
		protocol:    p,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger.Named("reasoning"),
	}
}

// CheckModel confirms the endpoint serves the configured model.
func (l *LLM) CheckModel(ctx context.Context) error {
	available, err := l.protocol.GetModels(ctx)
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	for _, m := range available {
		if m.ID == l.model {
			return nil
		}
	}
	return fmt.Errorf("model %q is not served by the endpoint (%d models listed)", l.model, len(available))
}

// Reflect implements Reflector.
func (l *LLM) Reflect(ctx context.Context, in ReflectionInput) (*models.ReflectionOutput, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n\n", in.Question)
	fmt.Fprintf(&b, "Guardian answer:\n%s\n\n", in.GeneratorAnswer)
	fmt.Fprintf(&b, "Feedback:\n%s\n\n", in.Feedback)
	fmt.Fprintf(&b, "Skillbook:\n%s\n", in.Skillbook.Prompt())

	var out models.ReflectionOutput
	if err := l.complete(ctx, "reflect", reflectorSystemPrompt, b.String(), &out); err != nil {
		return nil, err
	}
	out.Normalize()
	return &out, nil
}

// Curate implements Curator.
func (l *LLM) Curate(ctx context.Context, in CurationInput) (*models.UpdateBatch, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Reflection analysis:\n%s\n\n", in.ReflectionAnalysis)
	if r := in.Reflection; r != nil {
		if len(r.HelpfulSkillIDs) > 0 {
			fmt.Fprintf(&b, "Helpful skills: %s\n", strings.Join(r.HelpfulSkillIDs, ", "))
		}
		if len(r.HarmfulSkillIDs) > 0 {
			fmt.Fprintf(&b, "Harmful skills: %s\n", strings.Join(r.HarmfulSkillIDs, ", "))
		}
		for _, nl := range r.NewLearnings {
			fmt.Fprintf(&b, "Proposed learning [%s] (atomicity %.2f): %s\n", nl.Section, nl.Atomicity, nl.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Skillbook:\n%s\n", in.Skillbook.Prompt())

	var batch models.UpdateBatch
	if err := l.complete(ctx, "curate", curatorSystemPrompt, b.String(), &batch); err != nil {
		return nil, err
	}
	if batch.Operations == nil {
		batch.Operations = []models.UpdateOperation{}
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	return &batch, nil
}

func (l *LLM) complete(ctx context.Context, capability, system, user string, out any) error {
	resp, err := l.protocol.CreateChatCompletion(ctx, &provider.ChatCompletionRequest{
		Model: l.model,
		Messages: []provider.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    l.temperature,
		MaxTokens:      l.maxTokens,
		ResponseFormat: &provider.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", capability, err)
	}

	content, err := resp.Content()
	if err != nil {
		return fmt.Errorf("%s: %w", capability, err)
	}
	if err := ParseJSON(content, out); err != nil {
		l.logger.Debug("unparseable model response",
			zap.String("capability", capability),
			zap.String("content", content))
		return fmt.Errorf("%s: %w", capability, err)
	}
	return nil
}
