package models

import "math"

// Learning is a candidate strategy proposed by the reflector.
type Learning struct {
	Section   string  `json:"section"`
	Content   string  `json:"content"`
	Atomicity float64 `json:"atomicity"` // 0..1, how well-scoped the learning is
}

// ReflectionOutput is the per-interaction analysis produced by the reflector.
type ReflectionOutput struct {
	Analysis        string     `json:"analysis"`
	HelpfulSkillIDs []string   `json:"helpful_skill_ids"`
	HarmfulSkillIDs []string   `json:"harmful_skill_ids"`
	NewLearnings    []Learning `json:"new_learnings"`
}

// Normalize clamps atomicity scores into [0,1] and replaces nil slices. A
// NaN score counts as 0.
func (r *ReflectionOutput) Normalize() {
	if r.HelpfulSkillIDs == nil {
		r.HelpfulSkillIDs = []string{}
	}
	if r.HarmfulSkillIDs == nil {
		r.HarmfulSkillIDs = []string{}
	}
	if r.NewLearnings == nil {
		r.NewLearnings = []Learning{}
	}
	for i := range r.NewLearnings {
		switch a := r.NewLearnings[i].Atomicity; {
		case math.IsNaN(a), a < 0:
			r.NewLearnings[i].Atomicity = 0
		case a > 1:
			r.NewLearnings[i].Atomicity = 1
		}
	}
}

// LearningPipelineResult hands a reflection to the skill update stage. It
// binds the skillbook version read before reflection to the mutation it
// authorizes.
type LearningPipelineResult struct {
	ReflectionOutput *ReflectionOutput `json:"reflection_output"`
	InteractionID    string            `json:"interaction_id"`
	UserID           string            `json:"user_id"`
	Skillbook        *Skillbook        `json:"skillbook"`
	SkillbookVersion int               `json:"skillbook_version"`
	Tier             string            `json:"tier,omitempty"`
	Outcome          Outcome           `json:"outcome,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}
