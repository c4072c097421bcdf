package models

import (
	"strings"
	"time"
)

// OperationKind identifies a skillbook mutation.
type OperationKind string

const (
	OperationAdd    OperationKind = "ADD"
	OperationTag    OperationKind = "TAG"
	OperationUpdate OperationKind = "UPDATE"
	OperationRemove OperationKind = "REMOVE"
)

// Tag values accepted by a TAG operation.
const (
	TagHelpful = "helpful"
	TagHarmful = "harmful"
	TagNeutral = "neutral"
)

// UpdateOperation is one curator-proposed mutation. Which fields are
// meaningful depends on Kind.
type UpdateOperation struct {
	Kind      OperationKind `json:"type"`
	Section   string        `json:"section,omitempty"`
	Content   string        `json:"content,omitempty"`
	SkillID   string        `json:"skill_id,omitempty"`
	Tag       string        `json:"tag,omitempty"`
	Increment int           `json:"increment,omitempty"`
}

// UpdateBatch is an ordered set of operations produced by the curator.
// It is never persisted directly.
type UpdateBatch struct {
	Reasoning  string            `json:"reasoning"`
	Operations []UpdateOperation `json:"operations"`
	CreatedAt  time.Time         `json:"created_at"`
}

// OperationsByType returns a histogram of operation kinds in the batch.
func (b *UpdateBatch) OperationsByType() map[string]int {
	out := make(map[string]int)
	if b == nil {
		return out
	}
	for _, op := range b.Operations {
		out[strings.ToUpper(string(op.Kind))]++
	}
	return out
}

// ApplyReport records what happened to each operation of a batch.
type ApplyReport struct {
	Applied int      `json:"applied"`
	Skipped int      `json:"skipped"`
	Reasons []string `json:"reasons,omitempty"`
}

func (r *ApplyReport) skip(reason string) {
	r.Skipped++
	r.Reasons = append(r.Reasons, reason)
}

// Apply returns a new skillbook with the batch applied in order. The input
// skillbook is left untouched, so retrying against a freshly loaded base
// never compounds onto an already-mutated copy.
//
// Unknown kinds and operations with missing or dangling fields are skipped
// and counted in the report. The returned skillbook keeps the input version.
func Apply(sb *Skillbook, batch *UpdateBatch) (*Skillbook, ApplyReport, error) {
	var report ApplyReport
	if sb == nil {
		return nil, report, ErrNilSkillbook
	}
	out := sb.Clone()
	if batch == nil {
		return out, report, nil
	}

	stamp := batch.CreatedAt
	for _, op := range batch.Operations {
		switch OperationKind(strings.ToUpper(string(op.Kind))) {
		case OperationAdd:
			content := strings.TrimSpace(op.Content)
			section := strings.TrimSpace(op.Section)
			if content == "" || section == "" {
				report.skip("ADD missing section or content")
				continue
			}
			id := op.SkillID
			if id == "" {
				id = SkillID(section, content)
			}
			if out.Find(id) >= 0 {
				report.skip("ADD duplicate skill " + id)
				continue
			}
			out.Skills = append(out.Skills, Skill{
				ID:        id,
				Section:   section,
				Content:   content,
				Status:    SkillStatusActive,
				CreatedAt: stamp,
				UpdatedAt: stamp,
			})
			report.Applied++

		case OperationTag:
			idx := out.Find(op.SkillID)
			if idx < 0 {
				report.skip("TAG unknown skill " + op.SkillID)
				continue
			}
			inc := op.Increment
			if inc == 0 {
				inc = 1
			}
			if inc < 0 {
				report.skip("TAG negative increment for " + op.SkillID)
				continue
			}
			s := &out.Skills[idx]
			switch strings.ToLower(op.Tag) {
			case TagHelpful:
				s.Helpful += inc
			case TagHarmful:
				s.Harmful += inc
			case TagNeutral:
				s.Neutral += inc
			default:
				report.skip("TAG unknown tag " + op.Tag)
				continue
			}
			s.UpdatedAt = stamp
			report.Applied++

		case OperationUpdate:
			idx := out.Find(op.SkillID)
			content := strings.TrimSpace(op.Content)
			if idx < 0 || content == "" {
				report.skip("UPDATE unknown skill or empty content " + op.SkillID)
				continue
			}
			s := &out.Skills[idx]
			s.Content = content
			if section := strings.TrimSpace(op.Section); section != "" {
				s.Section = section
			}
			s.UpdatedAt = stamp
			report.Applied++

		case OperationRemove:
			idx := out.Find(op.SkillID)
			if idx < 0 {
				report.skip("REMOVE unknown skill " + op.SkillID)
				continue
			}
			out.Skills[idx].Status = SkillStatusArchived
			out.Skills[idx].UpdatedAt = stamp
			report.Applied++

		default:
			report.skip("unknown operation " + string(op.Kind))
		}
	}

	return out, report, nil
}
