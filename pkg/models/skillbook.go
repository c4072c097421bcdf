package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNilSkillbook is returned when an update batch is applied to a nil skillbook.
var ErrNilSkillbook = errors.New("skillbook cannot be nil")

// SkillStatus is the lifecycle state of a skill. Skills are never deleted.
type SkillStatus string

const (
	SkillStatusActive   SkillStatus = "active"
	SkillStatusArchived SkillStatus = "archived"
)

// Skill is one learned behavioral strategy and its track record.
type Skill struct {
	ID        string      `json:"id"`
	Section   string      `json:"section"`
	Content   string      `json:"content"`
	Helpful   int         `json:"helpful"`
	Harmful   int         `json:"harmful"`
	Neutral   int         `json:"neutral"`
	Status    SkillStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Skillbook is a user's versioned collection of skills.
// Version is the optimistic-lock token: 0 means no row has been persisted yet.
type Skillbook struct {
	UserID  string  `json:"user_id"`
	Skills  []Skill `json:"skills"`
	Version int     `json:"version"`
}

// NewSkillbook returns an empty, never-persisted skillbook for a user.
func NewSkillbook(userID string) *Skillbook {
	return &Skillbook{UserID: userID, Skills: []Skill{}}
}

// Clone returns a deep copy of the skillbook.
func (sb *Skillbook) Clone() *Skillbook {
	if sb == nil {
		return nil
	}
	skills := make([]Skill, len(sb.Skills))
	copy(skills, sb.Skills)
	return &Skillbook{UserID: sb.UserID, Skills: skills, Version: sb.Version}
}

// Find returns the index of the skill with the given id, or -1.
func (sb *Skillbook) Find(id string) int {
	for i := range sb.Skills {
		if sb.Skills[i].ID == id {
			return i
		}
	}
	return -1
}

// ActiveCount returns the number of active skills.
func (sb *Skillbook) ActiveCount() int {
	n := 0
	for _, s := range sb.Skills {
		if s.Status == SkillStatusActive {
			n++
		}
	}
	return n
}

// SectionSummary counts active skills per section.
func (sb *Skillbook) SectionSummary() map[string]int {
	out := make(map[string]int)
	for _, s := range sb.Skills {
		if s.Status == SkillStatusActive {
			out[s.Section]++
		}
	}
	return out
}

// SkillTotals aggregates outcome counters across every skill.
type SkillTotals struct {
	Helpful int `json:"helpful"`
	Harmful int `json:"harmful"`
	Neutral int `json:"neutral"`
}

// Totals sums helpful/harmful/neutral counters across all skills.
func (sb *Skillbook) Totals() SkillTotals {
	var t SkillTotals
	for _, s := range sb.Skills {
		t.Helpful += s.Helpful
		t.Harmful += s.Harmful
		t.Neutral += s.Neutral
	}
	return t
}

// Prompt renders the active skills grouped by section, in a compact form
// suitable for handing to the reflector and curator.
func (sb *Skillbook) Prompt() string {
	if sb == nil || sb.ActiveCount() == 0 {
		return "(empty skillbook)"
	}

	bySection := make(map[string][]Skill)
	var sections []string
	for _, s := range sb.Skills {
		if s.Status != SkillStatusActive {
			continue
		}
		if _, ok := bySection[s.Section]; !ok {
			sections = append(sections, s.Section)
		}
		bySection[s.Section] = append(bySection[s.Section], s)
	}
	sort.Strings(sections)

	var b strings.Builder
	for _, section := range sections {
		fmt.Fprintf(&b, "## %s\n", section)
		for _, s := range bySection[section] {
			fmt.Fprintf(&b, "[%s] %s (helpful=%d harmful=%d neutral=%d)\n",
				s.ID, s.Content, s.Helpful, s.Harmful, s.Neutral)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// SkillID derives a deterministic identifier from a skill's section and content,
// so an ADD reapplied to a different base produces the same id.
func SkillID(section, content string) string {
	prefix := strings.ToLower(strings.TrimSpace(section))
	prefix = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, prefix)
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	if prefix == "" {
		prefix = "skill"
	}

	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(section)))
	h.Write([]byte(":"))
	h.Write([]byte(strings.TrimSpace(content)))
	return prefix + "-" + hex.EncodeToString(h.Sum(nil))[:8]
}
