// Package reasoning implements the two remote capabilities the learning
// pipeline depends on: reflection over a finished interaction and curation
// of the resulting analysis into a skillbook update batch.
package reasoning

import (
	"context"

	"github.com/jordanhubbard/guardian/pkg/models"
)

// ReflectionInput is everything the reflector sees about one interaction.
type ReflectionInput struct {
	Question        string
	GeneratorAnswer string
	Feedback        string
	Skillbook       *models.Skillbook
}

// CurationInput pairs a reflection with the skillbook it should change.
type CurationInput struct {
	ReflectionAnalysis string
	Reflection         *models.ReflectionOutput
	Skillbook          *models.Skillbook
}

// Reflector analyzes an interaction against the user's skillbook.
type Reflector interface {
	Reflect(ctx context.Context, in ReflectionInput) (*models.ReflectionOutput, error)
}

// Curator turns a reflection into an ordered update batch.
type Curator interface {
	Curate(ctx context.Context, in CurationInput) (*models.UpdateBatch, error)
}

// ReflectorFunc adapts a function to Reflector.
type ReflectorFunc func(ctx context.Context, in ReflectionInput) (*models.ReflectionOutput, error)

func (f ReflectorFunc) Reflect(ctx context.Context, in ReflectionInput) (*models.ReflectionOutput, error) {
	return f(ctx, in)
}

// CuratorFunc adapts a function to Curator.
type CuratorFunc func(ctx context.Context, in CurationInput) (*models.UpdateBatch, error)

func (f CuratorFunc) Curate(ctx context.Context, in CurationInput) (*models.UpdateBatch, error) {
	return f(ctx, in)
}
