package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jordanhubbard/guardian/pkg/models"
)

// CreateInteraction records a completed interaction awaiting learning.
func (d *Database) CreateInteraction(ctx context.Context, in *models.Interaction) error {
	if in == nil {
		return fmt.Errorf("interaction cannot be nil")
	}
	if in.LearningStatus == "" {
		in.LearningStatus = models.LearningStatusPending
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	var metadataJSON sql.NullString
	if len(in.Metadata) > 0 {
		data, err := json.Marshal(in.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode interaction metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := d.db.ExecContext(ctx, d.q(`
		INSERT INTO interactions (id, user_id, tier, outcome, question, reasoning_summary, metadata_json, learning_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		in.ID, in.UserID, in.Tier, string(in.Outcome), in.Question, in.ReasoningSummary,
		metadataJSON, string(in.LearningStatus), in.CreatedAt, in.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create interaction %s: %w", in.ID, err)
	}
	return nil
}

// FindInteraction looks up an interaction by id.
func (d *Database) FindInteraction(ctx context.Context, id string) (*models.Interaction, error) {
	in := &models.Interaction{}
	var tier, question, summary, metadataJSON sql.NullString
	var outcome, status string

	err := d.db.QueryRowContext(ctx, d.q(`
		SELECT id, user_id, tier, outcome, question, reasoning_summary, metadata_json, learning_status
		FROM interactions WHERE id = ?`), id,
	).Scan(&in.ID, &in.UserID, &tier, &outcome, &question, &summary, &metadataJSON, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("interaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find interaction %s: %w", id, err)
	}

	in.Tier = tier.String
	in.Outcome = models.Outcome(outcome)
	in.Question = question.String
	in.ReasoningSummary = summary.String
	in.LearningStatus = models.LearningStatus(status)
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &in.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for interaction %s: %w", id, err)
		}
	}
	return in, nil
}

// SetInteractionStatus moves an interaction to a new learning status.
func (d *Database) SetInteractionStatus(ctx context.Context, id string, status models.LearningStatus) error {
	result, err := d.db.ExecContext(ctx, d.q(`
		UPDATE interactions SET learning_status = ?, updated_at = ? WHERE id = ?`),
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set status of interaction %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check status update: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("interaction %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateGhostCard records a deferred-reflection card. Creating the same id
// twice is a no-op.
func (d *Database) CreateGhostCard(ctx context.Context, card *models.GhostCard) error {
	if card == nil {
		return fmt.Errorf("ghost card cannot be nil")
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx, d.q(`
		INSERT INTO ghost_cards (id, interaction_id, user_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		card.ID, card.InteractionID, card.UserID, card.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ghost card %s: %w", card.ID, err)
	}
	return nil
}

// FindGhostCard looks up a ghost card by id.
func (d *Database) FindGhostCard(ctx context.Context, id string) (*models.GhostCard, error) {
	card := &models.GhostCard{}
	err := d.db.QueryRowContext(ctx, d.q(`
		SELECT id, interaction_id, user_id FROM ghost_cards WHERE id = ?`), id,
	).Scan(&card.ID, &card.InteractionID, &card.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ghost card %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ghost card %s: %w", id, err)
	}
	return card, nil
}
