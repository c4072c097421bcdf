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

// LoadSkillbook reads a user's skillbook and its version. A user with no row
// gets an empty skillbook at version 0.
func (d *Database) LoadSkillbook(ctx context.Context, userID string) (*models.Skillbook, error) {
	var skillsJSON string
	var version int
	err := d.db.QueryRowContext(ctx, d.q(`
		SELECT skills_json, version FROM skillbooks WHERE user_id = ?`), userID,
	).Scan(&skillsJSON, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewSkillbook(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load skillbook for %s: %w", userID, err)
	}

	sb := &models.Skillbook{UserID: userID, Version: version}
	if err := json.Unmarshal([]byte(skillsJSON), &sb.Skills); err != nil {
		return nil, fmt.Errorf("failed to decode skillbook for %s: %w", userID, err)
	}
	if sb.Skills == nil {
		sb.Skills = []models.Skill{}
	}
	return sb, nil
}

// UpdateSkillbookRow writes skills only if the stored version still equals
// expectedVersion. It returns the number of rows affected: 0 means another
// writer got there first.
func (d *Database) UpdateSkillbookRow(ctx context.Context, userID string, expectedVersion int, skills []models.Skill, newVersion int) (int64, error) {
	data, err := encodeSkills(skills)
	if err != nil {
		return 0, err
	}

	result, err := d.db.ExecContext(ctx, d.q(`
		UPDATE skillbooks
		SET skills_json = ?, version = ?, updated_at = ?
		WHERE user_id = ? AND version = ?`),
		data, newVersion, time.Now().UTC(), userID, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update skillbook for %s: %w", userID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check skillbook update: %w", err)
	}
	return rows, nil
}

// InsertSkillbookRow creates a user's first skillbook row. Losing a race to
// another first writer returns an error wrapping ErrSkillbookExists.
func (d *Database) InsertSkillbookRow(ctx context.Context, userID string, skills []models.Skill, version int) error {
	data, err := encodeSkills(skills)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = d.db.ExecContext(ctx, d.q(`
		INSERT INTO skillbooks (user_id, skills_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`),
		userID, data, version, now, now,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert skillbook for %s: %w", userID, ErrSkillbookExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert skillbook for %s: %w", userID, err)
	}
	return nil
}

func encodeSkills(skills []models.Skill) (string, error) {
	if skills == nil {
		skills = []models.Skill{}
	}
	data, err := json.Marshal(skills)
	if err != nil {
		return "", fmt.Errorf("failed to encode skills: %w", err)
	}
	return string(data), nil
}
