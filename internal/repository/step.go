package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/segmentry/internal/models"
	"github.com/google/uuid"
)

// AddStep appends a step to the end of the campaign's sequence. The step
// number is assigned inside the transaction so concurrent appends cannot
// produce duplicates.
func (r *CampaignRepository) AddStep(s *models.CampaignStep) error {
	s.ID = uuid.New().String()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRow(
		"SELECT COALESCE(MAX(step_number), 0) + 1 FROM campaign_steps WHERE campaign_id = ?",
		s.CampaignID,
	).Scan(&s.StepNumber)
	if err != nil {
		return fmt.Errorf("failed to assign step number: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO campaign_steps (id, campaign_id, step_number, channel, delay_days, delay_hours, subject, body, cta, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CampaignID, s.StepNumber, s.Channel, s.DelayDays, s.DelayHours, s.Subject, s.Body, s.CTA, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add step: %w", err)
	}

	return tx.Commit()
}

// GetSteps returns all steps for a campaign ordered by step number
func (r *CampaignRepository) GetSteps(campaignID string) ([]models.CampaignStep, error) {
	rows, err := r.db.Query(`
		SELECT id, campaign_id, step_number, channel, delay_days, delay_hours, subject, body, cta, created_at, updated_at
		FROM campaign_steps WHERE campaign_id = ?
		ORDER BY step_number ASC`, campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []models.CampaignStep{}
	for rows.Next() {
		var s models.CampaignStep
		err := rows.Scan(&s.ID, &s.CampaignID, &s.StepNumber, &s.Channel, &s.DelayDays, &s.DelayHours, &s.Subject, &s.Body, &s.CTA, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}

	return steps, rows.Err()
}

// GetStep returns a step by ID
func (r *CampaignRepository) GetStep(id string) (*models.CampaignStep, error) {
	s := &models.CampaignStep{}
	err := r.db.QueryRow(`
		SELECT id, campaign_id, step_number, channel, delay_days, delay_hours, subject, body, cta, created_at, updated_at
		FROM campaign_steps WHERE id = ?`, id,
	).Scan(&s.ID, &s.CampaignID, &s.StepNumber, &s.Channel, &s.DelayDays, &s.DelayHours, &s.Subject, &s.Body, &s.CTA, &s.CreatedAt, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateStep updates a step's channel, delays and content. The step number
// is immutable through this path.
func (r *CampaignRepository) UpdateStep(s *models.CampaignStep) error {
	s.UpdatedAt = time.Now()
	_, err := r.db.Exec(`
		UPDATE campaign_steps SET channel = ?, delay_days = ?, delay_hours = ?, subject = ?, body = ?, cta = ?, updated_at = ?
		WHERE id = ?`,
		s.Channel, s.DelayDays, s.DelayHours, s.Subject, s.Body, s.CTA, s.UpdatedAt, s.ID,
	)
	return err
}

// CountSteps returns the number of steps in a campaign
func (r *CampaignRepository) CountSteps(campaignID string) (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM campaign_steps WHERE campaign_id = ?", campaignID).Scan(&n)
	return n, err
}

// DeleteStep removes a step and renumbers the remaining steps of the same
// campaign back to a contiguous 1..N sequence, preserving relative order.
// The whole rewrite happens in one transaction.
func (r *CampaignRepository) DeleteStep(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var campaignID string
	var number int
	err = tx.QueryRow("SELECT campaign_id, step_number FROM campaign_steps WHERE id = ?", id).Scan(&campaignID, &number)
	if err == sql.ErrNoRows {
		return fmt.Errorf("step %s not found", id)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM campaign_steps WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete step: %w", err)
	}

	// Shift followers down one slot, in ascending order so each update
	// moves into the slot just vacated and never trips the uniqueness
	// constraint.
	rows, err := tx.Query(`
		SELECT id, step_number FROM campaign_steps
		WHERE campaign_id = ? AND step_number > ?
		ORDER BY step_number ASC`, campaignID, number,
	)
	if err != nil {
		return err
	}

	type shift struct {
		id     string
		number int
	}
	var shifts []shift
	for rows.Next() {
		var s shift
		if err := rows.Scan(&s.id, &s.number); err != nil {
			rows.Close()
			return err
		}
		shifts = append(shifts, s)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, s := range shifts {
		if _, err := tx.Exec("UPDATE campaign_steps SET step_number = ? WHERE id = ?", s.number-1, s.id); err != nil {
			return fmt.Errorf("failed to renumber step %s: %w", s.id, err)
		}
	}

	return tx.Commit()
}
