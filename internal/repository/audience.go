package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/segmentry/internal/models"
	"github.com/google/uuid"
)

// Attach records a segment attachment. The (campaign_id, segment_id) pair is
// unique at the schema level; callers check for an existing attachment first
// and the constraint is the backstop.
func (r *CampaignRepository) Attach(a *models.CampaignAudience) error {
	a.ID = uuid.New().String()
	a.AttachedAt = time.Now()

	_, err := r.db.Exec(`
		INSERT INTO campaign_audiences (id, campaign_id, segment_id, estimated_size_snapshot, attached_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.CampaignID, a.SegmentID, a.EstimatedSizeSnapshot, a.AttachedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to attach audience: %w", err)
	}
	return nil
}

// GetAudiences returns all audiences for a campaign
func (r *CampaignRepository) GetAudiences(campaignID string) ([]models.CampaignAudience, error) {
	rows, err := r.db.Query(`
		SELECT a.id, a.campaign_id, a.segment_id, s.name, a.estimated_size_snapshot, a.attached_at
		FROM campaign_audiences a
		LEFT JOIN segments s ON a.segment_id = s.id
		WHERE a.campaign_id = ?
		ORDER BY a.attached_at ASC`, campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	audiences := []models.CampaignAudience{}
	for rows.Next() {
		a, err := scanAudience(rows)
		if err != nil {
			return nil, err
		}
		audiences = append(audiences, *a)
	}

	return audiences, rows.Err()
}

// GetAudience returns an audience entry by ID
func (r *CampaignRepository) GetAudience(id string) (*models.CampaignAudience, error) {
	row := r.db.QueryRow(`
		SELECT a.id, a.campaign_id, a.segment_id, s.name, a.estimated_size_snapshot, a.attached_at
		FROM campaign_audiences a
		LEFT JOIN segments s ON a.segment_id = s.id
		WHERE a.id = ?`, id,
	)
	a, err := scanAudience(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetAudienceBySegment returns the audience entry for a (campaign, segment)
// pair, or nil when the segment is not attached.
func (r *CampaignRepository) GetAudienceBySegment(campaignID, segmentID string) (*models.CampaignAudience, error) {
	row := r.db.QueryRow(`
		SELECT a.id, a.campaign_id, a.segment_id, s.name, a.estimated_size_snapshot, a.attached_at
		FROM campaign_audiences a
		LEFT JOIN segments s ON a.segment_id = s.id
		WHERE a.campaign_id = ? AND a.segment_id = ?`, campaignID, segmentID,
	)
	a, err := scanAudience(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// DeleteAudience removes an audience entry
func (r *CampaignRepository) DeleteAudience(id string) error {
	_, err := r.db.Exec("DELETE FROM campaign_audiences WHERE id = ?", id)
	return err
}

// CountAudiences returns the number of audiences attached to a campaign
func (r *CampaignRepository) CountAudiences(campaignID string) (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM campaign_audiences WHERE campaign_id = ?", campaignID).Scan(&n)
	return n, err
}

// RecalcAudienceSize rewrites the campaign's audience size rollup as the sum
// of attached snapshots and returns the new value. Overlapping segments are
// not deduplicated here; the deduplicated figure is served separately.
func (r *CampaignRepository) RecalcAudienceSize(campaignID string) (int, error) {
	_, err := r.db.Exec(`
		UPDATE campaigns
		SET actual_audience_size = (
			SELECT COALESCE(SUM(estimated_size_snapshot), 0)
			FROM campaign_audiences WHERE campaign_id = ?
		), updated_at = ?
		WHERE id = ?`,
		campaignID, time.Now(), campaignID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recompute audience size: %w", err)
	}

	var size int
	err = r.db.QueryRow("SELECT actual_audience_size FROM campaigns WHERE id = ?", campaignID).Scan(&size)
	return size, err
}

func scanAudience(row rowScanner) (*models.CampaignAudience, error) {
	a := &models.CampaignAudience{}
	var segmentName sql.NullString

	err := row.Scan(&a.ID, &a.CampaignID, &a.SegmentID, &segmentName, &a.EstimatedSizeSnapshot, &a.AttachedAt)
	if err != nil {
		return nil, err
	}
	if segmentName.Valid {
		a.SegmentName = segmentName.String
	}
	return a, nil
}
