package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foxzi/segmentry/internal/catalog"
	"github.com/foxzi/segmentry/internal/models"
	"github.com/google/uuid"
)

type SegmentRepository struct {
	db *sql.DB
}

func NewSegmentRepository(db *sql.DB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

// Create creates a new segment
func (r *SegmentRepository) Create(s *models.Segment) error {
	s.ID = uuid.New().String()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt

	predicates, err := json.Marshal(s.Predicates)
	if err != nil {
		return fmt.Errorf("failed to encode predicates: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO segments (id, name, description, predicates, is_dynamic, estimated_size, last_calculated_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Description, string(predicates), s.IsDynamic, s.EstimatedSize, s.LastCalculatedAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}
	return nil
}

// GetByID returns a segment by ID
func (r *SegmentRepository) GetByID(id string) (*models.Segment, error) {
	row := r.db.QueryRow(`
		SELECT id, name, description, predicates, is_dynamic, estimated_size, last_calculated_at, created_at, updated_at
		FROM segments WHERE id = ?`, id,
	)
	return scanSegment(row)
}

// List returns segments with optional filtering
func (r *SegmentRepository) List(filter models.SegmentListFilter) ([]models.Segment, int, error) {
	countQuery := "SELECT COUNT(*) FROM segments WHERE 1=1"
	args := []any{}

	if filter.Search != "" {
		countQuery += " AND (name LIKE ? OR description LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, name, description, predicates, is_dynamic, estimated_size, last_calculated_at, created_at, updated_at
		FROM segments WHERE 1=1`

	args = []any{}
	if filter.Search != "" {
		query += " AND (name LIKE ? OR description LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	query += " ORDER BY updated_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	segments := []models.Segment{}
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, 0, err
		}
		segments = append(segments, *s)
	}

	return segments, total, nil
}

// Update updates a segment's definition. The cached size is written only
// through UpdateSize.
func (r *SegmentRepository) Update(s *models.Segment) error {
	s.UpdatedAt = time.Now()

	predicates, err := json.Marshal(s.Predicates)
	if err != nil {
		return fmt.Errorf("failed to encode predicates: %w", err)
	}

	_, err = r.db.Exec(`
		UPDATE segments SET name = ?, description = ?, predicates = ?, is_dynamic = ?, updated_at = ?
		WHERE id = ?`,
		s.Name, s.Description, string(predicates), s.IsDynamic, s.UpdatedAt, s.ID,
	)
	return err
}

// Delete deletes a segment
func (r *SegmentRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM segments WHERE id = ?", id)
	return err
}

// UpdateSize writes the recalculated size and timestamp, but only if the
// stored last_calculated_at still matches prev. The compare-and-swap keeps a
// slower, staler recalculation from overwriting a newer one. Returns false
// when the swap lost.
func (r *SegmentRepository) UpdateSize(id string, size int, calculatedAt time.Time, prev *time.Time) (bool, error) {
	var res sql.Result
	var err error

	if prev == nil {
		res, err = r.db.Exec(`
			UPDATE segments SET estimated_size = ?, last_calculated_at = ?
			WHERE id = ? AND last_calculated_at IS NULL`,
			size, calculatedAt, id,
		)
	} else {
		res, err = r.db.Exec(`
			UPDATE segments SET estimated_size = ?, last_calculated_at = ?
			WHERE id = ? AND last_calculated_at = ?`,
			size, calculatedAt, id, *prev,
		)
	}
	if err != nil {
		return false, fmt.Errorf("failed to update segment size: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row rowScanner) (*models.Segment, error) {
	s := &models.Segment{}
	var predicates string
	var lastCalculated sql.NullTime

	err := row.Scan(&s.ID, &s.Name, &s.Description, &predicates, &s.IsDynamic, &s.EstimatedSize, &lastCalculated, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(predicates), &s.Predicates); err != nil {
		return nil, fmt.Errorf("failed to decode predicates for segment %s: %w", s.ID, err)
	}
	if s.Predicates == nil {
		s.Predicates = []catalog.Predicate{}
	}
	if lastCalculated.Valid {
		t := lastCalculated.Time
		s.LastCalculatedAt = &t
	}
	return s, nil
}
