package models

import (
	"time"

	"github.com/foxzi/segmentry/internal/catalog"
)

// Segment is a named, persisted conjunction of predicates plus its cached
// matching count.
type Segment struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Description      string              `json:"description"`
	Predicates       []catalog.Predicate `json:"predicates"`
	IsDynamic        bool                `json:"is_dynamic"`
	EstimatedSize    int                 `json:"estimated_size"`
	LastCalculatedAt *time.Time          `json:"last_calculated_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// SegmentListFilter for filtering segments
type SegmentListFilter struct {
	Search string
	Limit  int
	Offset int
}
