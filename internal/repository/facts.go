package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/foxzi/segmentry/internal/resolver"
)

// FactRepository reads the raw fact tables maintained by the surrounding
// commerce application. It implements resolver.FactSource; nothing here
// writes.
type FactRepository struct {
	db *sql.DB
}

func NewFactRepository(db *sql.DB) *FactRepository {
	return &FactRepository{db: db}
}

var _ resolver.FactSource = (*FactRepository)(nil)

// RecipientIDs returns the full recipient universe.
func (r *FactRepository) RecipientIDs(ctx context.Context) ([]string, error) {
	return r.queryIDs(ctx, "SELECT id FROM recipients")
}

// PurchaserIDs returns the distinct recipients with at least one purchase.
func (r *FactRepository) PurchaserIDs(ctx context.Context) ([]string, error) {
	return r.queryIDs(ctx, "SELECT DISTINCT recipient_id FROM purchases")
}

// Purchases returns all purchase facts.
func (r *FactRepository) Purchases(ctx context.Context) ([]resolver.Purchase, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT recipient_id, amount, purchased_at FROM purchases")
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	purchases := []resolver.Purchase{}
	for rows.Next() {
		var p resolver.Purchase
		if err := rows.Scan(&p.RecipientID, &p.Amount, &p.PurchasedAt); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// AttendanceCounts returns the number of attended events per recipient.
func (r *FactRepository) AttendanceCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT recipient_id, COUNT(*) FROM attendance GROUP BY recipient_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// PassTypes returns the pass category per pass-holding recipient. A
// recipient with several passes is represented by the latest issued one.
func (r *FactRepository) PassTypes(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT recipient_id, pass_type FROM passes ORDER BY issued_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}
	defer rows.Close()

	passes := make(map[string]string)
	for rows.Next() {
		var id, passType string
		if err := rows.Scan(&id, &passType); err != nil {
			return nil, err
		}
		passes[id] = passType
	}
	return passes, rows.Err()
}

// Engagements returns the latest engagement snapshot per recipient.
func (r *FactRepository) Engagements(ctx context.Context) ([]resolver.Engagement, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT recipient_id, level, email_opens, email_clicks FROM engagement")
	if err != nil {
		return nil, fmt.Errorf("failed to query engagement: %w", err)
	}
	defer rows.Close()

	engagements := []resolver.Engagement{}
	for rows.Next() {
		var e resolver.Engagement
		if err := rows.Scan(&e.RecipientID, &e.Level, &e.EmailOpens, &e.EmailClicks); err != nil {
			return nil, err
		}
		engagements = append(engagements, e)
	}
	return engagements, rows.Err()
}

func (r *FactRepository) queryIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
