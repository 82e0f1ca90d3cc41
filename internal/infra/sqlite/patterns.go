package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// ListPatterns returns the tenant's patterns for the given keywords.
func (d *DB) ListPatterns(ctx context.Context, tenantID string, keywords []string) ([]domain.CategoryPattern, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	args := []any{tenantID}
	for _, k := range keywords {
		args = append(args, k)
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT tenant_id, keyword, category, weight, hit_count, last_reinforced_at, created_at
		FROM category_patterns
		WHERE tenant_id = ? AND keyword IN (`+placeholders(len(keywords))+`)
		ORDER BY keyword, category`, args...)
	if err != nil {
		return nil, fmt.Errorf("ListPatterns: query: %w", err)
	}
	defer rows.Close()

	var out []domain.CategoryPattern
	for rows.Next() {
		var (
			p                 domain.CategoryPattern
			reinforced, added int64
		)
		if err := rows.Scan(&p.TenantID, &p.Keyword, &p.Category, &p.Weight, &p.HitCount, &reinforced, &added); err != nil {
			return nil, fmt.Errorf("ListPatterns: scan: %w", err)
		}
		p.LastReinforcedAt = fromNanos(reinforced)
		p.CreatedAt = fromNanos(added)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SeedPattern inserts a pattern unless one exists for (keyword, category).
func (d *DB) SeedPattern(ctx context.Context, tenantID, keyword, category string, weight float64, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO category_patterns (tenant_id, keyword, category, weight, hit_count, last_reinforced_at, created_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (tenant_id, keyword, category) DO NOTHING`,
		tenantID, keyword, category, weight, toNanos(at), toNanos(at))
	if err != nil {
		return fmt.Errorf("SeedPattern: %w", err)
	}
	return nil
}

// RecordHit increments the hit count of an existing pattern.
func (d *DB) RecordHit(ctx context.Context, tenantID, keyword, category string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE category_patterns SET hit_count = hit_count + 1 WHERE tenant_id = ? AND keyword = ? AND category = ?`,
		tenantID, keyword, category)
	if err != nil {
		return fmt.Errorf("RecordHit: %w", err)
	}
	return nil
}

// ReinforcePattern adds increment to a pattern's weight in one upsert.
func (d *DB) ReinforcePattern(ctx context.Context, tenantID, keyword, category string, increment float64, at time.Time) (domain.CategoryPattern, error) {
	var (
		p                 domain.CategoryPattern
		reinforced, added int64
	)
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO category_patterns (tenant_id, keyword, category, weight, hit_count, last_reinforced_at, created_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (tenant_id, keyword, category) DO UPDATE SET
			weight = weight + excluded.weight,
			hit_count = hit_count + 1,
			last_reinforced_at = excluded.last_reinforced_at
		RETURNING tenant_id, keyword, category, weight, hit_count, last_reinforced_at, created_at`,
		tenantID, keyword, category, increment, toNanos(at), toNanos(at),
	).Scan(&p.TenantID, &p.Keyword, &p.Category, &p.Weight, &p.HitCount, &reinforced, &added)
	if err != nil {
		return domain.CategoryPattern{}, fmt.Errorf("ReinforcePattern: %w", err)
	}
	p.LastReinforcedAt = fromNanos(reinforced)
	p.CreatedAt = fromNanos(added)
	return p, nil
}
