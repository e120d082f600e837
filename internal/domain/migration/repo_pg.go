package migration

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type configRepoPG struct {
	pool *pgxpool.Pool
}

// NewConfigRepoPG returns a PostgreSQL-backed ConfigRepository. The
// configuration lives in a single-row table keyed by a fixed id.
func NewConfigRepoPG(pool *pgxpool.Pool) ConfigRepository {
	return &configRepoPG{pool: pool}
}

func (r *configRepoPG) Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := r.pool.QueryRow(ctx, `
		SELECT external_preview_enabled, rollout_percentage,
		       performance_threshold_ms, fallback_enabled
		FROM migration_config WHERE id = 1`).Scan(
		&cfg.ExternalPreviewEnabled, &cfg.RolloutPercentage,
		&cfg.PerformanceThresholdMs, &cfg.FallbackEnabled,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *configRepoPG) Save(ctx context.Context, cfg Config) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO migration_config (
			id, external_preview_enabled, rollout_percentage,
			performance_threshold_ms, fallback_enabled
		) VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			external_preview_enabled = EXCLUDED.external_preview_enabled,
			rollout_percentage = EXCLUDED.rollout_percentage,
			performance_threshold_ms = EXCLUDED.performance_threshold_ms,
			fallback_enabled = EXCLUDED.fallback_enabled,
			updated_at = NOW()`,
		cfg.ExternalPreviewEnabled, cfg.RolloutPercentage,
		cfg.PerformanceThresholdMs, cfg.FallbackEnabled,
	)
	return err
}
