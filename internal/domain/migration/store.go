package migration

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// ConfigRepository persists the migration configuration across restarts.
// Optional: a nil repository keeps the configuration in memory only.
type ConfigRepository interface {
	Load(ctx context.Context) (*Config, error)
	Save(ctx context.Context, cfg Config) error
}

// Store is the injected, thread-safe holder of the live migration
// configuration. Every router decision reads a snapshot through Get;
// administrative updates go through Update. There is no ambient global.
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	repo   ConfigRepository
	logger zerolog.Logger
}

// NewStore creates a store seeded with cfg. When repo is non-nil, a
// previously persisted configuration overrides the seed.
func NewStore(ctx context.Context, cfg Config, repo ConfigRepository, logger zerolog.Logger) *Store {
	s := &Store{cfg: cfg.Normalize(), repo: repo, logger: logger}
	if repo != nil {
		if saved, err := repo.Load(ctx); err != nil {
			logger.Warn().Err(err).Msg("could not load persisted migration config, using defaults")
		} else if saved != nil {
			s.cfg = saved.Normalize()
		}
	}
	return s
}

// Get returns a snapshot of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update replaces the configuration. The new value takes effect for the
// next routing decision; in-flight requests keep the snapshot they read.
func (s *Store) Update(ctx context.Context, cfg Config) (Config, error) {
	cfg = cfg.Normalize()

	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Save(ctx, cfg); err != nil {
			// Keep the in-memory update: routing correctness beats
			// persistence, and the next successful Save heals it.
			s.logger.Error().Err(err).Msg("failed to persist migration config")
		}
	}

	s.logger.Info().
		Bool("external_enabled", cfg.ExternalPreviewEnabled).
		Int("rollout_pct", cfg.RolloutPercentage).
		Bool("fallback", cfg.FallbackEnabled).
		Bool("was_enabled", prev.ExternalPreviewEnabled).
		Msg("migration config updated")
	return cfg, nil
}
