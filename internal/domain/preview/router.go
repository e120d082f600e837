package preview

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/rs/zerolog"

	"github.com/radview/radview/internal/domain/instance"
	"github.com/radview/radview/internal/domain/migration"
	"github.com/radview/radview/internal/platform/pacs"
	"github.com/radview/radview/internal/platform/telemetry"
)

// Router decides, per request, whether a frame is served by the external
// preview server or the legacy internal renderer, and falls back to the
// legacy path when the external path fails structurally. The router never
// synthesizes image content and never mutates the migration config.
type Router struct {
	repo    instance.Repository
	mapper  *Mapper
	fetcher PreviewFetcher
	store   *migration.Store
	metrics *telemetry.Provider
	logger  zerolog.Logger
}

// NewRouter wires the routing layer.
func NewRouter(repo instance.Repository, mapper *Mapper, fetcher PreviewFetcher, store *migration.Store, metrics *telemetry.Provider, logger zerolog.Logger) *Router {
	if metrics == nil {
		metrics = telemetry.NewProvider("")
	}
	return &Router{
		repo:    repo,
		mapper:  mapper,
		fetcher: fetcher,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// rolloutBucket hashes a stable routing key into [0,100). FNV-1a keeps
// the decision deterministic per series, so a series does not flap
// between render paths across requests at a fixed rollout percentage.
func rolloutBucket(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % 100)
}

// ShouldUseExternal applies the migration decision rules in order:
// global disable is a hard override; an explicit per-request flag wins
// over the percentage rollout; 100 and 0 percent short-circuit; anything
// in between buckets the series UID deterministically.
func (r *Router) ShouldUseExternal(cfg migration.Config, req Request) bool {
	if !cfg.ExternalPreviewEnabled {
		return false
	}
	if req.UseExternal != nil {
		return *req.UseExternal
	}
	if cfg.RolloutPercentage >= 100 {
		return true
	}
	if cfg.RolloutPercentage <= 0 {
		return false
	}
	return rolloutBucket(req.SeriesUID) < cfg.RolloutPercentage
}

// GetFrame serves one frame for the request, through whichever path the
// current configuration selects. Invalid arguments and out-of-range
// indices are the caller's fault and propagate; every other external-path
// failure is absorbed into the legacy callback when one is supplied.
func (r *Router) GetFrame(ctx context.Context, req Request, legacy LegacyRenderFunc) ([]byte, error) {
	if req.SeriesUID == "" {
		return nil, fmt.Errorf("series uid is required: %w", pacs.ErrInvalidArgument)
	}
	if req.GlobalFrameIndex < 0 {
		return nil, fmt.Errorf("global frame index %d is negative: %w", req.GlobalFrameIndex, pacs.ErrInvalidArgument)
	}

	cfg := r.store.Get()
	if !r.ShouldUseExternal(cfg, req) {
		r.metrics.Inc(telemetry.MetricRouteDecision, telemetry.OutcomeLegacySelected)
		if legacy == nil {
			return nil, fmt.Errorf("legacy path selected but no legacy renderer supplied: %w", pacs.ErrStructural)
		}
		return legacy(ctx)
	}
	r.metrics.Inc(telemetry.MetricRouteDecision, telemetry.OutcomeExternalSelected)

	img, err := r.serveExternal(ctx, req)
	if err == nil {
		return img, nil
	}

	// Caller programming errors are hard failures on every path.
	if errors.Is(err, pacs.ErrOutOfRange) {
		return nil, err
	}
	if errors.Is(err, pacs.ErrInvalidArgument) && !errors.Is(err, pacs.ErrStructural) {
		return nil, err
	}

	if legacy == nil {
		return nil, err
	}
	r.metrics.Inc(telemetry.MetricRouteDecision, telemetry.OutcomeFallbackToLegacy)
	r.logger.Warn().Err(err).Str("series_uid", req.SeriesUID).
		Int("global_index", req.GlobalFrameIndex).
		Msg("external preview path failed, falling back to legacy renderer")
	return legacy(ctx)
}

// serveExternal runs the external path: instance list, frame mapping,
// then the preview fetch. Failures other than the caller-fault kinds are
// tagged structural so GetFrame can route them to the legacy path.
func (r *Router) serveExternal(ctx context.Context, req Request) ([]byte, error) {
	instances, err := r.repo.ListBySeries(ctx, req.SeriesUID)
	if err != nil {
		return nil, fmt.Errorf("list instances for series %s: %v: %w", req.SeriesUID, err, pacs.ErrStructural)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("series %s has no instances: %w", req.SeriesUID, pacs.ErrStructural)
	}

	ref, err := r.mapper.MapGlobalIndex(ctx, instances, req.GlobalFrameIndex)
	if err != nil {
		if errors.Is(err, pacs.ErrOutOfRange) || errors.Is(err, pacs.ErrInvalidArgument) {
			return nil, err
		}
		return nil, fmt.Errorf("map frame for series %s: %v: %w", req.SeriesUID, err, pacs.ErrStructural)
	}

	img, err := r.fetcher.FetchPreview(ctx, ref.ExternalID, ref.LocalIndex, pacs.PreviewOptions{Quality: req.Quality})
	if err != nil {
		return nil, fmt.Errorf("fetch preview %s frame %d: %v: %w", ref.ExternalID, ref.LocalIndex, err, pacs.ErrStructural)
	}
	return img, nil
}
