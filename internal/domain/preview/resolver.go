package preview

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/radview/radview/internal/domain/instance"
	"github.com/radview/radview/internal/platform/telemetry"
)

// Resolver discovers and caches the external preview server's identifier
// for locally-known instances. Resolution is idempotent: once an instance
// carries an ExternalID, Resolve is a cache hit with no network call.
type Resolver struct {
	finder  InstanceFinder
	repo    instance.Repository
	logger  zerolog.Logger
	metrics *telemetry.Provider

	// inflight serializes concurrent resolutions of the same SOP UID so a
	// burst of requests costs one lookup instead of many. A lost race is
	// harmless (both sides converge to the same id) but wasteful.
	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// NewResolver creates a resolver over the given lookup client and
// instance repository.
func NewResolver(finder InstanceFinder, repo instance.Repository, logger zerolog.Logger, metrics *telemetry.Provider) *Resolver {
	if metrics == nil {
		metrics = telemetry.NewProvider("")
	}
	return &Resolver{
		finder:   finder,
		repo:     repo,
		logger:   logger,
		metrics:  metrics,
		inflight: make(map[string]*sync.Mutex),
	}
}

func (r *Resolver) lockFor(sopUID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.inflight[sopUID]
	if !ok {
		m = &sync.Mutex{}
		r.inflight[sopUID] = m
	}
	return m
}

// Resolve returns the external identifier for inst, or "" when the
// instance has no external counterpart. Absence is a stable answer and is
// never retried here; transient lookup failures are also reported as ""
// so one broken instance cannot break frame mapping for its siblings.
// The only returned error is context cancellation.
//
// On success the mapping is persisted onto the instance record and the
// in-memory copy is updated, so subsequent calls are cache hits.
func (r *Resolver) Resolve(ctx context.Context, inst *instance.Instance) (string, error) {
	if inst.Resolved() {
		r.metrics.Inc(telemetry.MetricResolveLookup, telemetry.OutcomeCacheHit)
		return *inst.ExternalID, nil
	}

	lock := r.lockFor(inst.SOPInstanceUID)
	lock.Lock()
	defer lock.Unlock()

	// Another request may have resolved this instance while we waited.
	if latest, err := r.repo.GetByID(ctx, inst.ID); err == nil && latest.Resolved() {
		inst.ExternalID = latest.ExternalID
		r.metrics.Inc(telemetry.MetricResolveLookup, telemetry.OutcomeCacheHit)
		return *latest.ExternalID, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	ids, err := r.finder.FindInstance(ctx, inst.SOPInstanceUID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.metrics.Inc(telemetry.MetricResolveLookup, telemetry.OutcomeFailure)
		r.logger.Warn().Err(err).Str("sop_uid", inst.SOPInstanceUID).
			Msg("external instance lookup failed, treating as unresolved")
		return "", nil
	}

	if len(ids) != 1 {
		r.metrics.Inc(telemetry.MetricResolveLookup, telemetry.OutcomeMiss)
		r.logger.Debug().Str("sop_uid", inst.SOPInstanceUID).Int("matches", len(ids)).
			Msg("external lookup did not yield exactly one match")
		return "", nil
	}

	externalID := ids[0]
	if err := r.repo.SetExternalID(ctx, inst.ID, externalID); err != nil {
		// The mapping is still valid for this request; persistence will be
		// retried on the next unresolved access.
		r.logger.Warn().Err(err).Str("sop_uid", inst.SOPInstanceUID).
			Msg("failed to persist resolved external id")
	} else {
		// Persisted resolutions are cache hits from here on and never
		// reach lockFor again, so the entry would only leak.
		r.mu.Lock()
		delete(r.inflight, inst.SOPInstanceUID)
		r.mu.Unlock()
	}
	inst.ExternalID = &externalID

	r.metrics.Inc(telemetry.MetricResolveLookup, telemetry.OutcomeSuccess)
	return externalID, nil
}
