// Package validation implements the preflight harness that gates whether
// preview migration may be enabled: five weighted checks against the
// preview server and the routing layer, combined into a single score.
package validation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radview/radview/internal/domain/instance"
	"github.com/radview/radview/internal/domain/migration"
	"github.com/radview/radview/internal/domain/preview"
	"github.com/radview/radview/internal/platform/pacs"
	"github.com/radview/radview/internal/platform/telemetry"
)

// Status of a check or of the whole report.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// CheckResult is one named check with an optional tree of sub-checks.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Score     int           `json:"score"`
	Details   string        `json:"details,omitempty"`
	Subchecks []CheckResult `json:"subchecks,omitempty"`
}

// Report is the outcome of one harness run. The core keeps only the most
// recent report in memory; persistence and display belong to the caller.
type Report struct {
	ID         uuid.UUID     `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Checks     []CheckResult `json:"checks"`
	Status     Status        `json:"status"`
	Score      int           `json:"score"`
}

// PACSClient is the slice of the preview server client the harness
// exercises. *pacs.Client satisfies it.
type PACSClient interface {
	SystemInfo(ctx context.Context) (*pacs.SystemInfo, error)
	ListInstances(ctx context.Context, limit int) ([]string, error)
	FetchMetadata(ctx context.Context, externalID string) (*pacs.InstanceMetadata, error)
	FetchPreview(ctx context.Context, externalID string, frameIndex int, opts pacs.PreviewOptions) ([]byte, error)
	FindInstance(ctx context.Context, sopUID string) ([]string, error)
}

// Harness runs the preflight validation suite. All routing checks operate
// on sandboxed configuration stores and an in-memory instance repository,
// never on the live migration config.
type Harness struct {
	client  PACSClient
	live    *migration.Store
	logger  zerolog.Logger
	metrics *telemetry.Provider

	mu         sync.RWMutex
	lastReport *Report
}

// NewHarness creates a harness over the given client. live supplies the
// configuration snapshot the rollback check seeds its sandbox from; it is
// read once per run and never written, and may be nil (the CLI path runs
// without a live store), in which case safe defaults are used.
func NewHarness(client PACSClient, live *migration.Store, logger zerolog.Logger, metrics *telemetry.Provider) *Harness {
	if metrics == nil {
		metrics = telemetry.NewProvider("")
	}
	return &Harness{client: client, live: live, logger: logger, metrics: metrics}
}

// LastReport returns the most recent report, or nil before the first run.
func (h *Harness) LastReport() *Report {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReport
}

// Run executes all five checks and aggregates them. Checks are
// independent and run concurrently; the checks that toggle configuration
// each own a private sandbox store, so no check can observe another's
// temporary state.
func (h *Harness) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		Checks:    make([]CheckResult, 5),
	}

	checks := []func(context.Context) CheckResult{
		h.checkConnectivity,
		h.checkCompressionCoverage,
		h.checkFlagLogic,
		h.checkRollbackSafety,
		h.checkErrorHandling,
	}

	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check func(context.Context) CheckResult) {
			defer wg.Done()
			report.Checks[i] = check(ctx)
		}(i, check)
	}
	wg.Wait()

	report.FinishedAt = time.Now()
	aggregate(report)

	h.metrics.Inc(telemetry.MetricValidationRuns, string(report.Status))
	h.logger.Info().Str("report_id", report.ID.String()).
		Str("status", string(report.Status)).Int("score", report.Score).
		Msg("validation run finished")

	h.mu.Lock()
	h.lastReport = report
	h.mu.Unlock()
	return report, nil
}

// aggregate computes the overall status and score: the arithmetic mean of
// the check scores, except that a connectivity failure is fatal and
// forces failed/0 regardless of the other checks.
func aggregate(report *Report) {
	if report.Checks[0].Status == StatusFailed {
		report.Status = StatusFailed
		report.Score = 0
		return
	}

	sum := 0
	failed := false
	for _, c := range report.Checks {
		sum += c.Score
		if c.Status == StatusFailed {
			failed = true
		}
	}
	report.Score = sum / len(report.Checks)
	if failed {
		report.Status = StatusFailed
	} else {
		report.Status = StatusPassed
	}
}

// sandbox builds an isolated router over a private config store and an
// in-memory instance repository seeded with the given instances.
func (h *Harness) sandbox(ctx context.Context, cfg migration.Config, instances []*instance.Instance) (*preview.Router, *migration.Store, instance.Repository) {
	store := migration.NewStore(ctx, cfg, nil, h.logger)
	repo := instance.NewInMemoryRepo()
	for _, inst := range instances {
		_ = repo.Create(ctx, inst)
	}
	metrics := telemetry.NewProvider("validation-sandbox")
	resolver := preview.NewResolver(h.client, repo, h.logger, metrics)
	mapper := preview.NewMapper(h.client, resolver, repo, h.logger)
	router := preview.NewRouter(repo, mapper, h.client, store, metrics, h.logger)
	return router, store, repo
}
