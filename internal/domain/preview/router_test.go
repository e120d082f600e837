package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/radview/radview/internal/domain/instance"
	"github.com/radview/radview/internal/domain/migration"
	"github.com/radview/radview/internal/platform/pacs"
	"github.com/radview/radview/internal/platform/telemetry"
)

// mockPreview serves canned bytes per external id.
type mockPreview struct {
	calls int
	img   []byte
	err   error
}

func (m *mockPreview) FetchPreview(context.Context, string, int, pacs.PreviewOptions) ([]byte, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.img, nil
}

func newTestRouter(t *testing.T, cfg migration.Config, fetcher *mockPreview, frameCounts ...int) (*Router, []*instance.Instance) {
	t.Helper()
	repo := instance.NewInMemoryRepo()
	finder := &mockFinder{results: map[string][]string{}}
	meta := &mockMeta{frames: map[string]int{}, errs: map[string]error{}}

	var instances []*instance.Instance
	for i, fc := range frameCounts {
		sop := fmt.Sprintf("1.2.%d", i+1)
		ext := fmt.Sprintf("ext-%d", i+1)
		inst := &instance.Instance{SeriesUID: "s1", SOPInstanceUID: sop, InstanceNumber: i + 1}
		if err := repo.Create(context.Background(), inst); err != nil {
			t.Fatalf("Create: %v", err)
		}
		finder.results[sop] = []string{ext}
		meta.frames[ext] = fc
		instances = append(instances, inst)
	}

	resolver := NewResolver(finder, repo, zerolog.Nop(), nil)
	mapper := NewMapper(meta, resolver, repo, zerolog.Nop())
	store := migration.NewStore(context.Background(), cfg, nil, zerolog.Nop())
	return NewRouter(repo, mapper, fetcher, store, nil, zerolog.Nop()), instances
}

func boolPtr(b bool) *bool { return &b }

func TestShouldUseExternal(t *testing.T) {
	r, _ := newTestRouter(t, migration.DefaultConfig(), &mockPreview{})

	cases := []struct {
		name string
		cfg  migration.Config
		req  Request
		want bool
	}{
		{"disabled globally", migration.Config{ExternalPreviewEnabled: false, RolloutPercentage: 100}, Request{SeriesUID: "s1"}, false},
		{"disabled beats override", migration.Config{ExternalPreviewEnabled: false}, Request{SeriesUID: "s1", UseExternal: boolPtr(true)}, false},
		{"override true at zero rollout", migration.Config{ExternalPreviewEnabled: true, RolloutPercentage: 0}, Request{SeriesUID: "s1", UseExternal: boolPtr(true)}, true},
		{"override false at full rollout", migration.Config{ExternalPreviewEnabled: true, RolloutPercentage: 100}, Request{SeriesUID: "s1", UseExternal: boolPtr(false)}, false},
		{"full rollout", migration.Config{ExternalPreviewEnabled: true, RolloutPercentage: 100}, Request{SeriesUID: "s1"}, true},
		{"zero rollout", migration.Config{ExternalPreviewEnabled: true, RolloutPercentage: 0}, Request{SeriesUID: "s1"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.ShouldUseExternal(tc.cfg, tc.req); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestShouldUseExternal_PartialRolloutIsDeterministic(t *testing.T) {
	r, _ := newTestRouter(t, migration.DefaultConfig(), &mockPreview{})
	cfg := migration.Config{ExternalPreviewEnabled: true, RolloutPercentage: 37}

	first := r.ShouldUseExternal(cfg, Request{SeriesUID: "series-abc"})
	for i := 0; i < 20; i++ {
		if r.ShouldUseExternal(cfg, Request{SeriesUID: "series-abc"}) != first {
			t.Fatal("decision flapped for a fixed series at partial rollout")
		}
	}

	// At a partial percentage, different series must not all land on the
	// same side of the cut.
	sawExternal, sawLegacy := false, false
	for i := 0; i < 100; i++ {
		if r.ShouldUseExternal(cfg, Request{SeriesUID: fmt.Sprintf("series-%d", i)}) {
			sawExternal = true
		} else {
			sawLegacy = true
		}
	}
	if !sawExternal || !sawLegacy {
		t.Error("expected a 37% rollout to split series across both paths")
	}
}

func TestGetFrame_ExternalSuccess(t *testing.T) {
	fetcher := &mockPreview{img: []byte("jpeg bytes")}
	r, _ := newTestRouter(t, migration.Config{ExternalPreviewEnabled: true, RolloutPercentage: 100}, fetcher, 5)

	img, err := r.GetFrame(context.Background(), Request{SeriesUID: "s1", GlobalFrameIndex: 2}, nil)
	if err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
	if !bytes.Equal(img, []byte("jpeg bytes")) {
		t.Error("unexpected image bytes")
	}
	if fetcher.calls != 1 {
		t.Errorf("expected one fetch, got %d", fetcher.calls)
	}
	if got := r.metrics.Counter(telemetry.MetricRouteDecision, telemetry.OutcomeExternalSelected); got != 1 {
		t.Errorf("expected 1 external_selected decision, got %d", got)
	}
	if got := r.metrics.Counter(telemetry.MetricRouteDecision, telemetry.OutcomeFallbackToLegacy); got != 0 {
		t.Errorf("expected no fallback decisions, got %d", got)
	}
}

func TestGetFrame_LegacySelected(t *testing.T) {
	fetcher := &mockPreview{img: []byte("external")}
	r, _ := newTestRouter(t, migration.DefaultConfig(), fetcher, 5)

	img, err := r.GetFrame(context.Background(), Request{SeriesUID: "s1"}, func(context.Context) ([]byte, error) {
		return []byte("legacy"), nil
	})
	if err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
	if !bytes.Equal(img, []byte("legacy")) {
		t.Error("expected legacy renderer output")
	}
	if fetcher.calls != 0 {
		t.Error("external fetcher must not be touched on the legacy path")
	}
	if got := r.metrics.Counter(telemetry.MetricRouteDecision, telemetry.OutcomeLegacySelected); got != 1 {
		t.Errorf("expected 1 legacy_selected decision, got %d", got)
	}
}

func TestGetFrame_FallsBackOnExternalFailure(t *testing.T) {
	fetcher := &mockPreview{err: fmt.Errorf("preview server exploded")}
	r, _ := newTestRouter(t, migration.Config{ExternalPreviewEnabled: true, RolloutPercentage: 100, FallbackEnabled: true}, fetcher, 5)

	img, err := r.GetFrame(context.Background(), Request{SeriesUID: "s1"}, func(context.Context) ([]byte, error) {
		return []byte("legacy"), nil
	})
	if err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
	if !bytes.Equal(img, []byte("legacy")) {
		t.Error("expected fallback to legacy output")
	}
	if got := r.metrics.Counter(telemetry.MetricRouteDecision, telemetry.OutcomeExternalSelected); got != 1 {
		t.Errorf("expected 1 external_selected decision, got %d", got)
	}
	if got := r.metrics.Counter(telemetry.MetricRouteDecision, telemetry.OutcomeFallbackToLegacy); got != 1 {
		t.Errorf("expected 1 fallback_to_legacy decision, got %d", got)
	}
}

func TestGetFrame_UnknownSeriesFallsBack(t *testing.T) {
	r, _ := newTestRouter(t, migration.Config{ExternalPreviewEnabled: true, RolloutPercentage: 100}, &mockPreview{img: []byte("x")}, 5)

	img, err := r.GetFrame(context.Background(), Request{SeriesUID: "no-such-series"}, func(context.Context) ([]byte, error) {
		return []byte("legacy"), nil
	})
	if err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
	if !bytes.Equal(img, []byte("legacy")) {
		t.Error("expected legacy output for an unknown series")
	}
}

func TestGetFrame_OutOfRangePropagates(t *testing.T) {
	r, _ := newTestRouter(t, migration.Config{ExternalPreviewEnabled: true, RolloutPercentage: 100}, &mockPreview{img: []byte("x")}, 5)

	legacyCalled := false
	_, err := r.GetFrame(context.Background(), Request{SeriesUID: "s1", GlobalFrameIndex: 99}, func(context.Context) ([]byte, error) {
		legacyCalled = true
		return []byte("legacy"), nil
	})
	if !errors.Is(err, pacs.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if legacyCalled {
		t.Error("out-of-range must never fall back to legacy")
	}
}

func TestGetFrame_InvalidArgumentsPropagate(t *testing.T) {
	r, _ := newTestRouter(t, migration.Config{ExternalPreviewEnabled: true, RolloutPercentage: 100}, &mockPreview{img: []byte("x")}, 5)

	legacy := func(context.Context) ([]byte, error) { return []byte("legacy"), nil }

	if _, err := r.GetFrame(context.Background(), Request{SeriesUID: ""}, legacy); !errors.Is(err, pacs.ErrInvalidArgument) {
		t.Errorf("empty series uid: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := r.GetFrame(context.Background(), Request{SeriesUID: "s1", GlobalFrameIndex: -3}, legacy); !errors.Is(err, pacs.ErrInvalidArgument) {
		t.Errorf("negative index: expected ErrInvalidArgument, got %v", err)
	}
}

func TestGetFrame_NoLegacyRendererSurfacesError(t *testing.T) {
	fetcher := &mockPreview{err: fmt.Errorf("preview server exploded")}
	r, _ := newTestRouter(t, migration.Config{ExternalPreviewEnabled: true, RolloutPercentage: 100}, fetcher, 5)

	_, err := r.GetFrame(context.Background(), Request{SeriesUID: "s1"}, nil)
	if err == nil {
		t.Fatal("expected error when external fails and no legacy renderer exists")
	}
	if !errors.Is(err, pacs.ErrStructural) {
		t.Errorf("expected structural tag, got %v", err)
	}
}

func TestRolloutBucket_Range(t *testing.T) {
	for i := 0; i < 500; i++ {
		b := rolloutBucket(fmt.Sprintf("series-%d", i))
		if b < 0 || b >= 100 {
			t.Fatalf("bucket %d out of [0,100)", b)
		}
	}
}
