// Package telemetry provides lightweight observability for the preview
// gateway: labeled counters, gauges, and a Prometheus text exposition
// endpoint, all on standard library constructs.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
)

// Metric names used across the gateway.
const (
	MetricPreviewFetch   = "pacs_preview_fetch_total"        // labels: outcome
	MetricRouteDecision  = "preview_route_decisions_total"   // labels: outcome
	MetricResolveLookup  = "pacs_instance_resolve_total"     // labels: outcome
	MetricValidationRuns = "migration_validation_runs_total" // labels: status
)

// Route decision outcomes.
const (
	OutcomeExternalSelected = "external_selected"
	OutcomeLegacySelected   = "legacy_selected"
	OutcomeFallbackToLegacy = "fallback_to_legacy"
)

// Generic operation outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeFallback = "fallback"
	OutcomeCacheHit = "cache_hit"
	OutcomeMiss     = "miss"
)

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) inc(key string) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, 1)
		return
	}
	s.mu.Lock()
	if p, ok = s.items[key]; !ok {
		v := int64(1)
		s.items[key] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, 1)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

type gaugeStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newGaugeStore() *gaugeStore {
	return &gaugeStore{items: make(map[string]*int64)}
}

func (s *gaugeStore) set(name string, val int64) {
	s.mu.RLock()
	p, ok := s.items[name]
	s.mu.RUnlock()
	if ok {
		atomic.StoreInt64(p, val)
		return
	}
	s.mu.Lock()
	if p, ok = s.items[name]; !ok {
		v := val
		s.items[name] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.StoreInt64(p, val)
}

func (s *gaugeStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// Provider manages the gateway's metric state.
type Provider struct {
	serviceName string
	counters    *counterStore
	gauges      *gaugeStore
}

// NewProvider creates an empty metric registry for the named service.
func NewProvider(serviceName string) *Provider {
	if serviceName == "" {
		serviceName = "radview-gateway"
	}
	return &Provider{
		serviceName: serviceName,
		counters:    newCounterStore(),
		gauges:      newGaugeStore(),
	}
}

// counterKey builds the storage key for a labeled counter. Label order is
// part of the key, so call sites must pass labels consistently.
func counterKey(name string, labels []string) string {
	if len(labels) == 0 {
		return name
	}
	return name + "|" + strings.Join(labels, "|")
}

// Inc increments a labeled counter.
func (p *Provider) Inc(name string, labels ...string) {
	p.counters.inc(counterKey(name, labels))
}

// Counter returns the current value of a labeled counter, 0 if never
// incremented. Exported for tests and the health endpoint.
func (p *Provider) Counter(name string, labels ...string) int64 {
	return p.counters.get(counterKey(name, labels))
}

// SetGauge sets a gauge value.
func (p *Provider) SetGauge(name string, val int64) {
	p.gauges.set(name, val)
}

// PrometheusHandler serves the metric registry in Prometheus text
// exposition format (version 0.0.4).
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		b.WriteString("# HELP target_info Target metadata\n")
		b.WriteString("# TYPE target_info gauge\n")
		fmt.Fprintf(&b, "target_info{service_name=%q} 1\n", p.serviceName)

		counters := p.counters.snapshot()
		keys := make([]string, 0, len(counters))
		for k := range counters {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		seen := map[string]bool{}
		for _, key := range keys {
			name, label := splitKey(key)
			if !seen[name] {
				fmt.Fprintf(&b, "# TYPE %s counter\n", name)
				seen[name] = true
			}
			if label == "" {
				fmt.Fprintf(&b, "%s %d\n", name, counters[key])
			} else {
				fmt.Fprintf(&b, "%s{outcome=%q} %d\n", name, label, counters[key])
			}
		}

		gauges := p.gauges.snapshot()
		gnames := make([]string, 0, len(gauges))
		for k := range gauges {
			gnames = append(gnames, k)
		}
		sort.Strings(gnames)
		for _, name := range gnames {
			fmt.Fprintf(&b, "# TYPE %s gauge\n", name)
			fmt.Fprintf(&b, "%s %d\n", name, gauges[name])
		}

		return c.String(http.StatusOK, b.String())
	}
}

func splitKey(key string) (name, label string) {
	idx := strings.Index(key, "|")
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}
