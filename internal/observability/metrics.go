// Package observability provides the diagnostics sink and metric
// exposition for FAB sessions.
package observability

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// Namespace prefixes every exported metric line.
const Namespace = "fab"

// Metric names, <component>_<field>.
const (
	MetricCoreTicks           = "core_ticks"
	MetricCoreFills           = "core_fills"
	MetricCoreMixes           = "core_mixes"
	MetricCoreModeTransitions = "core_mode_transitions"
	MetricCoreEnvelopeChanges = "core_envelope_changes"

	MetricBreakerOpenTotal  = "breaker_open_total"
	MetricBreakerCooldown   = "breaker_cooldown_remaining"
	MetricSelectorShadow    = "selector_shadow_total"
	MetricSelectorFallback  = "selector_fallback_total"
	MetricLimitCurrentMS    = "aimd_limit_current_ms"
	MetricMetaTargetMS      = "meta_target_ms"
	MetricRewardEMA         = "reward_ema"
	MetricStreamSize        = "window_stream_size"
	MetricGlobalSize        = "window_global_size"
)

// Counter is a monotonically increasing metric.
type Counter struct {
	value int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { atomic.AddInt64(&c.value, 1) }

// Add adds v to the counter.
func (c *Counter) Add(v int64) { atomic.AddInt64(&c.value, v) }

// Value returns the current value.
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Gauge is a metric that can move in both directions. Values are stored in
// thousandths so float-valued gauges survive the atomic representation.
type Gauge struct {
	milli int64
}

// Set sets the gauge.
func (g *Gauge) Set(v float64) { atomic.StoreInt64(&g.milli, int64(v*1000)) }

// Value returns the current value.
func (g *Gauge) Value() float64 { return float64(atomic.LoadInt64(&g.milli)) / 1000 }

// Registry holds one session's counters and gauges.
type Registry struct {
	mu       sync.RWMutex
	session  string
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

// NewRegistry creates an empty registry labeled with a session id.
func NewRegistry(session string) *Registry {
	return &Registry{
		session:  session,
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

// Counter returns the named counter, creating it on first use.
func (r *Registry) Counter(name string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; ok {
		return c
	}
	c = &Counter{}
	r.counters[name] = c
	return c
}

// Gauge returns the named gauge, creating it on first use.
func (r *Registry) Gauge(name string) *Gauge {
	r.mu.RLock()
	g, ok := r.gauges[name]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok = r.gauges[name]; ok {
		return g
	}
	g = &Gauge{}
	r.gauges[name] = g
	return g
}

// WriteText renders every metric in text exposition format:
// fab_<component>_<field>{session="..."} <value>, sorted by name.
func (r *Registry) WriteText(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.counters)+len(r.gauges))
	for name := range r.counters {
		names = append(names, name)
	}
	for name := range r.gauges {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var err error
		if c, ok := r.counters[name]; ok {
			_, err = fmt.Fprintf(w, "%s_%s{session=%q} %d\n", Namespace, name, r.session, c.Value())
		} else {
			_, err = fmt.Fprintf(w, "%s_%s{session=%q} %g\n", Namespace, name, r.session, r.gauges[name].Value())
		}
		if err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
