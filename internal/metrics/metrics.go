// Package metrics reports actor activity through a tally scope.
package metrics

import (
	"strconv"
	"time"

	"github.com/uber-go/tally/v4"

	"github.com/gogpu/gpuproc/extimage"
)

// Metric names.
const (
	Requests        = "requests"
	RequestErrors   = "request_errors"
	FramesPresented = "frames_presented"
	FramesDropped   = "frames_dropped"
	MapsFailed      = "maps_failed"
	PendingMaps     = "pending_maps"
	PoolUnassigned  = "pool_unassigned"
	PoolAvailable   = "pool_available"
	PoolQueued      = "pool_queued"
	Maintenance     = "maintenance"
)

// Tag keys.
const (
	TagKind    = "kind"
	TagSurface = "surface"
)

// Metrics wraps a scope with the actor's instruments. Instruments are
// cached per tag value since the actor reports on every request.
type Metrics struct {
	scope tally.Scope

	requests map[string]tally.Counter
	errors   map[string]tally.Counter

	presented   tally.Counter
	dropped     tally.Counter
	mapsFailed  tally.Counter
	pendingMaps tally.Gauge
	maintenance tally.Timer
}

// New creates Metrics on scope. A nil scope reports nowhere.
func New(scope tally.Scope) *Metrics {
	if scope == nil {
		scope = tally.NoopScope
	}
	return &Metrics{
		scope:       scope,
		requests:    make(map[string]tally.Counter),
		errors:      make(map[string]tally.Counter),
		presented:   scope.Counter(FramesPresented),
		dropped:     scope.Counter(FramesDropped),
		mapsFailed:  scope.Counter(MapsFailed),
		pendingMaps: scope.Gauge(PendingMaps),
		maintenance: scope.Timer(Maintenance),
	}
}

// Request counts one handled request of kind.
func (m *Metrics) Request(kind string) {
	m.counter(m.requests, Requests, kind).Inc(1)
}

// RequestError counts a request of kind that failed.
func (m *Metrics) RequestError(kind string) {
	m.counter(m.errors, RequestErrors, kind).Inc(1)
}

func (m *Metrics) counter(cache map[string]tally.Counter, name, kind string) tally.Counter {
	c, ok := cache[kind]
	if !ok {
		c = m.scope.Tagged(map[string]string{TagKind: kind}).Counter(name)
		cache[kind] = c
	}
	return c
}

// FramePresented counts a published frame.
func (m *Metrics) FramePresented() { m.presented.Inc(1) }

// FrameDropped counts a present that found no staging buffer.
func (m *Metrics) FrameDropped() { m.dropped.Inc(1) }

// MapFailed counts a map callback that did not succeed.
func (m *Metrics) MapFailed() { m.mapsFailed.Inc(1) }

// PendingMapsChanged reports the number of registered map operations.
func (m *Metrics) PendingMapsChanged(n int) { m.pendingMaps.Update(float64(n)) }

// Pool reports the list sizes of the staging pool of surface.
func (m *Metrics) Pool(surface extimage.ExternalID, unassigned, available, queued int) {
	s := m.scope.Tagged(map[string]string{TagSurface: strconv.FormatUint(uint64(surface), 10)})
	s.Gauge(PoolUnassigned).Update(float64(unassigned))
	s.Gauge(PoolAvailable).Update(float64(available))
	s.Gauge(PoolQueued).Update(float64(queued))
}

// Maintenance records the duration of one maintenance step.
func (m *Metrics) Maintenance(d time.Duration) { m.maintenance.Record(d) }
