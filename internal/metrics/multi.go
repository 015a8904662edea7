package metrics

import (
	"sync"

	"github.com/example/loadtest/internal/specmodel"
)

// MultiCollector fans out outcomes to per-endpoint collectors plus an
// aggregate collector, per spec §4.6's multi-endpoint variant. Threshold
// checks always use the aggregate.
type MultiCollector struct {
	aggregate *Collector

	mu        sync.RWMutex
	endpoints map[string]*Collector
	order     []string // endpoint names in constructor order, for stable EndpointMetrics output
}

// NewMultiCollector creates a MultiCollector with collectors pre-registered
// for each known endpoint name, so outcomes for them route correctly even
// before any outcome arrives.
func NewMultiCollector(endpointNames []string) *MultiCollector {
	mc := &MultiCollector{
		aggregate: NewCollector(),
		endpoints: make(map[string]*Collector, len(endpointNames)),
	}
	for _, name := range endpointNames {
		mc.endpoints[name] = NewCollector()
		mc.order = append(mc.order, name)
	}
	return mc
}

// Record routes r to the aggregate and, if endpoint_name matches a known
// endpoint, that endpoint's collector.
func (mc *MultiCollector) Record(r specmodel.RequestResult) {
	mc.aggregate.Record(r)
	mc.mu.RLock()
	ep, ok := mc.endpoints[r.EndpointName]
	mc.mu.RUnlock()
	if ok {
		ep.Record(r)
	}
}

// Stop stops the aggregate and every endpoint collector.
func (mc *MultiCollector) Stop() {
	mc.aggregate.Stop()
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	for _, ep := range mc.endpoints {
		ep.Stop()
	}
}

// Aggregate computes the aggregate Metrics.
func (mc *MultiCollector) Aggregate() specmodel.Metrics {
	return mc.aggregate.Compute()
}

// EndpointMetrics computes the per-endpoint sub-aggregates in the order the
// endpoint names were passed to NewMultiCollector.
func (mc *MultiCollector) EndpointMetrics() []specmodel.EndpointMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	out := make([]specmodel.EndpointMetrics, 0, len(mc.order))
	for _, name := range mc.order {
		out = append(out, specmodel.EndpointMetrics{EndpointName: name, Metrics: mc.endpoints[name].Compute()})
	}
	return out
}
