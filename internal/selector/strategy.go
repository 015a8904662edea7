// Package selector precomputes an endpoint-per-request assignment for a
// multi-endpoint TestSpec, for the three distribution strategies spec §4.4
// names: round_robin, weighted, sequential. The weighted bag and its
// crypto/rand-backed pick are adapted from the teacher's weighted
// selector; round_robin and sequential are new, since the teacher had no
// equivalent of either.
package selector

import (
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/example/loadtest/internal/specmodel"
)

// ErrNoEndpoints is returned when a Selector is built with no endpoints.
var ErrNoEndpoints = errors.New("selector: no endpoints available")

// Selector assigns the endpoint for the i-th request (1-indexed) of a run.
// A Selector is immutable after construction and safe for concurrent use.
type Selector interface {
	// Select returns the endpoint assigned to request number n (1-indexed).
	Select(n int) specmodel.EndpointSpec
}

// New builds the Selector for strategy over endpoints, sized for
// totalRequests requests. It returns ErrNoEndpoints if endpoints is empty.
func New(strategy specmodel.DistributionStrategy, endpoints []specmodel.EndpointSpec, totalRequests int) (Selector, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	switch strategy {
	case specmodel.DistributionWeighted:
		return newWeighted(endpoints), nil
	case specmodel.DistributionSequential:
		return newSequential(endpoints, totalRequests), nil
	default:
		return roundRobin{endpoints: endpoints}, nil
	}
}

// roundRobin implements "the i-th request selects endpoints[(i-1) mod k]".
type roundRobin struct {
	endpoints []specmodel.EndpointSpec
}

func (r roundRobin) Select(n int) specmodel.EndpointSpec {
	k := len(r.endpoints)
	idx := (n - 1) % k
	if idx < 0 {
		idx += k
	}
	return r.endpoints[idx]
}

// weightedEntry is one slot of the cumulative-weight bag used for i.i.d.
// weighted selection.
type weightedEntry struct {
	endpoint         specmodel.EndpointSpec
	cumulativeWeight int
}

// weighted implements the i.i.d. bag: endpoint e appears e.Weight times,
// each pick uniform over the cumulative-weight range via crypto/rand.
type weighted struct {
	entries     []weightedEntry
	totalWeight int
}

func newWeighted(endpoints []specmodel.EndpointSpec) *weighted {
	entries := make([]weightedEntry, 0, len(endpoints))
	total := 0
	for _, ep := range endpoints {
		w := ep.Weight
		if w <= 0 {
			w = 1
		}
		total += w
		entries = append(entries, weightedEntry{endpoint: ep, cumulativeWeight: total})
	}
	return &weighted{entries: entries, totalWeight: total}
}

func (w *weighted) Select(int) specmodel.EndpointSpec {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(w.totalWeight)))
	target := 0
	if err == nil {
		target = int(n.Int64())
	}

	low, high := 0, len(w.entries)-1
	for low < high {
		mid := (low + high) / 2
		if w.entries[mid].cumulativeWeight <= target {
			low = mid + 1
		} else {
			high = mid
		}
	}
	return w.entries[low].endpoint
}

// sequential implements contiguous-range partitioning: k ranges of size
// floor(total/k), the first (total mod k) ranges getting one extra
// request, earlier endpoints receiving the remainder.
type sequential struct {
	endpoints    []specmodel.EndpointSpec
	rangeStarts  []int // 1-indexed inclusive start of each endpoint's range
}

func newSequential(endpoints []specmodel.EndpointSpec, totalRequests int) *sequential {
	k := len(endpoints)
	base := totalRequests / k
	remainder := totalRequests % k

	starts := make([]int, k)
	next := 1
	for i := range endpoints {
		starts[i] = next
		size := base
		if i < remainder {
			size++
		}
		next += size
	}
	return &sequential{endpoints: endpoints, rangeStarts: starts}
}

func (s *sequential) Select(n int) specmodel.EndpointSpec {
	idx := 0
	for i := len(s.rangeStarts) - 1; i >= 0; i-- {
		if n >= s.rangeStarts[i] {
			idx = i
			break
		}
	}
	return s.endpoints[idx]
}
