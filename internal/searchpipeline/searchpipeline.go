// Package searchpipeline implements the search algorithm the session
// facade exposes (spec §4.7): dimension check, filter parse, orchestrator
// candidate fetch, filter evaluation, distance-to-score conversion,
// threshold drop, truncation, and optional vector hydration. It is
// grounded on the teacher's pkg/searcher — the same functional-options
// searcher shape and "return an empty, non-nil slice rather than an
// error" convention — generalized from BM25/embedding fusion to a single
// vector search over the hybrid orchestrator.
package searchpipeline

import (
	"context"
	"math"
	"sort"

	dberrors "github.com/fabstir/vectordb/internal/errors"
	"github.com/fabstir/vectordb/internal/filter"
	"github.com/fabstir/vectordb/internal/hybrid"
	"github.com/fabstir/vectordb/internal/record"
	"github.com/fabstir/vectordb/internal/value"
)

// defaultOverFetch and minFetch mirror the hybrid orchestrator's own
// constants; the pipeline computes M independently per spec §4.7 step 3
// (the orchestrator then applies its own over-fetch on top per partition).
const (
	defaultOverFetch = 2
	minFetch         = 10
)

// Options configures one Search call. Threshold's zero value (0.0) is the
// spec-mandated default: no implicit filtering. This is a hard contract —
// never give Threshold a non-zero default.
type Options struct {
	Threshold      float32
	IncludeVectors bool
	Filter         value.Value // filter document, or the zero Value for "no filter"
}

// Result is one ranked search hit.
type Result struct {
	ID       string
	Score    float32
	Metadata value.Value
	Vector   []float32 // populated only when Options.IncludeVectors is set
}

// Hydrate ensures handle's vector is loaded before it is scored — the
// chunk-fault hook of spec §4.8 step 5. A session backed by
// internal/persist passes *persist.Manager.EnsureHandleLoaded; nil (or a
// session with nothing to fault in) is a safe no-op.
type Hydrate func(ctx context.Context, handle record.Handle) error

// Run executes the full search algorithm against table via orchestrator.
// A session with no record ever inserted has dimension 0 and matches
// nothing; it returns an empty result rather than a dimension mismatch,
// regardless of the query's length.
func Run(ctx context.Context, orch *hybrid.Orchestrator, table *record.Table, hydrate Hydrate, query []float32, k int, opts Options) ([]Result, error) {
	// Step 1: dimension check, before any candidate generation or filter parsing.
	dim := table.Dimension()
	if dim == 0 {
		return nil, nil
	}
	if len(query) != dim {
		return nil, dberrors.DimensionMismatch(dim, len(query))
	}

	// Step 2: parse the filter document; parse errors fail fast.
	filterDoc := opts.Filter
	if filterDoc.Kind() == value.KindNull {
		filterDoc = value.NewMap()
	}
	ast, err := filter.Parse(filterDoc)
	if err != nil {
		return nil, err
	}

	// Step 3: ask the orchestrator for a merged candidate list.
	m := k * defaultOverFetch
	if v := k * 2; v > m {
		m = v
	}
	if m < minFetch {
		m = minFetch
	}
	candidates, err := orch.Search(ctx, query, m)
	if err != nil {
		return nil, err
	}

	// Steps 4-6: evaluate the filter, convert distance to score, drop
	// below-threshold candidates.
	survivors := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if hydrate != nil {
			if err := hydrate(ctx, c.Handle); err != nil {
				return nil, err
			}
		}

		metadata, ok := table.GetMetadata(c.Handle)
		if !ok {
			continue
		}
		if !filter.Evaluate(ast, metadata) {
			continue
		}

		// Recompute distance from the table's vector rather than trusting
		// c.Distance: a historical candidate whose owning chunk was just
		// hydrated above has a stale zero-vector distance until its real
		// vector lands in the table.
		dist := c.Distance
		if vec, ok := table.GetVector(c.Handle); ok {
			dist = euclideanDistance(query, vec)
		}

		score := 1.0 / (1.0 + dist)
		if score < opts.Threshold {
			continue
		}

		id, ok := table.IDForHandle(c.Handle)
		if !ok {
			continue
		}
		survivors = append(survivors, Result{ID: id, Score: score, Metadata: metadata})
	}

	// Ordering guarantee: descending score, ties broken by ascending id.
	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].Score != survivors[j].Score {
			return survivors[i].Score > survivors[j].Score
		}
		return survivors[i].ID < survivors[j].ID
	})

	// Step 7: truncate to k; do not back-fill if fewer than k survive.
	if len(survivors) > k {
		survivors = survivors[:k]
	}

	// Step 8: optional vector hydration.
	if opts.IncludeVectors {
		for i := range survivors {
			handle, ok := table.HandleForID(survivors[i].ID)
			if !ok {
				continue
			}
			vec, ok := table.GetVector(handle)
			if ok {
				survivors[i].Vector = vec
			}
		}
	}

	return survivors, nil
}

func euclideanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}
