// Package hybrid composes the recent and historical ANN partitions into
// the single routing/search/vacuum surface the session facade calls
// (spec §4.6). It is grounded on the teacher's HybridIndexer: the same
// functional-options construction and mutex/closed idiom, generalized
// from "fan out to BM25 and vector" to "route to exactly one partition
// and merge parallel searches across both."
package hybrid

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fabstir/vectordb/internal/index"
	"github.com/fabstir/vectordb/internal/record"
	"github.com/fabstir/vectordb/internal/value"
)

// defaultTTrain is the recent-partition size that triggers historical
// training. The contract (spec §4.6) only requires a positive integer
// >= 10; bindings have used values from 10 to 130.
const defaultTTrain = 64

// defaultOverFetch multiplies the requested result count before querying
// each partition, giving the merge step room to drop tombstoned or
// filtered-out candidates without starving the final result.
const defaultOverFetch = 2

// minFetch is the floor applied to the per-partition fetch size
// regardless of how small k or overFetch are.
const minFetch = 10

// Orchestrator routes inserts to exactly one of the two partitions, fans
// searches out to both in parallel, and coordinates vacuum's handle
// remap across them and the record table.
type Orchestrator struct {
	mu sync.Mutex // guards the training-trigger check; searches take no lock

	table      *record.Table
	recent     *index.RecentPartition
	historical *index.HistoricalPartition

	tTrain    int
	overFetch int

	closed bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTTrain overrides the recent-partition size that triggers training.
func WithTTrain(n int) Option {
	return func(o *Orchestrator) { o.tTrain = n }
}

// WithOverFetch overrides the per-partition search over-fetch multiplier.
func WithOverFetch(n int) Option {
	return func(o *Orchestrator) { o.overFetch = n }
}

// New builds an Orchestrator over an existing record table and the two
// partition implementations; the caller owns their lifecycle (Close).
func New(table *record.Table, recent *index.RecentPartition, historical *index.HistoricalPartition, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		table:      table,
		recent:     recent,
		historical: historical,
		tTrain:     defaultTTrain,
		overFetch:  defaultOverFetch,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Add inserts a new record into the table and routes it to whichever
// partition is currently active, then checks whether this insert crosses
// T_train and triggers training + drain if so. The routing and the
// training check happen under the orchestrator's lock so a concurrent Add
// can't observe a half-trained state.
func (o *Orchestrator) Add(id string, vec []float32, metadata value.Value) (record.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	handle, err := o.table.Insert(id, vec, metadata)
	if err != nil {
		return 0, err
	}

	if o.historical.Trained() {
		if err := o.historical.Insert(handle, vec); err != nil {
			return 0, err
		}
		if err := o.table.SetPartition(handle, record.PartitionHistorical); err != nil {
			return 0, err
		}
	} else {
		if err := o.recent.Insert(handle, vec); err != nil {
			return 0, err
		}
		if err := o.maybeTrain(); err != nil {
			return 0, err
		}
	}

	return handle, nil
}

// maybeTrain trains the historical partition and drains every recent
// record into it in one step once the recent partition crosses T_train.
// Called with o.mu held.
func (o *Orchestrator) maybeTrain() error {
	if o.historical.Trained() {
		return nil
	}

	var samples []index.TrainSample
	o.table.Each(func(handle record.Handle, id string, vec []float32, metadata value.Value, tombstoned bool, partition record.PartitionTag) {
		if tombstoned || partition != record.PartitionRecent {
			return
		}
		cp := make([]float32, len(vec))
		copy(cp, vec)
		samples = append(samples, index.TrainSample{Handle: handle, Vector: cp})
	})

	if len(samples) <= o.tTrain {
		return nil
	}

	if err := o.historical.Train(samples); err != nil {
		return err
	}

	for _, s := range samples {
		if err := o.table.SetPartition(s.Handle, record.PartitionHistorical); err != nil {
			return err
		}
		if err := o.recent.Delete(s.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Delete soft-deletes id in the table and routes the delete to whichever
// partition currently owns its handle.
func (o *Orchestrator) Delete(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deleteLocked(id)
}

func (o *Orchestrator) deleteLocked(id string) error {
	handle, err := o.table.Tombstone(id)
	if err != nil {
		return err
	}
	return o.routeDelete(handle)
}

func (o *Orchestrator) routeDelete(handle record.Handle) error {
	tag, ok := o.table.Partition(handle)
	if !ok {
		return nil
	}
	if tag == record.PartitionHistorical {
		return o.historical.Delete(handle)
	}
	return o.recent.Delete(handle)
}

// DeleteMany soft-deletes every record whose (id, metadata) satisfies
// predicate and routes each to its owning partition. Returns the deleted
// ids.
func (o *Orchestrator) DeleteMany(predicate func(id string, metadata value.Value) bool) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, ids := o.table.TombstoneMany(predicate)
	for _, id := range ids {
		handle, ok := o.table.HandleForIDAny(id)
		if !ok {
			continue
		}
		if err := o.routeDelete(handle); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// Search fans a query out to both partitions in parallel, merges by
// ascending distance (ties broken by ascending handle), drops tombstoned
// handles defensively, and truncates to n merged candidates. n is
// expected to already be the caller's desired over-fetch size (the
// search pipeline computes M = max(k*overFetch, k*2, 10) and passes M
// here); this orchestrator applies its own over-fetch on top when
// querying each partition, per spec §4.6.
func (o *Orchestrator) Search(ctx context.Context, query []float32, n int) ([]index.Candidate, error) {
	perPartition := n * o.overFetch
	if perPartition < minFetch {
		perPartition = minFetch
	}

	var recentResults, historicalResults []index.Candidate
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recentResults, err = o.recent.Search(query, perPartition)
		return err
	})
	g.Go(func() error {
		var err error
		historicalResults, err = o.historical.Search(query, perPartition)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]index.Candidate, 0, len(recentResults)+len(historicalResults))
	merged = append(merged, recentResults...)
	merged = append(merged, historicalResults...)

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Distance != merged[j].Distance {
			return merged[i].Distance < merged[j].Distance
		}
		return merged[i].Handle < merged[j].Handle
	})

	live := merged[:0]
	for _, c := range merged {
		if o.table.IsTombstoned(c.Handle) {
			continue
		}
		live = append(live, c)
		if len(live) == n {
			break
		}
	}
	return live, nil
}

// Vacuum compacts the record table and applies the resulting handle
// remap to both partitions.
func (o *Orchestrator) Vacuum() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	removed, remap := o.table.Vacuum()
	if len(remap) == 0 && removed == 0 {
		return 0, nil
	}
	if err := o.recent.Rekey(remap, o.table.GetVector); err != nil {
		return removed, err
	}
	o.historical.Rekey(remap)
	return removed, nil
}

// HistoricalTrained reports whether the historical partition has been
// trained, for stats reporting ("indexType": "hybrid" vs "recent-only").
func (o *Orchestrator) HistoricalTrained() bool {
	return o.historical.Trained()
}

// Close releases both partitions. Idempotent.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.recent.Close(); err != nil {
		return err
	}
	return o.historical.Close()
}
