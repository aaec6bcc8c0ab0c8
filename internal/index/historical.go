package index

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"sync"

	dberrors "github.com/fabstir/vectordb/internal/errors"
	"github.com/fabstir/vectordb/internal/record"
)

// HistoricalPartition is a coarse-quantizer (IVF-style) index: the vector
// space is partitioned into a fixed number of clusters by a trained
// quantizer, each holding a posting list of handles and their raw
// vectors. No library in the retrieved corpus implements this directly,
// so it is hand-written, shaped structurally like RecentPartition (same
// mutex/closed/lazy-delete idioms) per spec §4.5.
type HistoricalPartition struct {
	mu sync.RWMutex

	dimension int
	trained   bool
	nlist     int
	nprobe    int

	centroids [][]float32
	postings  [][]record.Handle
	vectors   map[record.Handle][]float32
	dead      map[record.Handle]struct{}

	closed bool
}

// NewHistoricalPartition returns an untrained partition; Insert fails
// until Train is called.
func NewHistoricalPartition() *HistoricalPartition {
	return &HistoricalPartition{
		vectors: make(map[record.Handle][]float32),
		dead:    make(map[record.Handle]struct{}),
	}
}

// TrainSample is one record fed to Train: the current contents of the
// recent partition at the moment T_train is crossed (spec §4.6).
type TrainSample struct {
	Handle record.Handle
	Vector []float32
}

// Trained reports whether the quantizer has been fit.
func (p *HistoricalPartition) Trained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.trained
}

// Train fits the coarse quantizer from samples via a bounded-iteration
// Lloyd's k-means pass, then inserts every sample as the first historical
// population (the orchestrator's post-training drain, spec §4.6). N and
// nprobe scale with the sample size: N = ceil(sqrt(n)), clamped to
// [1, n], a standard IVF rule of thumb balancing recall against the
// number of clusters scanned per query; nprobe = max(1, N/8).
func (p *HistoricalPartition) Train(samples []TrainSample) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(samples) == 0 {
		return fmt.Errorf("index: cannot train historical partition on zero samples")
	}
	if p.trained {
		return fmt.Errorf("index: historical partition is already trained")
	}

	p.dimension = len(samples[0].Vector)

	nlist := int(math.Ceil(math.Sqrt(float64(len(samples)))))
	if nlist < 1 {
		nlist = 1
	}
	if nlist > len(samples) {
		nlist = len(samples)
	}
	nprobe := nlist / 8
	if nprobe < 1 {
		nprobe = 1
	}

	centroids := kmeans(samples, nlist, p.dimension)

	p.nlist = nlist
	p.nprobe = nprobe
	p.centroids = centroids
	p.postings = make([][]record.Handle, nlist)
	p.trained = true

	for _, s := range samples {
		p.assignLocked(s.Handle, s.Vector)
	}
	return nil
}

// kmeans runs a fixed number of Lloyd's-algorithm iterations, seeding
// centroids from a random sample of the training set (k-means-ish init;
// good enough for an approximate coarse quantizer).
func kmeans(samples []TrainSample, k, dim int) [][]float32 {
	centroids := make([][]float32, k)
	perm := rand.Perm(len(samples))
	for i := 0; i < k; i++ {
		src := samples[perm[i%len(perm)]].Vector
		c := make([]float32, dim)
		copy(c, src)
		centroids[i] = c
	}

	const maxIterations = 10
	assignment := make([]int, len(samples))

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, s := range samples {
			best, bestDist := 0, float32(math.MaxFloat32)
			for c, centroid := range centroids {
				d := euclidean(s.Vector, centroid)
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, s := range samples {
			c := assignment[i]
			counts[c]++
			for d, v := range s.Vector {
				sums[c][d] += float64(v)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}

		if !changed {
			break
		}
	}
	return centroids
}

// Insert assigns handle's vector to its nearest centroid's posting list.
// It fails with IndexNotReady while the quantizer is untrained; the
// hybrid orchestrator is expected to route around this by keeping inserts
// on the recent partition until training completes.
func (p *HistoricalPartition) Insert(handle record.Handle, vec []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("index: historical partition is closed")
	}
	if !p.trained {
		return dberrors.IndexNotReady()
	}
	p.assignLocked(handle, vec)
	return nil
}

func (p *HistoricalPartition) assignLocked(handle record.Handle, vec []float32) {
	cluster := p.nearestCentroidLocked(vec)
	cp := make([]float32, len(vec))
	copy(cp, vec)
	p.vectors[handle] = cp
	p.postings[cluster] = append(p.postings[cluster], handle)
	delete(p.dead, handle)
}

func (p *HistoricalPartition) nearestCentroidLocked(vec []float32) int {
	best, bestDist := 0, float32(math.MaxFloat32)
	for c, centroid := range p.centroids {
		d := euclidean(vec, centroid)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// Delete lazily tombstones handle; its posting-list entry is skipped on
// future searches and dropped entirely on the next Rekey/vacuum pass.
func (p *HistoricalPartition) Delete(handle record.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead[handle] = struct{}{}
	return nil
}

// Search probes the nprobe nearest clusters and linearly scans their
// posting lists, returning up to k live candidates in ascending distance
// order (ties broken by ascending handle). An untrained index returns an
// empty, non-nil slice rather than an error.
func (p *HistoricalPartition) Search(query []float32, k int) ([]Candidate, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, fmt.Errorf("index: historical partition is closed")
	}
	if !p.trained {
		return []Candidate{}, nil
	}

	type centroidDist struct {
		idx  int
		dist float32
	}
	ranked := make([]centroidDist, len(p.centroids))
	for i, c := range p.centroids {
		ranked[i] = centroidDist{idx: i, dist: euclidean(query, c)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })

	probe := p.nprobe
	if probe > len(ranked) {
		probe = len(ranked)
	}

	var candidates []Candidate
	for i := 0; i < probe; i++ {
		for _, handle := range p.postings[ranked[i].idx] {
			if _, isDead := p.dead[handle]; isDead {
				continue
			}
			vec, ok := p.vectors[handle]
			if !ok {
				continue
			}
			candidates = append(candidates, Candidate{Handle: handle, Distance: euclidean(query, vec)})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].Handle < candidates[j].Handle
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// HydrateVectors sets the raw vectors for handles already present in a
// posting list, replacing whatever p.vectors held for them (after
// ImportScaffold, the zero vectors of not-yet-loaded table slots) — the lazy-load chunk-fault
// path (spec §4.8 step 5): ImportScaffold restores posting-list topology
// before every chunk's vectors are available, and a later chunk fetch
// calls this to make those handles searchable without re-importing the
// whole scaffold.
func (p *HistoricalPartition) HydrateVectors(vectors map[record.Handle][]float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for h, vec := range vectors {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		p.vectors[h] = cp
	}
}

// Rekey applies a vacuum handle remap in place: unlike the recent
// partition's graph, posting lists are plain handle slices, so rewriting
// them is a direct rename rather than a re-insert-and-orphan.
func (p *HistoricalPartition) Rekey(remap map[record.Handle]record.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	moved := make(map[record.Handle][]float32)
	for c, list := range p.postings {
		kept := list[:0]
		for _, h := range list {
			vec, exists := p.vectors[h]
			delete(p.vectors, h)
			newHandle, ok := remap[h]
			if !ok {
				continue // removed by vacuum (was tombstoned)
			}
			kept = append(kept, newHandle)
			if exists {
				moved[newHandle] = vec
			}
		}
		p.postings[c] = kept
	}
	for h, vec := range moved {
		p.vectors[h] = vec
	}
	p.dead = make(map[record.Handle]struct{})
}

// Stats reports cluster occupancy for compaction decisions.
func (p *HistoricalPartition) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	live := 0
	for _, list := range p.postings {
		live += len(list)
	}
	return Stats{
		Live:       live - len(p.dead),
		GraphNodes: live,
		Orphans:    len(p.dead),
	}
}

// ExportScaffold writes the quantizer parameters, centroids, and posting
// lists (handles only, no raw vectors beyond what's needed for residual
// lookups) — the historical-scaffold blob of spec §6.2.
func (p *HistoricalPartition) ExportScaffold(w io.Writer) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := binary.Write(w, binary.LittleEndian, boolToByte(p.trained)); err != nil {
		return err
	}
	if !p.trained {
		return nil
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(p.dimension)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(p.nlist)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(p.nprobe)); err != nil {
		return err
	}
	for _, centroid := range p.centroids {
		for _, f := range centroid {
			if err := binary.Write(w, binary.LittleEndian, f); err != nil {
				return err
			}
		}
	}
	for _, list := range p.postings {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(list))); err != nil {
			return err
		}
		for _, h := range list {
			if err := binary.Write(w, binary.LittleEndian, uint64(h)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ImportScaffold restores cluster topology previously written by
// ExportScaffold. vectorOf supplies each handle's raw vector from the
// record table so posting-list entries are searchable immediately.
func (p *HistoricalPartition) ImportScaffold(r io.Reader, vectorOf func(record.Handle) ([]float32, bool)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var trainedByte byte
	if err := binary.Read(r, binary.LittleEndian, &trainedByte); err != nil {
		return err
	}
	p.trained = trainedByte != 0
	if !p.trained {
		return nil
	}

	var dim, nlist, nprobe uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &nlist); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &nprobe); err != nil {
		return err
	}
	p.dimension = int(dim)
	p.nlist = int(nlist)
	p.nprobe = int(nprobe)

	p.centroids = make([][]float32, nlist)
	for i := range p.centroids {
		c := make([]float32, dim)
		for d := range c {
			if err := binary.Read(r, binary.LittleEndian, &c[d]); err != nil {
				return err
			}
		}
		p.centroids[i] = c
	}

	p.postings = make([][]record.Handle, nlist)
	p.vectors = make(map[record.Handle][]float32)
	p.dead = make(map[record.Handle]struct{})
	for c := range p.postings {
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return err
		}
		list := make([]record.Handle, count)
		for i := range list {
			var h uint64
			if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
				return err
			}
			list[i] = record.Handle(h)
			if vec, ok := vectorOf(list[i]); ok {
				p.vectors[list[i]] = vec
			}
		}
		p.postings[c] = list
	}
	return nil
}

// Close releases resources. Idempotent.
func (p *HistoricalPartition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func euclidean(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

var _ Partition = (*HistoricalPartition)(nil)
