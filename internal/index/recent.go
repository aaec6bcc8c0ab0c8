package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/fabstir/vectordb/internal/record"
)

// RecentPartition is the hierarchical proximity graph used for records not
// yet absorbed by the historical index (spec §4.4). It is grounded
// directly on the teacher's HNSWStore: same bounded out-degree graph, same
// lazy-deletion-via-orphaned-keys workaround for a real coder/hnsw bug
// where deleting the last node corrupts the graph. Unlike the teacher, it
// is keyed by the record table's own Handle rather than maintaining a
// second id<->key map — the record table is the only owner of identity.
type RecentPartition struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	live  map[uint64]struct{}

	closed bool
}

// RecentPartitionOption configures graph construction parameters.
type RecentPartitionOption func(*recentConfig)

type recentConfig struct {
	m        int
	efSearch int
}

// WithM sets the graph's maximum out-degree per layer (default 16).
func WithM(m int) RecentPartitionOption {
	return func(c *recentConfig) { c.m = m }
}

// WithEfSearch sets the search-time candidate list width (default 20).
func WithEfSearch(ef int) RecentPartitionOption {
	return func(c *recentConfig) { c.efSearch = ef }
}

// NewRecentPartition builds an empty graph-based partition. Distance is
// always Euclidean: the search pipeline's score conversion (spec §4.7
// step 5) is defined in terms of Euclidean distance.
func NewRecentPartition(opts ...RecentPartitionOption) *RecentPartition {
	cfg := recentConfig{m: 16, efSearch: 20}
	for _, opt := range opts {
		opt(&cfg)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.EuclideanDistance
	graph.M = cfg.m
	graph.EfSearch = cfg.efSearch
	graph.Ml = 0.25

	return &RecentPartition{
		graph: graph,
		live:  make(map[uint64]struct{}),
	}
}

// Insert adds handle's vector to the graph. Re-inserting a handle already
// present orphans the old node rather than deleting it, the same
// workaround the teacher uses for id reuse.
func (p *RecentPartition) Insert(handle record.Handle, vec []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("index: recent partition is closed")
	}

	key := uint64(handle)
	delete(p.live, key) // orphan any existing node under this key first

	cp := make([]float32, len(vec))
	copy(cp, vec)
	p.graph.Add(hnsw.MakeNode(key, cp))
	p.live[key] = struct{}{}
	return nil
}

// Delete soft-deletes handle: the node remains in the graph (never the
// target of coder/hnsw's Delete) but is filtered out of every future
// search result via the live set.
func (p *RecentPartition) Delete(handle record.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, uint64(handle))
	return nil
}

// Contains reports whether handle is a live node in this partition.
func (p *RecentPartition) Contains(handle record.Handle) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.live[uint64(handle)]
	return ok
}

// Search returns up to k live candidates in ascending distance order,
// ties broken by ascending handle. An empty graph returns an empty,
// non-nil slice — never an error.
func (p *RecentPartition) Search(query []float32, k int) ([]Candidate, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, fmt.Errorf("index: recent partition is closed")
	}
	if p.graph.Len() == 0 {
		return []Candidate{}, nil
	}

	// Over-fetch from the graph itself since some returned nodes may be
	// orphaned/dead and must be filtered, not counted toward k.
	fetch := k
	if margin := k + len(p.live)/4; margin > fetch {
		fetch = margin
	}
	nodes := p.graph.Search(query, fetch)

	candidates := make([]Candidate, 0, len(nodes))
	for _, node := range nodes {
		if _, ok := p.live[node.Key]; !ok {
			continue
		}
		d := p.graph.Distance(query, node.Value)
		candidates = append(candidates, Candidate{Handle: record.Handle(node.Key), Distance: d})
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

// Stats reports graph occupancy for compaction/vacuum decisions.
type Stats struct {
	Live       int
	GraphNodes int
	Orphans    int
}

func (p *RecentPartition) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Live:       len(p.live),
		GraphNodes: p.graph.Len(),
		Orphans:    p.graph.Len() - len(p.live),
	}
}

// Rekey applies a vacuum handle remap (spec §4.6): since coder/hnsw nodes
// cannot be renamed in place, every remapped handle is re-inserted under
// its new key via vectorOf and the old key is dropped from the live set,
// becoming an orphan exactly like a lazy delete.
func (p *RecentPartition) Rekey(remap map[record.Handle]record.Handle, vectorOf func(record.Handle) ([]float32, bool)) error {
	p.mu.Lock()
	oldToNew := make(map[record.Handle]record.Handle, len(remap))
	for old, new := range remap {
		if _, ok := p.live[uint64(old)]; ok {
			oldToNew[old] = new
		}
	}
	// Drop every old key before re-inserting, so a new handle that equals
	// some record's old handle (including an unchanged handle) stays live.
	for old := range oldToNew {
		delete(p.live, uint64(old))
	}
	p.mu.Unlock()

	for _, newHandle := range oldToNew {
		vec, ok := vectorOf(newHandle)
		if !ok {
			continue
		}
		if err := p.Insert(newHandle, vec); err != nil {
			return err
		}
	}
	return nil
}

// ExportGraph persists the live-handle set followed by the raw graph
// topology (no vectors beyond what coder/hnsw embeds per node) — this is
// the recent-scaffold blob of spec §6.2.
func (p *RecentPartition) ExportGraph(w io.Writer) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	handles := make([]uint64, 0, len(p.live))
	for h := range p.live {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	if err := binary.Write(w, binary.LittleEndian, uint32(len(handles))); err != nil {
		return err
	}
	for _, h := range handles {
		if err := binary.Write(w, binary.LittleEndian, h); err != nil {
			return err
		}
	}
	return p.graph.Export(w)
}

// ImportGraph restores a partition previously written by ExportGraph.
func (p *RecentPartition) ImportGraph(r io.Reader) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return err
	}
	live := make(map[uint64]struct{}, n)
	for i := uint32(0); i < n; i++ {
		var h uint64
		if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
			return err
		}
		live[h] = struct{}{}
	}

	br := bufio.NewReader(r)
	if err := p.graph.Import(br); err != nil {
		return err
	}
	p.live = live
	return nil
}

// Close releases the graph. Idempotent.
func (p *RecentPartition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.graph = nil
	return nil
}

var _ Partition = (*RecentPartition)(nil)
