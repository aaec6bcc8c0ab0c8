// Package index implements the two ANN partitions the hybrid orchestrator
// composes: RecentPartition (a graph-based index over coder/hnsw) and
// HistoricalPartition (a hand-written coarse-quantizer/cluster index).
// Both key their entries by the handles the record table assigns and keep
// their own copies of the vectors they index; neither holds metadata or
// external ids (spec §4.4, §4.5).
package index

import "github.com/fabstir/vectordb/internal/record"

// Candidate is one search result from a single partition: a handle and its
// Euclidean distance from the query, ascending order within a result set.
type Candidate struct {
	Handle   record.Handle
	Distance float32
}

// Partition is the capability both ANN implementations provide to the
// hybrid orchestrator.
type Partition interface {
	Insert(handle record.Handle, vec []float32) error
	Delete(handle record.Handle) error
	Search(query []float32, k int) ([]Candidate, error)
}
