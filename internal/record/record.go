// Package record implements the vector record table: the dense vector
// buffer, parallel metadata/tombstone/timestamp arrays, and the bidirectional
// id<->handle maps that every index and the persistence layer build on
// top of (spec §4.3). It owns no ANN structure of its own; the recent and
// historical partitions key their entries by this table's handles and keep
// their own copies of the vectors they index.
package record

import (
	"fmt"
	"sync"
	"time"

	dberrors "github.com/fabstir/vectordb/internal/errors"
	"github.com/fabstir/vectordb/internal/value"
)

// Handle is a monotonically assigned internal record id. Before vacuum it
// doubles as the record's position in the dense vector buffer; vacuum
// reassigns handles and returns a remap so owning indexes can follow along.
type Handle uint64

// PartitionTag records which ANN partition currently owns a handle. The
// table itself does no routing; the hybrid orchestrator calls SetPartition
// after it decides where an insert (or a drain) lands.
type PartitionTag uint8

const (
	PartitionRecent PartitionTag = iota
	PartitionHistorical
)

func (p PartitionTag) String() string {
	if p == PartitionHistorical {
		return "historical"
	}
	return "recent"
}

// Table is the session-global vector record store. It is safe for
// concurrent use; callers that need cross-call atomicity (e.g. the session
// facade's writer lock) still serialize at that higher layer, but Table
// guards its own invariants regardless.
type Table struct {
	mu sync.RWMutex

	dimension int
	dimSet    bool

	// now supplies a record's insertion timestamp (Unix milliseconds);
	// overridable in tests. seq counts inserts and is not stored per record.
	now func() time.Time
	seq int64

	vectors      []float32 // flat buffer, handle h occupies [h*D, (h+1)*D)
	metadata     []value.Value
	tombstoned   []bool
	timestamps   []int64
	partitionTag []PartitionTag

	idToHandle map[string]Handle
	handleToID map[Handle]string

	activeCount     int
	tombstonedCount int

	closed bool
}

// New returns an empty table. The dimension is unset until the first
// successful Insert.
func New() *Table {
	return &Table{
		now:        time.Now,
		idToHandle: make(map[string]Handle),
		handleToID: make(map[Handle]string),
	}
}

// Dimension returns the session vector dimension, or 0 if no record has
// been inserted yet.
func (t *Table) Dimension() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dimension
}

// Insert adds a new record and returns its handle. It fails if id is
// already present (tombstoned or not) or if vec's length disagrees with
// the session dimension once one has been established.
func (t *Table) Insert(id string, vec []float32, metadata value.Value) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, fmt.Errorf("record: table is closed")
	}
	if _, exists := t.idToHandle[id]; exists {
		return 0, dberrors.IDConflict(id)
	}
	if !t.dimSet {
		t.dimension = len(vec)
		t.dimSet = true
	} else if len(vec) != t.dimension {
		return 0, dberrors.DimensionMismatch(t.dimension, len(vec))
	}

	handle := Handle(len(t.tombstoned))

	cp := make([]float32, len(vec))
	copy(cp, vec)
	t.vectors = append(t.vectors, cp...)
	t.metadata = append(t.metadata, metadata)
	t.tombstoned = append(t.tombstoned, false)
	t.seq++
	t.timestamps = append(t.timestamps, t.now().UnixMilli())
	t.partitionTag = append(t.partitionTag, PartitionRecent)

	t.idToHandle[id] = handle
	t.handleToID[handle] = id
	t.activeCount++

	return handle, nil
}

// InsertRestored recreates a record exactly as a chunk load describes it,
// including its original insertion timestamp and tombstone bit. It is
// used only by the persistence layer reconstructing a table from
// manifest order (spec §4.8 load algorithm); ordinary inserts always go
// through Insert so the timestamp reflects wall-clock insertion time.
// Callers must call this for every idmap entry in ascending handle
// order starting from an empty table, so the assigned handle matches the
// handle recorded in the idmap.
func (t *Table) InsertRestored(id string, vec []float32, metadata value.Value, timestamp int64, tombstoned bool, partition PartitionTag) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, fmt.Errorf("record: table is closed")
	}
	if _, exists := t.idToHandle[id]; exists {
		return 0, dberrors.IDConflict(id)
	}
	if !t.dimSet {
		t.dimension = len(vec)
		t.dimSet = true
	} else if len(vec) != t.dimension {
		return 0, dberrors.DimensionMismatch(t.dimension, len(vec))
	}

	handle := Handle(len(t.tombstoned))

	cp := make([]float32, len(vec))
	copy(cp, vec)
	t.vectors = append(t.vectors, cp...)
	t.metadata = append(t.metadata, metadata)
	t.tombstoned = append(t.tombstoned, tombstoned)
	t.timestamps = append(t.timestamps, timestamp)
	t.partitionTag = append(t.partitionTag, partition)

	t.idToHandle[id] = handle
	t.handleToID[handle] = id
	if tombstoned {
		t.tombstonedCount++
	} else {
		t.activeCount++
	}

	return handle, nil
}

// Restore overwrites an already-allocated handle's vector, metadata,
// timestamp, and tombstone bit in place. It is used only by the
// persistence layer's lazy chunk-fault hydration: InsertRestored
// allocates every slot up front from the idmap, and Restore fills in a
// slot's real content once the chunk that owns it is fetched.
func (t *Table) Restore(handle Handle, vec []float32, metadata value.Value, timestamp int64, tombstoned bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.validHandle(handle) {
		return fmt.Errorf("record: invalid handle %d", handle)
	}
	start := int(handle) * t.dimension
	copy(t.vectors[start:start+t.dimension], vec)
	t.metadata[handle] = metadata
	t.timestamps[handle] = timestamp

	if tombstoned && !t.tombstoned[handle] {
		t.tombstoned[handle] = true
		t.tombstonedCount++
		t.activeCount--
	} else if !tombstoned && t.tombstoned[handle] {
		t.tombstoned[handle] = false
		t.tombstonedCount--
		t.activeCount++
	}
	return nil
}

// GetVector returns the vector stored at handle. It is a pure lookup: it
// does not check the tombstone bit, since callers (indexes, chunk writers)
// may legitimately need a tombstoned record's vector until vacuum.
func (t *Table) GetVector(handle Handle) ([]float32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.validHandle(handle) {
		return nil, false
	}
	start := int(handle) * t.dimension
	vec := make([]float32, t.dimension)
	copy(vec, t.vectors[start:start+t.dimension])
	return vec, true
}

// GetMetadata returns the metadata stored at handle.
func (t *Table) GetMetadata(handle Handle) (value.Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.validHandle(handle) {
		return value.Value{}, false
	}
	return t.metadata[handle], true
}

// Timestamp returns the insertion-time (Unix milliseconds) recorded for
// handle, for the chunk writer (spec §6.2: "insertion-timestamp i64").
func (t *Table) Timestamp(handle Handle) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.validHandle(handle) {
		return 0, false
	}
	return t.timestamps[handle], true
}

// IsTombstoned reports whether handle is soft-deleted.
func (t *Table) IsTombstoned(handle Handle) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.validHandle(handle) {
		return false
	}
	return t.tombstoned[handle]
}

// Partition returns the partition tag currently assigned to handle.
func (t *Table) Partition(handle Handle) (PartitionTag, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.validHandle(handle) {
		return 0, false
	}
	return t.partitionTag[handle], true
}

// SetPartition reassigns handle's partition tag; the hybrid orchestrator
// calls this when routing an insert and when draining recent into
// historical on training.
func (t *Table) SetPartition(handle Handle, tag PartitionTag) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.validHandle(handle) {
		return fmt.Errorf("record: invalid handle %d", handle)
	}
	t.partitionTag[handle] = tag
	return nil
}

// UpdateMetadata replaces the metadata for id. It fails if id is unknown
// or tombstoned; the vector and id themselves are immutable.
func (t *Table) UpdateMetadata(id string, metadata value.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	handle, ok := t.idToHandle[id]
	if !ok || t.tombstoned[handle] {
		return dberrors.IDNotFound(id)
	}
	t.metadata[handle] = metadata
	return nil
}

// Tombstone soft-deletes id, returning its handle. It fails if id is
// unknown or already tombstoned.
func (t *Table) Tombstone(id string) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	handle, ok := t.idToHandle[id]
	if !ok || t.tombstoned[handle] {
		return 0, dberrors.IDNotFound(id)
	}
	t.tombstoned[handle] = true
	t.tombstonedCount++
	t.activeCount--
	return handle, nil
}

// TombstoneMany soft-deletes every live record whose (id, metadata) pair
// satisfies predicate, returning the count removed and their ids.
func (t *Table) TombstoneMany(predicate func(id string, metadata value.Value) bool) (int, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []string
	for h := 0; h < len(t.tombstoned); h++ {
		handle := Handle(h)
		if t.tombstoned[handle] {
			continue
		}
		id := t.handleToID[handle]
		if predicate(id, t.metadata[handle]) {
			t.tombstoned[handle] = true
			t.tombstonedCount++
			t.activeCount--
			ids = append(ids, id)
		}
	}
	return len(ids), ids
}

// Contains reports whether id names a live (non-tombstoned) record.
func (t *Table) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	handle, ok := t.idToHandle[id]
	return ok && !t.tombstoned[handle]
}

// HandleForID looks up the handle behind a live external id.
func (t *Table) HandleForID(id string) (Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	handle, ok := t.idToHandle[id]
	if !ok || t.tombstoned[handle] {
		return 0, false
	}
	return handle, true
}

// HandleForIDAny looks up the handle behind id regardless of tombstone
// state, for callers (the hybrid orchestrator's delete routing) that need
// a handle just after it was soft-deleted.
func (t *Table) HandleForIDAny(id string) (Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	handle, ok := t.idToHandle[id]
	return handle, ok
}

// IDForHandle looks up the external id behind a handle, live or not.
func (t *Table) IDForHandle(handle Handle) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.handleToID[handle]
	return id, ok
}

// Count returns the number of live (non-tombstoned) records.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.activeCount
}

// TombstonedCount returns the number of soft-deleted records awaiting
// vacuum.
func (t *Table) TombstonedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tombstonedCount
}

// Each calls fn for every record currently in the table, live or
// tombstoned, in ascending handle order, holding the read lock for the
// duration. fn must not call back into the table.
func (t *Table) Each(fn func(handle Handle, id string, vec []float32, metadata value.Value, tombstoned bool, partition PartitionTag)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for h := 0; h < len(t.tombstoned); h++ {
		handle := Handle(h)
		start := h * t.dimension
		fn(handle, t.handleToID[handle], t.vectors[start:start+t.dimension], t.metadata[handle], t.tombstoned[handle], t.partitionTag[handle])
	}
}

// Vacuum drops every tombstoned slot, compacts the vector buffer, and
// reassigns handles to the surviving records in their original relative
// order. It returns the count of records removed and a remap from every
// surviving old handle to its new handle, for the owning indexes to apply
// to their own topology (spec §4.6).
func (t *Table) Vacuum() (removed int, remap map[Handle]Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.tombstoned)
	remap = make(map[Handle]Handle, t.activeCount)

	newVectors := make([]float32, 0, t.activeCount*t.dimension)
	newMetadata := make([]value.Value, 0, t.activeCount)
	newTombstoned := make([]bool, 0, t.activeCount)
	newTimestamps := make([]int64, 0, t.activeCount)
	newPartitionTag := make([]PartitionTag, 0, t.activeCount)
	newIDToHandle := make(map[string]Handle, t.activeCount)
	newHandleToID := make(map[Handle]string, t.activeCount)

	var next Handle
	for h := 0; h < n; h++ {
		old := Handle(h)
		if t.tombstoned[old] {
			continue
		}
		start := h * t.dimension
		newVectors = append(newVectors, t.vectors[start:start+t.dimension]...)
		newMetadata = append(newMetadata, t.metadata[old])
		newTombstoned = append(newTombstoned, false)
		newTimestamps = append(newTimestamps, t.timestamps[old])
		newPartitionTag = append(newPartitionTag, t.partitionTag[old])

		id := t.handleToID[old]
		newIDToHandle[id] = next
		newHandleToID[next] = id
		remap[old] = next
		next++
	}

	removed = t.tombstonedCount

	t.vectors = newVectors
	t.metadata = newMetadata
	t.tombstoned = newTombstoned
	t.timestamps = newTimestamps
	t.partitionTag = newPartitionTag
	t.idToHandle = newIDToHandle
	t.handleToID = newHandleToID
	t.tombstonedCount = 0

	return removed, remap
}

// Close marks the table closed; Insert and InsertRestored fail after it,
// other calls do not check the flag. Close is idempotent.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Table) validHandle(handle Handle) bool {
	return int(handle) >= 0 && int(handle) < len(t.tombstoned)
}
