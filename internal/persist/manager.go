package persist

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/fabstir/vectordb/internal/blob"
	dberrors "github.com/fabstir/vectordb/internal/errors"
	"github.com/fabstir/vectordb/internal/index"
	"github.com/fabstir/vectordb/internal/record"
	"github.com/fabstir/vectordb/internal/schema"
	"github.com/fabstir/vectordb/internal/value"
)

// encodeToBytes runs an Encode-style function (which writes to an
// io.Writer) against an in-memory buffer and returns the result, so
// upload sites can hash/encrypt the whole blob before any I/O.
func encodeToBytes(fn func(w io.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func byteReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

// Options configures one Manager's save/load behavior (spec §4.9 config
// fields chunkSize, encryptAtRest, cacheSizeMb, plus the bounded-upload
// concurrency K of spec §5).
type Options struct {
	ChunkSize   int  // C: max records per chunk blob (default 10000)
	Encrypt     bool // encryptAtRest (default true)
	Concurrency int  // K: bounded parallel blob transfers (default 8)
}

// DefaultOptions mirrors the session facade's config defaults.
func DefaultOptions() Options {
	return Options{ChunkSize: 10000, Encrypt: true, Concurrency: 8}
}

// SaveInput bundles the live session state a save walks.
type SaveInput struct {
	Table      *record.Table
	Recent     *index.RecentPartition
	Historical *index.HistoricalPartition
	Schema     *schema.Schema // nil if no schema is set
}

// LoadedState is what a Load call hands back to the session facade: a
// freshly reconstructed table and pair of partitions ready to route
// inserts, searches, and deletes exactly like a live session.
type LoadedState struct {
	Table      *record.Table
	Recent     *index.RecentPartition
	Historical *index.HistoricalPartition
	Schema     *schema.Schema
	Manifest   Manifest
}

// Manager drives the save/load algorithms of spec §4.8 against a blob
// backend. It is grounded on the teacher's daemon.Client request shape
// generalized to bulk parallel transfer, and on internal/errors' Retry
// helpers for the per-blob retry-with-backoff requirement.
type Manager struct {
	backend      blob.Backend
	prefix       string
	seedMaterial []byte
	sessionID    string
	opts         Options
	retryCfg     dberrors.RetryConfig

	mu         sync.Mutex
	state      *LoadedState
	chunkOwner map[uint32][2]record.Handle // chunk index -> [first, last] handle, inclusive
	hydrated   map[uint32]bool
	cache      *lru.Cache[uint32, int] // chunk index -> byte size counted against the budget
	budget     int
	used       int

	// faultGroup collapses concurrent chunk faults for the same chunk
	// index into a single fetch: two searches landing on handles from the
	// same unhydrated chunk at once must not double-download it.
	faultGroup singleflight.Group
}

// NewManager builds a Manager rooted at prefix (derived from
// userSeedMaterial + sessionId per spec §6.1) with a byte-budget chunk
// cache sized cacheSizeMb.
func NewManager(backend blob.Backend, prefix string, seedMaterial []byte, sessionID string, cacheSizeMb int, opts Options) (*Manager, error) {
	m := &Manager{
		backend:      backend,
		prefix:       prefix,
		seedMaterial: seedMaterial,
		sessionID:    sessionID,
		opts:         opts,
		retryCfg:     dberrors.DefaultRetryConfig(),
		chunkOwner:   make(map[uint32][2]record.Handle),
		hydrated:     make(map[uint32]bool),
		budget:       cacheSizeMb * 1024 * 1024,
	}
	cache, err := lru.NewWithEvict[uint32, int](1<<20, m.onEvict)
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

func (m *Manager) onEvict(chunkIndex uint32, byteSize int) {
	m.used -= byteSize
	rng, ok := m.chunkOwner[chunkIndex]
	if !ok || m.state == nil {
		return
	}
	first, last := rng[0], rng[1]
	dim := m.state.Table.Dimension()
	zero := make([]float32, dim)
	for h := first; h <= last; h++ {
		metadata, _ := m.state.Table.GetMetadata(h)
		ts, _ := m.state.Table.Timestamp(h)
		_ = m.state.Table.Restore(h, zero, metadata, ts, m.state.Table.IsTombstoned(h))
	}
	delete(m.hydrated, chunkIndex)
}

func (m *Manager) chunkPath(index uint32) string {
	return path.Join(m.prefix, "chunks", fmt.Sprintf("%d.chunk", index))
}

func (m *Manager) manifestPath() string { return path.Join(m.prefix, "manifest") }
func (m *Manager) idmapPath() string    { return path.Join(m.prefix, "idmap") }
func (m *Manager) recentScaffoldPath() string {
	return path.Join(m.prefix, "recent-scaffold")
}
func (m *Manager) historicalScaffoldPath() string {
	return path.Join(m.prefix, "historical-scaffold")
}
func (m *Manager) schemaPath() string { return path.Join(m.prefix, "schema") }

// sealIfNeeded encrypts plaintext when m.opts.Encrypt is set, returning the
// bytes to upload and the descriptor fields (content hash over the
// uploaded bytes, nonce if encrypted).
func (m *Manager) sealIfNeeded(plaintext []byte) (uploadBytes []byte, nonce [24]byte, err error) {
	if !m.opts.Encrypt {
		return plaintext, nonce, nil
	}
	key, err := deriveKey(m.seedMaterial, m.sessionID)
	if err != nil {
		return nil, nonce, err
	}
	ciphertext, n, err := seal(key, plaintext)
	if err != nil {
		return nil, nonce, err
	}
	return ciphertext, n, nil
}

func (m *Manager) openIfNeeded(data []byte, nonce [24]byte) ([]byte, error) {
	if !m.opts.Encrypt {
		return data, nil
	}
	key, err := deriveKey(m.seedMaterial, m.sessionID)
	if err != nil {
		return nil, err
	}
	return open(key, data, nonce)
}

func contentHash(b []byte) [32]byte { return sha256.Sum256(b) }

// uploadBlob retries the put per m.retryCfg and returns the descriptor
// fields callers embed in the manifest.
func (m *Manager) uploadBlob(ctx context.Context, blobPath string, plaintext []byte) (BlobDescriptor, error) {
	uploadBytes, nonce, err := m.sealIfNeeded(plaintext)
	if err != nil {
		return BlobDescriptor{}, err
	}
	hash := contentHash(uploadBytes)
	err = dberrors.Retry(ctx, m.retryCfg, func() error {
		return m.backend.Put(ctx, blobPath, uploadBytes)
	})
	if err != nil {
		return BlobDescriptor{}, dberrors.BlobBackendError("put", blobPath, "io", err)
	}
	return BlobDescriptor{ByteSize: uint64(len(uploadBytes)), ContentHash: hash, Nonce: nonce}, nil
}

func (m *Manager) downloadBlob(ctx context.Context, blobPath string, d BlobDescriptor) ([]byte, error) {
	data, err := dberrors.RetryWithResult(ctx, m.retryCfg, func() ([]byte, error) {
		return m.backend.Get(ctx, blobPath)
	})
	if err != nil {
		return nil, dberrors.BlobBackendError("get", blobPath, "io", err)
	}
	if contentHash(data) != d.ContentHash {
		return nil, dberrors.CorruptBlobError(blobPath, "content hash mismatch")
	}
	return m.openIfNeeded(data, d.Nonce)
}

// Save implements the spec §4.8 save algorithm: assemble in memory,
// chunk, encrypt, upload non-manifest blobs in parallel with bounded
// concurrency, upload the manifest last. Returns the manifest path (the
// "CID" the caller persists).
func (m *Manager) Save(ctx context.Context, in SaveInput, now int64) (string, error) {
	dim := in.Table.Dimension()

	var chunkRecords [][]ChunkRecord
	var current []ChunkRecord
	total, tombstoned := 0, 0

	in.Table.Each(func(h record.Handle, id string, vec []float32, metadata value.Value, isTombstoned bool, tag record.PartitionTag) {
		total++
		if isTombstoned {
			tombstoned++
		}
		ts, _ := in.Table.Timestamp(h)
		cp := make([]float32, len(vec))
		copy(cp, vec)
		current = append(current, ChunkRecord{
			Handle: h, ID: id, PartitionTag: tag, Tombstoned: isTombstoned,
			Timestamp: ts, Metadata: metadata, Vector: cp,
		})
		if len(current) >= m.opts.ChunkSize {
			chunkRecords = append(chunkRecords, current)
			current = nil
		}
	})
	if len(current) > 0 {
		chunkRecords = append(chunkRecords, current)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)

	descriptors := make([]ChunkDescriptor, len(chunkRecords))
	for i, recs := range chunkRecords {
		i, recs := i, recs
		g.Go(func() error {
			buf, err := encodeToBytes(func(w io.Writer) error { return EncodeChunk(w, recs) })
			if err != nil {
				return err
			}
			d, err := m.uploadBlob(gctx, m.chunkPath(uint32(i)), buf)
			if err != nil {
				return err
			}
			descriptors[i] = ChunkDescriptor{
				Index:        uint32(i),
				ByteSize:     d.ByteSize,
				PartitionTag: uint8(recs[0].PartitionTag),
				FirstHandle:  uint64(recs[0].Handle),
				LastHandle:   uint64(recs[len(recs)-1].Handle),
				ContentHash:  d.ContentHash,
				Nonce:        d.Nonce,
			}
			return nil
		})
	}

	var idmapDesc, recentDesc, historicalDesc BlobDescriptor
	var schemaDesc BlobDescriptor
	schemaPresent := in.Schema != nil

	g.Go(func() error {
		entries := buildIDMap(in.Table)
		buf, err := encodeToBytes(func(w io.Writer) error { return EncodeIDMap(w, entries) })
		if err != nil {
			return err
		}
		d, err := m.uploadBlob(gctx, m.idmapPath(), buf)
		idmapDesc = d
		return err
	})
	g.Go(func() error {
		buf, err := encodeToBytes(func(w io.Writer) error { return in.Recent.ExportGraph(w) })
		if err != nil {
			return err
		}
		d, err := m.uploadBlob(gctx, m.recentScaffoldPath(), buf)
		recentDesc = d
		return err
	})
	g.Go(func() error {
		buf, err := encodeToBytes(func(w io.Writer) error { return in.Historical.ExportScaffold(w) })
		if err != nil {
			return err
		}
		d, err := m.uploadBlob(gctx, m.historicalScaffoldPath(), buf)
		historicalDesc = d
		return err
	})
	if schemaPresent {
		g.Go(func() error {
			buf, err := value.EncodeBytes(schemaToValue(in.Schema))
			if err != nil {
				return err
			}
			d, err := m.uploadBlob(gctx, m.schemaPath(), buf)
			schemaDesc = d
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Index < descriptors[j].Index })

	encAlgo := EncryptionNone
	if m.opts.Encrypt {
		encAlgo = EncryptionXChaCha20Poly1305
	}
	manifest := Manifest{
		SessionID:          m.sessionID,
		CreationTimeMs:     now,
		Dimension:          uint32(dim),
		TotalCount:         uint64(total),
		TombstonedCount:    uint64(tombstoned),
		Chunks:             descriptors,
		IDMap:              idmapDesc,
		RecentScaffold:     recentDesc,
		HistoricalScaffold: historicalDesc,
		SchemaPresent:      schemaPresent,
		Schema:             schemaDesc,
		Encryption:         encAlgo,
	}

	manifestBytes, err := encodeToBytes(func(w io.Writer) error { return EncodeManifest(w, manifest) })
	if err != nil {
		return "", err
	}
	// The manifest itself is never encrypted: it must be readable to learn
	// whether the rest of the blobs are, and with what nonce.
	if err := dberrors.Retry(ctx, m.retryCfg, func() error {
		return m.backend.Put(ctx, m.manifestPath(), manifestBytes)
	}); err != nil {
		return "", dberrors.BlobBackendError("put", m.manifestPath(), "io", err)
	}

	return m.manifestPath(), nil
}

func buildIDMap(t *record.Table) []IDMapEntry {
	var entries []IDMapEntry
	t.Each(func(h record.Handle, id string, vec []float32, metadata value.Value, tombstoned bool, tag record.PartitionTag) {
		entries = append(entries, IDMapEntry{ID: id, Handle: h})
	})
	return entries
}

// LoadOptions controls Load's eagerness. Callers always set Lazy
// explicitly; pkg/vectordb.LoadOptions is the defaulting layer (its zero
// value means lazy, per spec §4.8 step 3) and inverts its own Eager field
// into this one.
type LoadOptions struct {
	Lazy bool
}

// Load implements the spec §4.8 load algorithm against manifestPath (the
// CID returned by a prior Save). sessionDimension is the session's
// already-established dimension, or 0 if unset.
func (m *Manager) Load(ctx context.Context, manifestPath string, sessionDimension int, opts LoadOptions) (*LoadedState, error) {
	manifestBytes, err := dberrors.RetryWithResult(ctx, m.retryCfg, func() ([]byte, error) {
		return m.backend.Get(ctx, manifestPath)
	})
	if err != nil {
		return nil, dberrors.BlobBackendError("get", manifestPath, "io", err)
	}
	manifest, err := DecodeManifest(byteReader(manifestBytes))
	if err != nil {
		return nil, dberrors.CorruptBlobError(manifestPath, fmt.Sprintf("manifest decode: %v", err))
	}
	if sessionDimension != 0 && int(manifest.Dimension) != sessionDimension {
		return nil, dberrors.DimensionMismatch(sessionDimension, int(manifest.Dimension))
	}
	m.opts.Encrypt = manifest.Encryption == EncryptionXChaCha20Poly1305

	table := record.New()
	recent := index.NewRecentPartition()
	historical := index.NewHistoricalPartition()

	var idmapEntries []IDMapEntry
	var recentBuf, historicalBuf, schemaBuf []byte

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := m.downloadBlob(gctx, m.idmapPath(), manifest.IDMap)
		if err != nil {
			return err
		}
		idmapEntries, err = DecodeIDMap(byteReader(data))
		return err
	})
	g.Go(func() error {
		data, err := m.downloadBlob(gctx, m.recentScaffoldPath(), manifest.RecentScaffold)
		recentBuf = data
		return err
	})
	g.Go(func() error {
		data, err := m.downloadBlob(gctx, m.historicalScaffoldPath(), manifest.HistoricalScaffold)
		historicalBuf = data
		return err
	})
	if manifest.SchemaPresent {
		g.Go(func() error {
			data, err := m.downloadBlob(gctx, m.schemaPath(), manifest.Schema)
			schemaBuf = data
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(idmapEntries, func(i, j int) bool { return idmapEntries[i].Handle < idmapEntries[j].Handle })
	dim := int(manifest.Dimension)
	zero := make([]float32, dim)
	for _, e := range idmapEntries {
		if _, err := table.InsertRestored(e.ID, zero, value.Null(), 0, false, record.PartitionRecent); err != nil {
			return nil, err
		}
	}

	if err := recent.ImportGraph(byteReader(recentBuf)); err != nil {
		return nil, dberrors.CorruptBlobError(m.recentScaffoldPath(), fmt.Sprintf("import: %v", err))
	}
	if err := historical.ImportScaffold(byteReader(historicalBuf), table.GetVector); err != nil {
		return nil, dberrors.CorruptBlobError(m.historicalScaffoldPath(), fmt.Sprintf("import: %v", err))
	}
	for _, e := range idmapEntries {
		tag := record.PartitionHistorical
		if recent.Contains(e.Handle) {
			tag = record.PartitionRecent
		}
		if err := table.SetPartition(e.Handle, tag); err != nil {
			return nil, err
		}
	}

	var sch *schema.Schema
	if manifest.SchemaPresent {
		v, err := value.DecodeBytes(schemaBuf)
		if err != nil {
			return nil, dberrors.CorruptBlobError(m.schemaPath(), fmt.Sprintf("schema decode: %v", err))
		}
		sch, err = valueToSchema(v)
		if err != nil {
			return nil, err
		}
	}

	state := &LoadedState{Table: table, Recent: recent, Historical: historical, Schema: sch, Manifest: manifest}

	m.mu.Lock()
	m.state = state
	m.chunkOwner = make(map[uint32][2]record.Handle, len(manifest.Chunks))
	m.hydrated = make(map[uint32]bool, len(manifest.Chunks))
	for _, c := range manifest.Chunks {
		m.chunkOwner[c.Index] = [2]record.Handle{record.Handle(c.FirstHandle), record.Handle(c.LastHandle)}
	}
	m.mu.Unlock()

	if !opts.Lazy {
		for _, c := range manifest.Chunks {
			if err := m.hydrateChunk(ctx, c); err != nil {
				return nil, err
			}
		}
	}

	return state, nil
}

// EnsureHandleLoaded is the chunk-fault handler (spec §4.8 step 5): if
// handle's owning chunk has not been hydrated, fetch and hydrate it now.
// Safe to call for an already-hydrated handle (a no-op).
func (m *Manager) EnsureHandleLoaded(ctx context.Context, handle record.Handle) error {
	m.mu.Lock()
	var target *ChunkDescriptor
	if m.state != nil {
		for i := range m.state.Manifest.Chunks {
			c := &m.state.Manifest.Chunks[i]
			if uint64(handle) >= c.FirstHandle && uint64(handle) <= c.LastHandle {
				target = c
				break
			}
		}
	}
	alreadyHydrated := target != nil && m.hydrated[target.Index]
	m.mu.Unlock()

	if target == nil || alreadyHydrated {
		return nil
	}
	return m.hydrateChunk(ctx, *target)
}

func (m *Manager) hydrateChunk(ctx context.Context, desc ChunkDescriptor) error {
	m.mu.Lock()
	if m.hydrated[desc.Index] {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	key := fmt.Sprintf("%d", desc.Index)
	_, err, _ := m.faultGroup.Do(key, func() (any, error) {
		return nil, m.hydrateChunkOnce(ctx, desc)
	})
	return err
}

// hydrateChunkOnce does the actual fetch-and-restore work for one chunk;
// hydrateChunk ensures at most one of these runs per chunk index at a time.
func (m *Manager) hydrateChunkOnce(ctx context.Context, desc ChunkDescriptor) error {
	m.mu.Lock()
	if m.hydrated[desc.Index] {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	data, err := m.downloadBlob(ctx, m.chunkPath(desc.Index), BlobDescriptor{
		ByteSize: desc.ByteSize, ContentHash: desc.ContentHash, Nonce: desc.Nonce,
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == nil {
		return fmt.Errorf("persist: hydrate called before Load")
	}

	records, err := DecodeChunk(byteReader(data), state.Table.Dimension())
	if err != nil {
		return dberrors.CorruptBlobError(m.chunkPath(desc.Index), fmt.Sprintf("chunk decode: %v", err))
	}

	historicalVectors := make(map[record.Handle][]float32)
	for i, rec := range records {
		// Chunk bodies store no handles: Save writes consecutive handles
		// starting at FirstHandle, so the i-th record owns FirstHandle+i.
		h := record.Handle(desc.FirstHandle) + record.Handle(i)
		if err := state.Table.Restore(h, rec.Vector, rec.Metadata, rec.Timestamp, rec.Tombstoned); err != nil {
			return err
		}
		if rec.PartitionTag == record.PartitionHistorical {
			historicalVectors[h] = rec.Vector
		}
	}
	if len(historicalVectors) > 0 {
		state.Historical.HydrateVectors(historicalVectors)
	}

	m.mu.Lock()
	m.hydrated[desc.Index] = true
	m.cache.Add(desc.Index, int(desc.ByteSize))
	m.used += int(desc.ByteSize)
	for m.budget > 0 && m.used > m.budget && m.cache.Len() > 1 {
		if _, _, ok := m.cache.RemoveOldest(); !ok {
			break
		}
	}
	m.mu.Unlock()

	return nil
}
