// Package persist implements the chunked blob persistence format and the
// save/load algorithms that move a session's record table and index
// topology to and from the blob backend (spec §4.8, §6.2). The binary
// layout follows the manifest/chunk/idmap descriptions, except that every
// blob descriptor carries its 24-byte nonce field even when the blob is
// not encrypted, and an encrypted blob is sealed whole, header included; the
// self-describing value codec (internal/value) supplies metadata
// encoding, and internal/blob supplies the byte-level transport.
package persist

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fabstir/vectordb/internal/record"
	"github.com/fabstir/vectordb/internal/value"
)

// magic and formatVersion open every blob this package writes (spec §6.2:
// "All blobs begin with a 4-byte magic FVDB and a 2-byte format version").
var magic = [4]byte{'F', 'V', 'D', 'B'}

const formatVersion uint16 = 1

func writeHeader(w io.Writer) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, formatVersion)
}

func readHeader(r io.Reader) error {
	var got [4]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return err
	}
	if got != magic {
		return fmt.Errorf("persist: bad magic %q", got)
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != formatVersion {
		return fmt.Errorf("persist: unsupported format version %d", version)
	}
	return nil
}

// BlobDescriptor locates and authenticates one non-chunk blob (idmap,
// scaffold, schema): its size, content hash, and AEAD nonce if encrypted.
type BlobDescriptor struct {
	ByteSize    uint64
	ContentHash [32]byte
	Nonce       [24]byte
}

func writeBlobDescriptor(w io.Writer, d BlobDescriptor) error {
	if err := binary.Write(w, binary.LittleEndian, d.ByteSize); err != nil {
		return err
	}
	if _, err := w.Write(d.ContentHash[:]); err != nil {
		return err
	}
	_, err := w.Write(d.Nonce[:])
	return err
}

func readBlobDescriptor(r io.Reader) (BlobDescriptor, error) {
	var d BlobDescriptor
	if err := binary.Read(r, binary.LittleEndian, &d.ByteSize); err != nil {
		return d, err
	}
	if _, err := io.ReadFull(r, d.ContentHash[:]); err != nil {
		return d, err
	}
	_, err := io.ReadFull(r, d.Nonce[:])
	return d, err
}

// ChunkDescriptor locates one chunk blob and the handle range it covers.
type ChunkDescriptor struct {
	Index        uint32
	ByteSize     uint64
	PartitionTag uint8
	FirstHandle  uint64
	LastHandle   uint64
	ContentHash  [32]byte
	Nonce        [24]byte
}

func writeChunkDescriptor(w io.Writer, d ChunkDescriptor) error {
	for _, v := range []any{d.Index, d.ByteSize, d.PartitionTag, d.FirstHandle, d.LastHandle} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := w.Write(d.ContentHash[:]); err != nil {
		return err
	}
	_, err := w.Write(d.Nonce[:])
	return err
}

func readChunkDescriptor(r io.Reader) (ChunkDescriptor, error) {
	var d ChunkDescriptor
	for _, v := range []any{&d.Index, &d.ByteSize, &d.PartitionTag, &d.FirstHandle, &d.LastHandle} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return d, err
		}
	}
	if _, err := io.ReadFull(r, d.ContentHash[:]); err != nil {
		return d, err
	}
	_, err := io.ReadFull(r, d.Nonce[:])
	return d, err
}

// Manifest is the top-level descriptor uploaded last on save and fetched
// first on load (spec §4.8, §6.2).
type Manifest struct {
	SessionID       string
	CreationTimeMs  int64
	Dimension       uint32
	TotalCount      uint64
	TombstonedCount uint64

	Chunks             []ChunkDescriptor
	IDMap              BlobDescriptor
	RecentScaffold     BlobDescriptor
	HistoricalScaffold BlobDescriptor

	SchemaPresent bool
	Schema        BlobDescriptor

	Encryption EncryptionAlgo
}

// EncodeManifest writes m in the wire format described in spec §6.2.
func EncodeManifest(w io.Writer, m Manifest) error {
	if err := writeHeader(w); err != nil {
		return err
	}
	if err := writeLengthPrefixedString(w, m.SessionID); err != nil {
		return err
	}
	for _, v := range []any{m.CreationTimeMs, m.Dimension, m.TotalCount, m.TombstonedCount, uint32(len(m.Chunks))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, c := range m.Chunks {
		if err := writeChunkDescriptor(w, c); err != nil {
			return err
		}
	}
	if err := writeBlobDescriptor(w, m.IDMap); err != nil {
		return err
	}
	if err := writeBlobDescriptor(w, m.RecentScaffold); err != nil {
		return err
	}
	if err := writeBlobDescriptor(w, m.HistoricalScaffold); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, boolToByte(m.SchemaPresent)); err != nil {
		return err
	}
	if m.SchemaPresent {
		if err := writeBlobDescriptor(w, m.Schema); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, uint8(m.Encryption))
}

// DecodeManifest reads a Manifest previously written by EncodeManifest.
func DecodeManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := readHeader(r); err != nil {
		return m, err
	}
	sessionID, err := readLengthPrefixedString(r)
	if err != nil {
		return m, err
	}
	m.SessionID = sessionID

	var chunkCount uint32
	for _, v := range []any{&m.CreationTimeMs, &m.Dimension, &m.TotalCount, &m.TombstonedCount, &chunkCount} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return m, err
		}
	}
	m.Chunks = make([]ChunkDescriptor, chunkCount)
	for i := range m.Chunks {
		c, err := readChunkDescriptor(r)
		if err != nil {
			return m, err
		}
		m.Chunks[i] = c
	}
	if m.IDMap, err = readBlobDescriptor(r); err != nil {
		return m, err
	}
	if m.RecentScaffold, err = readBlobDescriptor(r); err != nil {
		return m, err
	}
	if m.HistoricalScaffold, err = readBlobDescriptor(r); err != nil {
		return m, err
	}
	var schemaPresent byte
	if err := binary.Read(r, binary.LittleEndian, &schemaPresent); err != nil {
		return m, err
	}
	m.SchemaPresent = schemaPresent != 0
	if m.SchemaPresent {
		if m.Schema, err = readBlobDescriptor(r); err != nil {
			return m, err
		}
	}
	var algo uint8
	if err := binary.Read(r, binary.LittleEndian, &algo); err != nil {
		return m, err
	}
	m.Encryption = EncryptionAlgo(algo)
	return m, nil
}

// ChunkRecord is one record as it appears in a chunk blob.
type ChunkRecord struct {
	Handle       record.Handle
	ID           string
	PartitionTag record.PartitionTag
	Tombstoned   bool
	Timestamp    int64
	Metadata     value.Value
	Vector       []float32
}

// EncodeChunk writes records (already ordered by ascending handle) as one
// chunk blob body, per spec §6.2.
func EncodeChunk(w io.Writer, records []ChunkRecord) error {
	if err := writeHeader(w); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(records))); err != nil {
		return err
	}
	for _, rec := range records {
		if err := writeLengthPrefixedString(w, rec.ID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(rec.PartitionTag)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, boolToByte(rec.Tombstoned)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, rec.Timestamp); err != nil {
			return err
		}
		if err := value.Encode(w, rec.Metadata); err != nil {
			return err
		}
		for _, f := range rec.Vector {
			if err := binary.Write(w, binary.LittleEndian, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeChunk reads a chunk blob body written by EncodeChunk. dimension
// must be the session's vector dimension (the chunk body carries no
// per-record length prefix for vectors). The chunk body stores no
// handles, so Handle is left zero in every returned record.
func DecodeChunk(r io.Reader, dimension int) ([]ChunkRecord, error) {
	if err := readHeader(r); err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	records := make([]ChunkRecord, count)
	for i := range records {
		id, err := readLengthPrefixedString(r)
		if err != nil {
			return nil, err
		}
		var tag uint8
		if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
			return nil, err
		}
		var tomb byte
		if err := binary.Read(r, binary.LittleEndian, &tomb); err != nil {
			return nil, err
		}
		var ts int64
		if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
			return nil, err
		}
		metadata, err := value.Decode(r)
		if err != nil {
			return nil, err
		}
		vec := make([]float32, dimension)
		for d := range vec {
			if err := binary.Read(r, binary.LittleEndian, &vec[d]); err != nil {
				return nil, err
			}
		}
		records[i] = ChunkRecord{
			ID:           id,
			PartitionTag: record.PartitionTag(tag),
			Tombstoned:   tomb != 0,
			Timestamp:    ts,
			Metadata:     metadata,
			Vector:       vec,
		}
	}
	return records, nil
}

// IDMapEntry is one id<->handle pair as stored in the idmap blob.
type IDMapEntry struct {
	ID     string
	Handle record.Handle
}

// EncodeIDMap writes entries per spec §6.2 ("count u32, then count ×
// (id-string, internal-handle u64)").
func EncodeIDMap(w io.Writer, entries []IDMapEntry) error {
	if err := writeHeader(w); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeLengthPrefixedString(w, e.ID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(e.Handle)); err != nil {
			return err
		}
	}
	return nil
}

// DecodeIDMap reads entries written by EncodeIDMap.
func DecodeIDMap(r io.Reader) ([]IDMapEntry, error) {
	if err := readHeader(r); err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	entries := make([]IDMapEntry, count)
	for i := range entries {
		id, err := readLengthPrefixedString(r)
		if err != nil {
			return nil, err
		}
		var h uint64
		if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
			return nil, err
		}
		entries[i] = IDMapEntry{ID: id, Handle: record.Handle(h)}
	}
	return entries, nil
}

func writeLengthPrefixedString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readLengthPrefixedString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
