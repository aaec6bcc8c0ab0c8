package vectordb

import (
	"context"
	"testing"

	"github.com/fabstir/vectordb/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	cfg := NewConfig("http://blob.test", "sess-1", []byte("seed-material"))
	s, err := Create(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Destroy() })
	return s
}

func TestLoadOptionsZeroValueDefaultsToLazy(t *testing.T) {
	// LoadOptions{} (every field omitted) must mean lazy load, per spec
	// §4.8 step 3 — Go's zero value for a bool is false, so the field
	// guarding eager behavior must be named so false means lazy.
	opts := LoadOptions{}
	assert.False(t, opts.Eager, "the omitted-field default must be lazy load, not eager")
}

func TestCreateRejectsMissingRequiredFields(t *testing.T) {
	_, err := Create(NewConfig("", "sess-1", []byte("seed")))
	assert.Error(t, err)

	_, err = Create(NewConfig("http://blob.test", "", []byte("seed")))
	assert.Error(t, err)

	_, err = Create(NewConfig("http://blob.test", "sess-1", nil))
	assert.Error(t, err)
}

func TestAddAndSearchRoundTrip(t *testing.T) {
	s := newTestSession(t)

	err := s.Add([]Record{
		{ID: "a", Vector: []float32{1, 0, 0}, Metadata: value.NewMap()},
		{ID: "b", Vector: []float32{0, 1, 0}, Metadata: value.NewMap()},
	})
	require.NoError(t, err)

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 1, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestDeleteRemovesFromSearchResults(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Add([]Record{
		{ID: "a", Vector: []float32{1, 0}, Metadata: value.NewMap()},
	}))

	require.NoError(t, s.Delete("a"))

	results, err := s.Search(context.Background(), []float32{1, 0}, 5, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpdateMetadataAndStats(t *testing.T) {
	s := newTestSession(t)
	m := value.NewMap()
	m.Set("tag", value.String("v1"))
	require.NoError(t, s.Add([]Record{{ID: "a", Vector: []float32{1, 2}, Metadata: m}}))

	updated := value.NewMap()
	updated.Set("tag", value.String("v2"))
	require.NoError(t, s.UpdateMetadata("a", updated))

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VectorCount)
	assert.Equal(t, 0, stats.TombstonedCount)
	assert.Equal(t, "recent-only", stats.IndexType)
	assert.False(t, stats.SchemaSet)
}

func TestVacuumReclaimsTombstonedRecords(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Add([]Record{
		{ID: "a", Vector: []float32{1, 0}, Metadata: value.NewMap()},
		{ID: "b", Vector: []float32{0, 1}, Metadata: value.NewMap()},
	}))
	require.NoError(t, s.Delete("a"))

	removed, err := s.Vacuum()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VectorCount)
	assert.Equal(t, 0, stats.TombstonedCount)
}

func TestDestroyIsIdempotentAndFailsSubsequentOps(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Destroy())
	require.NoError(t, s.Destroy())

	err := s.Add([]Record{{ID: "a", Vector: []float32{1}, Metadata: value.NewMap()}})
	assert.Error(t, err)

	_, err = s.GetStats()
	assert.Error(t, err)
}

func TestDeleteByMetadataFiltersOnMetadata(t *testing.T) {
	s := newTestSession(t)

	red := value.NewMap()
	red.Set("color", value.String("red"))
	blue := value.NewMap()
	blue.Set("color", value.String("blue"))

	require.NoError(t, s.Add([]Record{
		{ID: "a", Vector: []float32{1, 0}, Metadata: red},
		{ID: "b", Vector: []float32{0, 1}, Metadata: blue},
	}))

	filterDoc := value.NewMap()
	filterDoc.Set("color", value.String("red"))

	deleted, err := s.DeleteByMetadata(filterDoc)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, deleted)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VectorCount)
	assert.Equal(t, 1, stats.TombstonedCount)
}
