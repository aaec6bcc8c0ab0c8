package index

import (
	"bytes"
	"testing"

	"github.com/fabstir/vectordb/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentPartitionEmptySearchReturnsEmptySlice(t *testing.T) {
	p := NewRecentPartition()
	results, err := p.Search([]float32{1, 2}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NotNil(t, results)
}

func TestRecentPartitionInsertAndSearch(t *testing.T) {
	p := NewRecentPartition()
	require.NoError(t, p.Insert(record.Handle(0), []float32{0, 0}))
	require.NoError(t, p.Insert(record.Handle(1), []float32{10, 10}))

	results, err := p.Search([]float32{0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, record.Handle(0), results[0].Handle)
}

func TestRecentPartitionDeleteHidesFromSearch(t *testing.T) {
	p := NewRecentPartition()
	require.NoError(t, p.Insert(record.Handle(0), []float32{0, 0}))
	require.NoError(t, p.Delete(record.Handle(0)))

	assert.False(t, p.Contains(record.Handle(0)))
	results, err := p.Search([]float32{0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRecentPartitionReinsertOrphansOldNode(t *testing.T) {
	p := NewRecentPartition()
	require.NoError(t, p.Insert(record.Handle(0), []float32{0, 0}))
	require.NoError(t, p.Insert(record.Handle(0), []float32{1, 1}))

	stats := p.Stats()
	assert.Equal(t, 1, stats.Live)
	assert.True(t, stats.Orphans >= 1 || stats.GraphNodes == 2)
}

func TestRecentPartitionExportImportRoundTrip(t *testing.T) {
	p := NewRecentPartition()
	require.NoError(t, p.Insert(record.Handle(0), []float32{0, 0}))
	require.NoError(t, p.Insert(record.Handle(1), []float32{5, 5}))

	var buf bytes.Buffer
	require.NoError(t, p.ExportGraph(&buf))

	p2 := NewRecentPartition()
	require.NoError(t, p2.ImportGraph(&buf))

	assert.True(t, p2.Contains(record.Handle(0)))
	assert.True(t, p2.Contains(record.Handle(1)))

	results, err := p2.Search([]float32{0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, record.Handle(0), results[0].Handle)
}

func TestRecentPartitionRekey(t *testing.T) {
	p := NewRecentPartition()
	require.NoError(t, p.Insert(record.Handle(0), []float32{0, 0}))
	require.NoError(t, p.Insert(record.Handle(1), []float32{5, 5}))

	vectors := map[record.Handle][]float32{
		record.Handle(10): {0, 0},
	}
	remap := map[record.Handle]record.Handle{record.Handle(0): record.Handle(10)}

	require.NoError(t, p.Rekey(remap, func(h record.Handle) ([]float32, bool) {
		v, ok := vectors[h]
		return v, ok
	}))

	assert.False(t, p.Contains(record.Handle(0)))
	assert.True(t, p.Contains(record.Handle(10)))
}

func TestRecentPartitionCloseIsIdempotent(t *testing.T) {
	p := NewRecentPartition()
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}
