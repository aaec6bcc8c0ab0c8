package hybrid

import (
	"context"
	"testing"

	"github.com/fabstir/vectordb/internal/index"
	"github.com/fabstir/vectordb/internal/record"
	"github.com/fabstir/vectordb/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(tTrain int) *Orchestrator {
	table := record.New()
	recent := index.NewRecentPartition()
	historical := index.NewHistoricalPartition()
	return New(table, recent, historical, WithTTrain(tTrain), WithOverFetch(2))
}

func TestAddRoutesToRecentBeforeTraining(t *testing.T) {
	o := newTestOrchestrator(10)
	h, err := o.Add("a", []float32{1, 2}, value.NewMap())
	require.NoError(t, err)
	assert.False(t, o.HistoricalTrained())

	tag, ok := o.table.Partition(h)
	require.True(t, ok)
	assert.Equal(t, record.PartitionRecent, tag)
}

func TestAddTriggersTrainingAndDrain(t *testing.T) {
	o := newTestOrchestrator(2)

	vectors := [][]float32{{0, 0}, {0, 1}, {10, 10}, {10, 11}}
	for i, v := range vectors {
		_, err := o.Add(string(rune('a'+i)), v, value.NewMap())
		require.NoError(t, err)
	}

	assert.True(t, o.HistoricalTrained())

	// Every inserted record should now be tagged historical.
	for i := range vectors {
		id := string(rune('a' + i))
		h, ok := o.table.HandleForID(id)
		require.True(t, ok)
		tag, ok := o.table.Partition(h)
		require.True(t, ok)
		assert.Equal(t, record.PartitionHistorical, tag)
	}
}

func TestSearchMergesBothPartitions(t *testing.T) {
	o := newTestOrchestrator(2)

	vectors := [][]float32{{0, 0}, {0, 1}, {10, 10}, {10, 11}}
	for i, v := range vectors {
		_, err := o.Add(string(rune('a'+i)), v, value.NewMap())
		require.NoError(t, err)
	}
	// Training has now happened; add one more that lands in historical.
	_, err := o.Add("e", []float32{0.1, 0.1}, value.NewMap())
	require.NoError(t, err)

	results, err := o.Search(context.Background(), []float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	ids := make([]string, 0, len(results))
	for _, c := range results {
		id, ok := o.table.IDForHandle(c.Handle)
		require.True(t, ok)
		ids = append(ids, id)
	}
	assert.Contains(t, ids, "a")
}

func TestDeleteRoutesToOwningPartition(t *testing.T) {
	o := newTestOrchestrator(10)
	_, err := o.Add("a", []float32{1, 2}, value.NewMap())
	require.NoError(t, err)

	require.NoError(t, o.Delete("a"))

	results, err := o.Search(context.Background(), []float32{1, 2}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeleteManyWithPredicate(t *testing.T) {
	o := newTestOrchestrator(10)
	_, err := o.Add("a", []float32{1, 2}, value.FromAny(map[string]any{"drop": true}))
	require.NoError(t, err)
	_, err = o.Add("b", []float32{3, 4}, value.FromAny(map[string]any{"drop": false}))
	require.NoError(t, err)

	ids, err := o.DeleteMany(func(id string, metadata value.Value) bool {
		drop, _ := metadata.Field("drop")
		b, _ := drop.AsBool()
		return b
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
	assert.False(t, o.table.Contains("a"))
	assert.True(t, o.table.Contains("b"))
}

func TestVacuumAppliesRemapToBothPartitions(t *testing.T) {
	o := newTestOrchestrator(10)
	_, err := o.Add("a", []float32{1, 2}, value.NewMap())
	require.NoError(t, err)
	_, err = o.Add("b", []float32{3, 4}, value.NewMap())
	require.NoError(t, err)
	require.NoError(t, o.Delete("a"))

	removed, err := o.Vacuum()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	results, err := o.Search(context.Background(), []float32{3, 4}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	id, ok := o.table.IDForHandle(results[0].Handle)
	require.True(t, ok)
	assert.Equal(t, "b", id)
}
