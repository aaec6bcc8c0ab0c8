package index

import (
	"bytes"
	"testing"

	dberrors "github.com/fabstir/vectordb/internal/errors"
	"github.com/fabstir/vectordb/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoricalPartitionInsertBeforeTrainFails(t *testing.T) {
	p := NewHistoricalPartition()
	err := p.Insert(record.Handle(0), []float32{1, 2})
	require.Error(t, err)
	assert.Equal(t, dberrors.ErrCodeIndexNotReady, dberrors.GetCode(err))
}

func TestHistoricalPartitionSearchBeforeTrainIsEmpty(t *testing.T) {
	p := NewHistoricalPartition()
	results, err := p.Search([]float32{1, 2}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func trainSamples() []TrainSample {
	return []TrainSample{
		{Handle: 0, Vector: []float32{0, 0}},
		{Handle: 1, Vector: []float32{0, 1}},
		{Handle: 2, Vector: []float32{10, 10}},
		{Handle: 3, Vector: []float32{10, 11}},
		{Handle: 4, Vector: []float32{20, 0}},
		{Handle: 5, Vector: []float32{20, 1}},
	}
}

func TestHistoricalPartitionTrainAndSearch(t *testing.T) {
	p := NewHistoricalPartition()
	require.NoError(t, p.Train(trainSamples()))
	assert.True(t, p.Trained())

	results, err := p.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, record.Handle(0), results[0].Handle)
}

func TestHistoricalPartitionTrainTwiceFails(t *testing.T) {
	p := NewHistoricalPartition()
	require.NoError(t, p.Train(trainSamples()))
	err := p.Train(trainSamples())
	require.Error(t, err)
}

func TestHistoricalPartitionInsertAfterTrain(t *testing.T) {
	p := NewHistoricalPartition()
	require.NoError(t, p.Train(trainSamples()))
	require.NoError(t, p.Insert(record.Handle(6), []float32{0, 0}))

	results, err := p.Search([]float32{0, 0}, 10)
	require.NoError(t, err)

	found := false
	for _, c := range results {
		if c.Handle == record.Handle(6) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHistoricalPartitionDeleteHidesFromSearch(t *testing.T) {
	p := NewHistoricalPartition()
	require.NoError(t, p.Train(trainSamples()))
	require.NoError(t, p.Delete(record.Handle(0)))

	results, err := p.Search([]float32{0, 0}, 10)
	require.NoError(t, err)
	for _, c := range results {
		assert.NotEqual(t, record.Handle(0), c.Handle)
	}
}

func TestHistoricalPartitionRekeyRewritesPostings(t *testing.T) {
	p := NewHistoricalPartition()
	require.NoError(t, p.Train(trainSamples()))

	remap := map[record.Handle]record.Handle{
		0: 100, 1: 101, 2: 102, 3: 103, 4: 104, 5: 105,
	}
	p.Rekey(remap)

	results, err := p.Search([]float32{0, 0}, 10)
	require.NoError(t, err)
	for _, c := range results {
		assert.GreaterOrEqual(t, int(c.Handle), 100)
	}
}

func TestHistoricalPartitionExportImportRoundTrip(t *testing.T) {
	p := NewHistoricalPartition()
	require.NoError(t, p.Train(trainSamples()))

	var buf bytes.Buffer
	require.NoError(t, p.ExportScaffold(&buf))

	vectors := map[record.Handle][]float32{}
	for _, s := range trainSamples() {
		vectors[s.Handle] = s.Vector
	}

	p2 := NewHistoricalPartition()
	require.NoError(t, p2.ImportScaffold(&buf, func(h record.Handle) ([]float32, bool) {
		v, ok := vectors[h]
		return v, ok
	}))
	assert.True(t, p2.Trained())

	results, err := p2.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestHistoricalPartitionExportUntrainedIsEmpty(t *testing.T) {
	p := NewHistoricalPartition()
	var buf bytes.Buffer
	require.NoError(t, p.ExportScaffold(&buf))

	p2 := NewHistoricalPartition()
	require.NoError(t, p2.ImportScaffold(&buf, nil))
	assert.False(t, p2.Trained())
}
