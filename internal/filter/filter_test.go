package filter

import (
	"testing"

	dberrors "github.com/fabstir/vectordb/internal/errors"
	"github.com/fabstir/vectordb/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metaFromAny(m map[string]any) value.Value {
	return value.FromAny(m)
}

func mustParse(t *testing.T, m map[string]any) *Node {
	t.Helper()
	node, err := Parse(metaFromAny(m))
	require.NoError(t, err)
	return node
}

func TestEmptyFilterMatchesAll(t *testing.T) {
	node, err := Parse(value.NewMap())
	require.NoError(t, err)
	assert.True(t, Evaluate(node, metaFromAny(map[string]any{"a": 1})))
}

func TestBareScalarEquality(t *testing.T) {
	node := mustParse(t, map[string]any{"status": "active"})
	assert.True(t, Evaluate(node, metaFromAny(map[string]any{"status": "active"})))
	assert.False(t, Evaluate(node, metaFromAny(map[string]any{"status": "inactive"})))
}

func TestDottedPathTraversal(t *testing.T) {
	node := mustParse(t, map[string]any{"user.id": "u1"})
	meta := metaFromAny(map[string]any{"user": map[string]any{"id": "u1"}})
	assert.True(t, Evaluate(node, meta))
}

func TestMissingIntermediateSegmentIsFalse(t *testing.T) {
	node := mustParse(t, map[string]any{"user.id": "u1"})
	meta := metaFromAny(map[string]any{"other": 1})
	assert.False(t, Evaluate(node, meta))
}

func TestSequenceFieldScalarComparandIsContains(t *testing.T) {
	node := mustParse(t, map[string]any{"tags": "red"})
	meta := metaFromAny(map[string]any{"tags": []any{"red", "blue"}})
	assert.True(t, Evaluate(node, meta))

	meta2 := metaFromAny(map[string]any{"tags": []any{"green", "blue"}})
	assert.False(t, Evaluate(node, meta2))
}

func TestInOperator(t *testing.T) {
	node := mustParse(t, map[string]any{"category": map[string]any{"$in": []any{"a", "b"}}})
	assert.True(t, Evaluate(node, metaFromAny(map[string]any{"category": "b"})))
	assert.False(t, Evaluate(node, metaFromAny(map[string]any{"category": "c"})))
}

func TestRangeOperatorsNumericCoercion(t *testing.T) {
	node := mustParse(t, map[string]any{"score": map[string]any{"$gte": float64(5)}})
	assert.True(t, Evaluate(node, metaFromAny(map[string]any{"score": int64(5)})))
	assert.True(t, Evaluate(node, metaFromAny(map[string]any{"score": float64(10)})))
	assert.False(t, Evaluate(node, metaFromAny(map[string]any{"score": float64(4)})))
}

func TestRangeOperatorAgainstSequenceIsFalse(t *testing.T) {
	node := mustParse(t, map[string]any{"score": map[string]any{"$gt": float64(1)}})
	meta := metaFromAny(map[string]any{"score": []any{float64(5)}})
	assert.False(t, Evaluate(node, meta))
}

func TestGtAndGteConflictIsParseError(t *testing.T) {
	_, err := Parse(metaFromAny(map[string]any{
		"score": map[string]any{"$gt": float64(1), "$gte": float64(2)},
	}))
	require.Error(t, err)
	assert.Equal(t, dberrors.ErrCodeFilterParse, dberrors.GetCode(err))
}

func TestLtAndLteConflictIsParseError(t *testing.T) {
	_, err := Parse(metaFromAny(map[string]any{
		"score": map[string]any{"$lt": float64(1), "$lte": float64(2)},
	}))
	require.Error(t, err)
}

func TestUnknownTopLevelOperatorIsParseError(t *testing.T) {
	_, err := Parse(metaFromAny(map[string]any{"$nope": []any{}}))
	require.Error(t, err)
	assert.Equal(t, dberrors.ErrCodeFilterParse, dberrors.GetCode(err))
}

func TestUnknownFieldOperatorIsParseError(t *testing.T) {
	_, err := Parse(metaFromAny(map[string]any{"score": map[string]any{"$bogus": 1}}))
	require.Error(t, err)
}

func TestAndCombinator(t *testing.T) {
	node := mustParse(t, map[string]any{
		"$and": []any{
			map[string]any{"status": "active"},
			map[string]any{"score": map[string]any{"$gte": float64(5)}},
		},
	})
	assert.True(t, Evaluate(node, metaFromAny(map[string]any{"status": "active", "score": float64(9)})))
	assert.False(t, Evaluate(node, metaFromAny(map[string]any{"status": "active", "score": float64(1)})))
}

func TestOrCombinator(t *testing.T) {
	node := mustParse(t, map[string]any{
		"$or": []any{
			map[string]any{"status": "active"},
			map[string]any{"status": "pending"},
		},
	})
	assert.True(t, Evaluate(node, metaFromAny(map[string]any{"status": "pending"})))
	assert.False(t, Evaluate(node, metaFromAny(map[string]any{"status": "closed"})))
}

func TestEmptyCombinatorArrayIsParseError(t *testing.T) {
	_, err := Parse(metaFromAny(map[string]any{"$and": []any{}}))
	require.Error(t, err)
}

func TestImplicitTopLevelAnd(t *testing.T) {
	node := mustParse(t, map[string]any{"status": "active", "score": map[string]any{"$gt": float64(0)}})
	assert.True(t, Evaluate(node, metaFromAny(map[string]any{"status": "active", "score": float64(1)})))
	assert.False(t, Evaluate(node, metaFromAny(map[string]any{"status": "inactive", "score": float64(1)})))
}
