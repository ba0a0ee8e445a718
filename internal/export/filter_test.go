package export

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition(t *testing.T) {
	cond, err := ParseCondition("$.total:gte:100")
	require.NoError(t, err)
	assert.Equal(t, "$.total", cond.Expression)
	assert.Equal(t, OpGte, cond.Operator)
	assert.Equal(t, "100", cond.Value)

	cond, err = ParseCondition("$.email:exists")
	require.NoError(t, err)
	assert.Equal(t, OpExists, cond.Operator)
	assert.Empty(t, cond.Value)

	for _, bad := range []string{"$.total", "total:eq:1", "$.email:regex:(", "$.email:between:1"} {
		_, err := ParseCondition(bad)
		assert.ErrorIs(t, err, ErrInvalidCondition, bad)
	}
}

func TestSplitConditionKeepsSlices(t *testing.T) {
	expr, op, value, ok := splitCondition("$.items[0:2].name:contains:Fries")
	require.True(t, ok)
	assert.Equal(t, "$.items[0:2].name", expr)
	assert.Equal(t, OpContains, op)
	assert.Equal(t, "Fries", value)

	_, op, value, ok = splitCondition("$.note:eq:a:b")
	require.True(t, ok)
	assert.Equal(t, OpEq, op)
	assert.Equal(t, "a:b", value)
}

func TestExportWhere(t *testing.T) {
	tests := []struct {
		where []string
		want  int
	}{
		{[]string{"$.total:gte:100"}, 1},
		{[]string{"$.total:eq:42"}, 1},
		{[]string{"$.total:lt:1000"}, 2},
		{[]string{"$.email:exists"}, 1},
		{[]string{"$.items[*].name:contains:Fries"}, 1},
		{[]string{"$.status:regex:^(paid|open)$"}, 2},
		{[]string{"$.status:ne:paid"}, 1},
		{[]string{"$.email:gt:5"}, 0},
		{[]string{"$.status:eq:paid", "$.total:lt:100"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.where[0], func(t *testing.T) {
			where, err := ParseConditions(tt.where)
			require.NoError(t, err)
			cols, err := ParseColumns([]string{"status=$.status"})
			require.NoError(t, err)

			var buf bytes.Buffer
			rows, err := NewExporter(&sliceSource{orders: sampleOrders()}).
				Export(context.Background(), &buf, Filter{Where: where}, cols)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
			assert.Len(t, readCSV(t, &buf), tt.want+1)
		})
	}
}

func TestLooselyEqual(t *testing.T) {
	assert.True(t, looselyEqual(float64(3), "3.0"))
	assert.True(t, looselyEqual(true, "true"))
	assert.False(t, looselyEqual(true, "nope"))
	assert.True(t, looselyEqual("paid", "paid"))
	assert.False(t, looselyEqual("paid", "open"))
}
