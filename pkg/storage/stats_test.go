package storage

import (
	"fmt"
	"testing"

	hll "github.com/axiomhq/hyperloglog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/common"
)

func Test_baseStatsUpdateMerge(t *testing.T) {
	stats := NewEmptyBaseStats(common.VarcharType())
	_, has := stats.Min()
	assert.False(t, has)

	for _, s := range []string{"m", "c", "x"} {
		stats.Update(chunk.NewVarcharValue(s))
	}
	minVal, has := stats.Min()
	require.True(t, has)
	assert.Equal(t, "c", minVal.Str)
	maxVal, _ := stats.Max()
	assert.Equal(t, "x", maxVal.Str)
	assert.False(t, stats.HasNull())
	assert.True(t, stats.HasNoNull())

	other := NewEmptyBaseStats(common.VarcharType())
	other.Update(chunk.NewNullValue(common.VarcharType()))
	other.Update(chunk.NewVarcharValue("a"))
	stats.Merge(&other)
	minVal, _ = stats.Min()
	assert.Equal(t, "a", minVal.Str)
	assert.True(t, stats.HasNull())

	//copies do not share the bounds
	cp := stats.Copy()
	cp.Update(chunk.NewVarcharValue("z"))
	maxVal, _ = stats.Max()
	assert.Equal(t, "x", maxVal.Str)
}

func Test_baseStatsSerialize(t *testing.T) {
	dec1, err := chunk.NewDecimalValue("1.25", 10, 2)
	require.NoError(t, err)
	dec2, err := chunk.NewDecimalValue("-3.50", 10, 2)
	require.NoError(t, err)

	tests := []struct {
		name string
		typ  common.LType
		vals []*chunk.Value
	}{
		{"bigint", common.BigintType(), []*chunk.Value{chunk.NewBigintValue(-4), chunk.NewBigintValue(9)}},
		{"varchar", common.VarcharType(), []*chunk.Value{chunk.NewVarcharValue("b"), chunk.NewVarcharValue("a")}},
		{"decimal", common.DecimalType(10, 2), []*chunk.Value{dec1, dec2}},
		{"only null", common.BigintType(), []*chunk.Value{chunk.NewNullValue(common.BigintType())}},
		{"empty", common.BigintType(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := NewEmptyBaseStats(tt.typ)
			for _, val := range tt.vals {
				stats.Update(val)
			}
			serial := NewBufferedSerialize(nil)
			require.NoError(t, stats.Serialize(serial))

			got := BaseStats{}
			require.NoError(t, got.Deserialize(NewBufferedDeserializer(serial.Bytes()), tt.typ))
			assert.Equal(t, stats.HasNull(), got.HasNull())
			assert.Equal(t, stats.HasNoNull(), got.HasNoNull())
			assert.Equal(t, stats.String(), got.String())
			wantMin, has := stats.Min()
			gotMin, gotHas := got.Min()
			require.Equal(t, has, gotHas)
			if has {
				assert.True(t, wantMin.Equal(gotMin))
			}
		})
	}
}

func Test_distinctStats(t *testing.T) {
	vec := chunk.NewVector(common.BigintType(), 1000)
	for i := 0; i < 1000; i++ {
		vec.SetValue(i, chunk.NewBigintValue(int64(i)))
	}
	stats := NewDistinctStats()
	stats.Update(vec, 1000, true)
	assert.InDelta(t, 1000, float64(stats.Count()), 100)

	low := chunk.NewVector(common.BigintType(), 1000)
	for i := 0; i < 1000; i++ {
		low.SetValue(i, chunk.NewBigintValue(int64(i%10)))
	}
	lowStats := NewDistinctStats()
	lowStats.Update(low, 1000, true)
	assert.Equal(t, uint64(10), lowStats.Count())

	//never more than the rows seen
	small := chunk.NewVector(common.VarcharType(), 3)
	for i := 0; i < 3; i++ {
		small.SetValue(i, chunk.NewVarcharValue(fmt.Sprintf("v%d", i)))
	}
	smallStats := NewDistinctStats()
	smallStats.Update(small, 3, false)
	assert.LessOrEqual(t, smallStats.Count(), uint64(3))
	assert.Equal(t, uint64(0), NewDistinctStats().Count())
}

func Test_distinctStatsMergeSerialize(t *testing.T) {
	a := chunk.NewVector(common.BigintType(), 100)
	b := chunk.NewVector(common.BigintType(), 100)
	for i := 0; i < 100; i++ {
		a.SetValue(i, chunk.NewBigintValue(int64(i)))
		b.SetValue(i, chunk.NewBigintValue(int64(i+100)))
	}
	stats := NewDistinctStats()
	stats.Update(a, 100, false)
	other := NewDistinctStats()
	other.Update(b, 100, false)
	stats.Merge(other)
	assert.InDelta(t, 200, float64(stats.Count()), 10)

	serial := NewBufferedSerialize(nil)
	require.NoError(t, stats.Serialize(serial))
	got := NewDistinctStats()
	require.NoError(t, got.Deserialize(NewBufferedDeserializer(serial.Bytes())))
	assert.Equal(t, stats.Count(), got.Count())
}

func Test_distinctStatsMergeMismatch(t *testing.T) {
	vec := chunk.NewVector(common.BigintType(), 10)
	for i := 0; i < 10; i++ {
		vec.SetValue(i, chunk.NewBigintValue(int64(i)))
	}
	stats := NewDistinctStats()
	stats.Update(vec, 10, false)
	before := stats.Count()

	other := &DistinctStats{_log: hll.New16()}
	other.Update(vec, 10, false)
	stats.Merge(other)
	assert.Equal(t, before, stats.Count())
	assert.Equal(t, uint64(10), stats._totalCount.Load())
}

func Test_tableStats(t *testing.T) {
	types := []common.LType{common.BigintType(), common.VarcharType()}
	stats := NewTableStats(types)
	ids := chunk.NewVector(common.BigintType(), 4)
	names := chunk.NewVector(common.VarcharType(), 4)
	for i := 0; i < 4; i++ {
		ids.SetValue(i, chunk.NewBigintValue(int64(i)))
		names.SetValue(i, chunk.NewVarcharValue("same"))
	}
	stats.UpdateDistinctStats(0, ids, 4)
	stats.UpdateDistinctStats(1, names, 4)
	colStats := NewEmptyBaseStats(common.BigintType())
	colStats.UpdateVector(ids, 0, 4)
	stats.MergeStats(0, &colStats)
	assert.Equal(t, uint64(4), stats.DistinctCount(0))
	assert.Equal(t, uint64(1), stats.DistinctCount(1))

	serial := NewBufferedSerialize(nil)
	require.NoError(t, stats.Serialize(serial))
	got := NewTableStats(nil)
	require.NoError(t, got.Deserialize(NewBufferedDeserializer(serial.Bytes()), types))
	assert.Equal(t, 2, got.ColumnCount())
	assert.Equal(t, stats.CopyStats(0).String(), got.CopyStats(0).String())
	assert.Equal(t, stats.DistinctCount(0), got.DistinctCount(0))

	added := stats.CopyWithAddedColumn(common.IntegerType())
	assert.Equal(t, 3, added.ColumnCount())
	assert.Equal(t, uint64(0), added.DistinctCount(2))
	removed := stats.CopyWithRemovedColumn(0)
	assert.Equal(t, 1, removed.ColumnCount())
	assert.Equal(t, uint64(1), removed.DistinctCount(0))
	altered := stats.CopyWithAlteredColumn(0, common.VarcharType())
	_, has := altered.CopyStats(0).Min()
	assert.False(t, has)
	//the source is untouched
	assert.Equal(t, 2, stats.ColumnCount())
	_, has = stats.CopyStats(0).Min()
	assert.True(t, has)
}
