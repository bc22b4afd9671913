package storage

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	hll "github.com/axiomhq/hyperloglog"
	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/util"
)

// BaseStats is the zonemap of a column range: null flags and min/max.
type BaseStats struct {
	_typ       common.LType
	_hasNull   bool
	_hasNoNull bool
	_hasMinMax bool
	_min       chunk.Value
	_max       chunk.Value
}

func NewEmptyBaseStats(typ common.LType) BaseStats {
	return BaseStats{
		_typ: typ,
	}
}

func (stats *BaseStats) Type() common.LType {
	return stats._typ
}

func (stats *BaseStats) HasNull() bool {
	return stats._hasNull
}

func (stats *BaseStats) HasNoNull() bool {
	return stats._hasNoNull
}

func (stats *BaseStats) Min() (*chunk.Value, bool) {
	if !stats._hasMinMax {
		return nil, false
	}
	return stats._min.Copy(), true
}

func (stats *BaseStats) Max() (*chunk.Value, bool) {
	if !stats._hasMinMax {
		return nil, false
	}
	return stats._max.Copy(), true
}

func (stats *BaseStats) Update(val *chunk.Value) {
	if val.IsNull {
		stats._hasNull = true
		return
	}
	stats._hasNoNull = true
	if !stats._hasMinMax {
		stats._min = *val
		stats._max = *val
		stats._hasMinMax = true
		return
	}
	if val.Compare(&stats._min) < 0 {
		stats._min = *val
	}
	if val.Compare(&stats._max) > 0 {
		stats._max = *val
	}
}

func (stats *BaseStats) UpdateVector(vec *chunk.Vector, offset, count int) {
	for i := offset; i < offset+count; i++ {
		stats.Update(vec.GetValue(i))
	}
}

// Merge other to me
func (stats *BaseStats) Merge(other *BaseStats) {
	stats._hasNull = stats._hasNull || other._hasNull
	stats._hasNoNull = stats._hasNoNull || other._hasNoNull
	if !other._hasMinMax {
		return
	}
	if !stats._hasMinMax {
		stats._min = other._min
		stats._max = other._max
		stats._hasMinMax = true
		return
	}
	if other._min.Compare(&stats._min) < 0 {
		stats._min = other._min
	}
	if other._max.Compare(&stats._max) > 0 {
		stats._max = other._max
	}
}

func (stats *BaseStats) Copy() BaseStats {
	return *stats
}

func (stats *BaseStats) Serialize(serial util.Serialize) error {
	writer := NewFieldWriter(serial)
	if err := WriteField[bool](stats._hasNull, writer); err != nil {
		return err
	}
	if err := WriteField[bool](stats._hasNoNull, writer); err != nil {
		return err
	}
	if err := WriteField[bool](stats._hasMinMax, writer); err != nil {
		return err
	}
	if stats._hasMinMax {
		if err := stats._min.Serialize(writer.GetSerializer()); err != nil {
			return err
		}
		if err := stats._max.Serialize(writer.GetSerializer()); err != nil {
			return err
		}
	}
	return writer.Finalize()
}

func (stats *BaseStats) Deserialize(deserial util.Deserialize, lType common.LType) error {
	stats._typ = lType
	reader, err := NewFieldReader(deserial)
	if err != nil {
		return err
	}
	if err = ReadRequired[bool](&stats._hasNull, reader); err != nil {
		return err
	}
	if err = ReadRequired[bool](&stats._hasNoNull, reader); err != nil {
		return err
	}
	if err = ReadRequired[bool](&stats._hasMinMax, reader); err != nil {
		return err
	}
	if stats._hasMinMax {
		minVal, err := chunk.DeserializeValue(lType, reader.GetSource())
		if err != nil {
			return err
		}
		maxVal, err := chunk.DeserializeValue(lType, reader.GetSource())
		if err != nil {
			return err
		}
		stats._min = *minVal
		stats._max = *maxVal
	}
	reader.Finalize()
	return nil
}

func (stats *BaseStats) String() string {
	if !stats._hasMinMax {
		return fmt.Sprintf("[] hasNull %v", stats._hasNull)
	}
	return fmt.Sprintf("[%v, %v] hasNull %v", stats._min, stats._max, stats._hasNull)
}

const (
	SAMPLE_RATE float64 = 0.1
	// vectors smaller than this are not sampled
	SAMPLE_THRESHOLD = 2048
)

type DistinctStats struct {
	_log         *hll.Sketch
	_sampleCount atomic.Uint64
	_totalCount  atomic.Uint64
}

func NewDistinctStats() *DistinctStats {
	ret := &DistinctStats{
		_log: hll.New14(),
	}
	return ret
}

func (stats *DistinctStats) Update(
	vec *chunk.Vector,
	count int,
	sample bool) {
	if count == 0 {
		return
	}
	stats._totalCount.Add(uint64(count))
	if sample {
		mval := int(float64(max(SAMPLE_THRESHOLD, count)) * SAMPLE_RATE)
		count = min(mval, count)
	}
	stats._sampleCount.Add(uint64(count))
	for i := 0; i < count; i++ {
		if vec.IsNull(i) {
			continue
		}
		stats._log.InsertHash(vec.GetValue(i).Hash())
	}
}

func (stats *DistinctStats) Count() uint64 {
	if stats._sampleCount.Load() == 0 ||
		stats._totalCount.Load() == 0 {
		return 0
	}
	cnt := stats._log.Estimate()
	u := float64(min(cnt, stats._sampleCount.Load()))
	s := float64(stats._sampleCount.Load())
	n := float64(stats._totalCount.Load())
	u1 := math.Pow(u/s, 2) * u
	est := u + u1/s*(n-s)
	return min(uint64(est), stats._totalCount.Load())
}

func (stats *DistinctStats) Copy() *DistinctStats {
	ret := &DistinctStats{
		_log: stats._log.Clone(),
	}
	ret._sampleCount.Store(stats._sampleCount.Load())
	ret._totalCount.Store(stats._totalCount.Load())
	return ret
}

// Merge folds other into stats. A sketch that can not be merged leaves
// stats unchanged.
func (stats *DistinctStats) Merge(other *DistinctStats) {
	err := stats._log.Merge(other._log)
	if err != nil {
		util.Error("merge distinct stats failed", zap.Error(err))
		return
	}
	stats._sampleCount.Add(other._sampleCount.Load())
	stats._totalCount.Add(other._totalCount.Load())
}

func (stats *DistinctStats) Serialize(serial util.Serialize) error {
	writer := NewFieldWriter(serial)
	err := WriteField[uint64](stats._sampleCount.Load(), writer)
	if err != nil {
		return err
	}
	err = WriteField[uint64](stats._totalCount.Load(), writer)
	if err != nil {
		return err
	}
	logData, err := stats._log.MarshalBinary()
	if err != nil {
		return err
	}
	err = WriteField[uint32](uint32(len(logData)), writer)
	if err != nil {
		return err
	}
	err = WriteBlob(logData, writer)
	if err != nil {
		return err
	}
	return writer.Finalize()
}

func (stats *DistinctStats) Deserialize(deserial util.Deserialize) error {
	reader, err := NewFieldReader(deserial)
	if err != nil {
		return err
	}
	var scount, tcount uint64
	if err = ReadRequired[uint64](&scount, reader); err != nil {
		return err
	}
	if err = ReadRequired[uint64](&tcount, reader); err != nil {
		return err
	}
	stats._sampleCount.Store(scount)
	stats._totalCount.Store(tcount)
	var logLen uint32
	if err = ReadRequired[uint32](&logLen, reader); err != nil {
		return err
	}
	logData := make([]byte, logLen)
	if err = ReadBlob(logData, reader); err != nil {
		return err
	}
	reader.Finalize()
	return stats._log.UnmarshalBinary(logData)
}

// ColumnStats are the table level statistics of a column.
type ColumnStats struct {
	_stats         BaseStats
	_distinctStats *DistinctStats
}

func NewEmptyColumnStats(lType common.LType) *ColumnStats {
	return &ColumnStats{
		_stats:         NewEmptyBaseStats(lType),
		_distinctStats: NewDistinctStats(),
	}
}

func (stat *ColumnStats) Copy() *ColumnStats {
	ret := &ColumnStats{
		_stats: stat._stats.Copy(),
	}
	if stat._distinctStats != nil {
		ret._distinctStats = stat._distinctStats.Copy()
	}
	return ret
}

func (stat *ColumnStats) Merge(other *ColumnStats) {
	stat._stats.Merge(&other._stats)
	if stat._distinctStats != nil && other._distinctStats != nil {
		stat._distinctStats.Merge(other._distinctStats)
	}
}

func (stat *ColumnStats) UpdateDistinctStats(vec *chunk.Vector, count int) {
	if stat._distinctStats == nil {
		return
	}
	stat._distinctStats.Update(vec, count, true)
}

func (stat *ColumnStats) DistinctCount() uint64 {
	if stat._distinctStats == nil {
		return 0
	}
	return stat._distinctStats.Count()
}

func (stat *ColumnStats) Serialize(serial util.Serialize) error {
	err := stat._stats.Serialize(serial)
	if err != nil {
		return err
	}
	return util.WriteOptional(
		func() bool {
			return stat._distinctStats != nil
		},
		func(serial util.Serialize) error {
			return stat._distinctStats.Serialize(serial)
		},
		serial,
	)
}

func (stat *ColumnStats) Deserialize(deserial util.Deserialize, lType common.LType) error {
	err := stat._stats.Deserialize(deserial, lType)
	if err != nil {
		return err
	}
	stat._distinctStats = nil
	return util.ReadOptional(
		func(deserial util.Deserialize) error {
			stat._distinctStats = NewDistinctStats()
			return stat._distinctStats.Deserialize(deserial)
		},
		deserial,
	)
}

// TableStats are the statistics of every column of a table.
type TableStats struct {
	_lock        sync.Mutex
	_columnStats []*ColumnStats
}

func NewTableStats(types []common.LType) *TableStats {
	ret := &TableStats{}
	ret.InitEmpty(types)
	return ret
}

func (stats *TableStats) InitEmpty(types []common.LType) {
	stats._columnStats = nil
	for _, lType := range types {
		stats._columnStats = append(stats._columnStats,
			NewEmptyColumnStats(lType))
	}
}

func (stats *TableStats) ColumnCount() int {
	stats._lock.Lock()
	defer stats._lock.Unlock()
	return len(stats._columnStats)
}

// CopyStats returns a copy of the zonemap of column idx.
func (stats *TableStats) CopyStats(idx int) *BaseStats {
	stats._lock.Lock()
	defer stats._lock.Unlock()
	result := stats._columnStats[idx]._stats.Copy()
	return &result
}

func (stats *TableStats) DistinctCount(idx int) uint64 {
	stats._lock.Lock()
	defer stats._lock.Unlock()
	return stats._columnStats[idx].DistinctCount()
}

func (stats *TableStats) MergeStats(idx int, other *BaseStats) {
	stats._lock.Lock()
	defer stats._lock.Unlock()
	stats._columnStats[idx]._stats.Merge(other)
}

func (stats *TableStats) UpdateDistinctStats(idx int, vec *chunk.Vector, count int) {
	stats._lock.Lock()
	defer stats._lock.Unlock()
	stats._columnStats[idx].UpdateDistinctStats(vec, count)
}

// Merge adds the statistics of other, a table with the same columns.
func (stats *TableStats) Merge(other *TableStats) {
	other._lock.Lock()
	defer other._lock.Unlock()
	stats._lock.Lock()
	defer stats._lock.Unlock()
	util.AssertFunc(len(stats._columnStats) == len(other._columnStats))
	for i, stat := range other._columnStats {
		stats._columnStats[i].Merge(stat)
	}
}

// Copy gives stats for a new table with the same columns.
func (stats *TableStats) Copy() *TableStats {
	stats._lock.Lock()
	defer stats._lock.Unlock()
	ret := &TableStats{}
	for _, stat := range stats._columnStats {
		ret._columnStats = append(ret._columnStats, stat.Copy())
	}
	return ret
}

// CopyWithAddedColumn copies the stats and appends an empty column.
func (stats *TableStats) CopyWithAddedColumn(typ common.LType) *TableStats {
	ret := stats.Copy()
	ret._columnStats = append(ret._columnStats, NewEmptyColumnStats(typ))
	return ret
}

// CopyWithRemovedColumn copies the stats without column idx.
func (stats *TableStats) CopyWithRemovedColumn(idx int) *TableStats {
	ret := stats.Copy()
	ret._columnStats = util.Erase(ret._columnStats, idx)
	return ret
}

// CopyWithAlteredColumn copies the stats with column idx reset to typ.
func (stats *TableStats) CopyWithAlteredColumn(idx int, typ common.LType) *TableStats {
	ret := stats.Copy()
	ret._columnStats[idx] = NewEmptyColumnStats(typ)
	return ret
}

func (stats *TableStats) Serialize(serial util.Serialize) error {
	stats._lock.Lock()
	defer stats._lock.Unlock()
	for _, stat := range stats._columnStats {
		err := stat.Serialize(serial)
		if err != nil {
			return err
		}
	}
	return nil
}

func (stats *TableStats) Deserialize(
	deserial util.Deserialize,
	types []common.LType) error {
	stats._lock.Lock()
	defer stats._lock.Unlock()
	stats._columnStats = nil
	for _, typ := range types {
		colStats := NewEmptyColumnStats(typ)
		err := colStats.Deserialize(deserial, typ)
		if err != nil {
			return err
		}
		stats._columnStats = append(stats._columnStats, colStats)
	}
	return nil
}
