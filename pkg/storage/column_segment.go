package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/util"
)

type SegmentType uint8

const (
	SegmentTypeTransient  SegmentType = 0
	SegmentTypePersistent SegmentType = 1
)

func (typ SegmentType) String() string {
	if typ == SegmentTypePersistent {
		return "persistent"
	}
	return "transient"
}

var _ SegmentBase = &ColumnSegment{}

// ColumnSegment is a contiguous run of values of one column.
// A transient segment lives in memory and accepts appends.
// A persistent segment was written by a checkpoint. Its values are
// read from the block manager on first use.
type ColumnSegment struct {
	_typ      common.LType
	_start    IdxType
	_count    atomic.Uint64
	_capacity IdxType
	_segType  SegmentType
	_blockMgr BlockMgr
	_blockPtr BlockPointer
	//guards _data and _stats
	_lock  sync.Mutex
	_data  *chunk.Vector
	_stats BaseStats
}

func NewColumnTransientSegment(
	typ common.LType,
	start IdxType,
	capacity IdxType) *ColumnSegment {
	seg := &ColumnSegment{
		_typ:      typ,
		_start:    start,
		_capacity: capacity,
		_segType:  SegmentTypeTransient,
		_blockPtr: NewBlockPointer(INVALID_BLOCK, 0),
		_data:     chunk.NewVector(typ, 0),
		_stats:    NewEmptyBaseStats(typ),
	}
	return seg
}

func NewColumnPersistentSegment(
	blockMgr BlockMgr,
	ptr BlockPointer,
	typ common.LType,
	start IdxType,
	count IdxType,
	stats BaseStats,
) *ColumnSegment {
	seg := &ColumnSegment{
		_typ:      typ,
		_start:    start,
		_capacity: count,
		_segType:  SegmentTypePersistent,
		_blockMgr: blockMgr,
		_blockPtr: ptr,
		_stats:    stats,
	}
	seg._count.Store(uint64(count))
	return seg
}

func (segment *ColumnSegment) Start() IdxType {
	return segment._start
}

func (segment *ColumnSegment) SetStart(start IdxType) {
	segment._start = start
}

func (segment *ColumnSegment) Count() IdxType {
	return IdxType(segment._count.Load())
}

func (segment *ColumnSegment) Type() common.LType {
	return segment._typ
}

func (segment *ColumnSegment) SegmentType() SegmentType {
	return segment._segType
}

func (segment *ColumnSegment) BlockPointer() BlockPointer {
	return segment._blockPtr
}

func (segment *ColumnSegment) Stats() BaseStats {
	segment._lock.Lock()
	defer segment._lock.Unlock()
	return segment._stats.Copy()
}

// UpdateStats widens the zonemap by an updated value.
func (segment *ColumnSegment) UpdateStats(val *chunk.Value) {
	segment._lock.Lock()
	defer segment._lock.Unlock()
	segment._stats.Update(val)
}

func (segment *ColumnSegment) IsFull() bool {
	return segment.Count() >= segment._capacity
}

// Loaded reports whether the values are in memory.
func (segment *ColumnSegment) Loaded() bool {
	segment._lock.Lock()
	defer segment._lock.Unlock()
	return segment._data != nil
}

func (segment *ColumnSegment) loadUnsafe() (*chunk.Vector, error) {
	if segment._data != nil {
		return segment._data, nil
	}
	util.AssertFunc(segment._segType == SegmentTypePersistent)
	reader, err := NewMetaBlockReader(segment._blockMgr, segment._blockPtr)
	if err != nil {
		return nil, err
	}
	var cnt uint64
	err = util.Read[uint64](&cnt, reader)
	if err != nil {
		return nil, err
	}
	if IdxType(cnt) != segment.Count() {
		util.Error("segment count mismatch",
			zap.String("block", segment._blockPtr.String()),
			zap.Uint64("stored", cnt),
			zap.Uint64("expected", uint64(segment.Count())))
		return nil, fmt.Errorf("%w: segment at %v has %d values, expected %d",
			ErrCorrupted, segment._blockPtr, cnt, segment.Count())
	}
	vec := chunk.NewVector(segment._typ, int(cnt))
	for i := 0; i < int(cnt); i++ {
		val, err := chunk.DeserializeValue(segment._typ, reader)
		if err != nil {
			return nil, err
		}
		vec.SetValue(i, val)
	}
	util.Debug("load column segment",
		zap.String("block", segment._blockPtr.String()),
		zap.Uint64("start", uint64(segment._start)),
		zap.Uint64("count", cnt))
	segment._data = vec
	return vec, nil
}

// Append copies up to count values of vec from offset and returns
// how many were copied.
func (segment *ColumnSegment) Append(
	vec *chunk.Vector,
	offset IdxType,
	count IdxType) IdxType {
	util.AssertFunc(segment._segType == SegmentTypeTransient)
	segment._lock.Lock()
	defer segment._lock.Unlock()
	cur := segment.Count()
	copied := min(count, segment._capacity-cur)
	segment.growUnsafe(int(cur + copied))
	for i := IdxType(0); i < copied; i++ {
		val := vec.GetValue(int(offset + i))
		segment._data.SetValue(int(cur+i), val)
		segment._stats.Update(val)
	}
	segment._count.Add(uint64(copied))
	return copied
}

func (segment *ColumnSegment) growUnsafe(size int) {
	data := segment._data
	if len(data.Data) >= size {
		return
	}
	newCap := max(size, 2*len(data.Data), 8)
	newCap = min(newCap, int(segment._capacity))
	grown := make([]chunk.Value, newCap)
	copy(grown, data.Data)
	data.Data = grown
}

// Scan copies count values from rowIdx into result at resultOffset.
func (segment *ColumnSegment) Scan(
	rowIdx IdxType,
	count IdxType,
	result *chunk.Vector,
	resultOffset IdxType) error {
	segment._lock.Lock()
	defer segment._lock.Unlock()
	data, err := segment.loadUnsafe()
	if err != nil {
		return err
	}
	rel := segment.GetRelativeIndex(rowIdx)
	util.AssertFunc(rel+count <= segment.Count())
	result.CopyFrom(data, int(rel), int(resultOffset), int(count))
	return nil
}

func (segment *ColumnSegment) FetchValue(rowIdx IdxType) (*chunk.Value, error) {
	segment._lock.Lock()
	defer segment._lock.Unlock()
	data, err := segment.loadUnsafe()
	if err != nil {
		return nil, err
	}
	return data.GetValue(int(segment.GetRelativeIndex(rowIdx))), nil
}

func (segment *ColumnSegment) GetRelativeIndex(rowIdx IdxType) IdxType {
	util.AssertFunc(rowIdx >= segment.Start() &&
		rowIdx <= segment.Start()+segment.Count())
	return rowIdx - segment.Start()
}

// RevertAppend drops the values from startRow on.
func (segment *ColumnSegment) RevertAppend(startRow IdxType) {
	util.AssertFunc(segment._segType == SegmentTypeTransient)
	segment._lock.Lock()
	defer segment._lock.Unlock()
	keep := segment.GetRelativeIndex(startRow)
	for i := keep; i < segment.Count(); i++ {
		segment._data.Data[i] = chunk.Value{}
		segment._data.SetNull(int(i), false)
	}
	segment._count.Store(uint64(keep))
}

// WriteSegment stores the values as count:u64 followed by every value.
func WriteSegment(values *chunk.Vector, count IdxType, serial util.Serialize) error {
	err := util.Write[uint64](uint64(count), serial)
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		err = values.GetValue(i).Serialize(serial)
		if err != nil {
			return err
		}
	}
	return nil
}

// Unload drops the in-memory values of a persistent segment.
func (segment *ColumnSegment) Unload() {
	if segment._segType != SegmentTypePersistent {
		return
	}
	segment._lock.Lock()
	defer segment._lock.Unlock()
	segment._data = nil
}

func (segment *ColumnSegment) String() string {
	stats := segment.Stats()
	return fmt.Sprintf("%v segment [%d, %d) %v %s",
		segment._segType,
		segment._start,
		segment._start+segment.Count(),
		segment._blockPtr,
		stats.String())
}

type ColumnAppendState struct {
	_current *ColumnSegment
}

type ColumnScanState struct {
	_current        *ColumnSegment
	_rowIdx         IdxType
	_segmentChecked bool
}

// Next moves the scan count rows ahead, entering later segments.
func (state *ColumnScanState) Next(count IdxType, tree *SegmentTree[*ColumnSegment]) {
	state._rowIdx += count
	for state._current != nil &&
		state._rowIdx >= state._current.Start()+state._current.Count() {
		next, has := tree.GetNextSegment(state._current)
		if !has {
			break
		}
		state._current = next
		state._segmentChecked = false
	}
}
