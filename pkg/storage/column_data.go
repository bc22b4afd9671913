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

// ColumnData is the storage of one column inside a row group.
type ColumnData interface {
	Type() common.LType
	Start() IdxType
	SetStart(newStart IdxType)
	Count() IdxType

	InitScan(state *ColumnScanState)
	InitScanWithOffset(state *ColumnScanState, rowIdx IdxType)
	// Skip moves the scan one vector ahead without decoding it.
	Skip(state *ColumnScanState)
	Scan(txn TxnData, vectorIdx IdxType, state *ColumnScanState, result *chunk.Vector) (IdxType, error)
	ScanCommitted(vectorIdx IdxType, state *ColumnScanState, result *chunk.Vector, allowUpdates bool) (IdxType, error)
	// Select scans the vector into result and narrows sel to the rows
	// passing filter.
	Select(txn TxnData, vectorIdx IdxType, state *ColumnScanState, result *chunk.Vector,
		sel *chunk.SelectVector, count int, filter TableFilter) (int, error)
	FilterScan(txn TxnData, vectorIdx IdxType, state *ColumnScanState, result *chunk.Vector,
		sel *chunk.SelectVector, count int) error
	FilterScanCommitted(vectorIdx IdxType, state *ColumnScanState, result *chunk.Vector,
		sel *chunk.SelectVector, count int, allowUpdates bool) error
	// CheckZonemap is false when no row of the column can pass filter.
	CheckZonemap(filter TableFilter) bool
	// CheckZonemapSegment is false when no row of the current segment
	// of state can pass filter.
	CheckZonemapSegment(state *ColumnScanState, filter TableFilter) bool

	InitAppend(state *ColumnAppendState)
	Append(state *ColumnAppendState, vec *chunk.Vector, count IdxType)
	RevertAppend(startRow IdxType)

	Update(txn TxnData, update *chunk.Vector, rowIds []RowType, count IdxType) error
	UpdateColumn(txn TxnData, columnPath []IdxType, update *chunk.Vector, rowIds []RowType, count IdxType, depth int) error
	Fetch(state *ColumnScanState, rowId RowType, result *chunk.Vector) (IdxType, error)
	FetchRow(txn TxnData, state *ColumnScanState, rowId RowType, result *chunk.Vector, resultIdx int) error

	GetStats() BaseStats
	GetUpdateStats() BaseStats
	MergeStats(other *BaseStats)
	MergeIntoStats(other *BaseStats)

	Checkpoint(partial *PartialBlockMgr) (*ColumnCheckpointState, error)
	GetStorageInfo(rowGroupIdx IdxType, colPath []IdxType, info *TableStorageInfo)
	CommitDropColumn()
	// DecodeCount is the number of vectors decoded by scans.
	DecodeCount() uint64
}

var _ ColumnData = &StandardColumnData{}

// StandardColumnData keeps values uncompressed in column segments of
// at most Layout.SegmentSize rows, with an update overlay on top.
type StandardColumnData struct {
	_blockMgr    BlockMgr
	_info        *DataTableInfo
	_columnIndex IdxType
	_start       IdxType
	_count       atomic.Uint64
	_typ         common.LType
	_data        *SegmentTree[*ColumnSegment]
	_updateLock  sync.Mutex
	_updates     *UpdateSegment
	_statsLock   sync.Mutex
	_stats       BaseStats
	_decodeCount atomic.Uint64
}

func NewStandardColumnData(
	blockMgr BlockMgr,
	info *DataTableInfo,
	colIdx IdxType,
	start IdxType,
	typ common.LType,
) *StandardColumnData {
	return &StandardColumnData{
		_blockMgr:    blockMgr,
		_info:        info,
		_columnIndex: colIdx,
		_start:       start,
		_typ:         typ,
		_data:        NewSegmentTree[*ColumnSegment](),
		_stats:       NewEmptyBaseStats(typ),
	}
}

func (column *StandardColumnData) Type() common.LType {
	return column._typ
}

func (column *StandardColumnData) Start() IdxType {
	return column._start
}

func (column *StandardColumnData) Count() IdxType {
	return IdxType(column._count.Load())
}

func (column *StandardColumnData) DecodeCount() uint64 {
	return column._decodeCount.Load()
}

func (column *StandardColumnData) vectorSize() IdxType {
	return column._info.Layout().VectorSize
}

func (column *StandardColumnData) SetStart(newStart IdxType) {
	column._data.Lock()
	defer column._data.Unlock()
	column._start = newStart
	offset := IdxType(0)
	for _, seg := range column._data.Segments() {
		seg.SetStart(newStart + offset)
		offset += seg.Count()
	}
	column._data.Reinitialize()
}

func (column *StandardColumnData) InitScan(state *ColumnScanState) {
	state._current, _ = column._data.GetRootSegment()
	state._rowIdx = column._start
	if state._current != nil {
		state._rowIdx = state._current.Start()
	}
	state._segmentChecked = false
}

func (column *StandardColumnData) InitScanWithOffset(
	state *ColumnScanState,
	rowIdx IdxType) {
	state._current, _ = column._data.GetSegment(rowIdx)
	state._rowIdx = rowIdx
	state._segmentChecked = false
}

func (column *StandardColumnData) Skip(state *ColumnScanState) {
	state.Next(column.vectorSize(), column._data)
}

func (column *StandardColumnData) scanVector(
	state *ColumnScanState,
	result *chunk.Vector,
) (IdxType, error) {
	column._decodeCount.Add(1)
	end := column._start + column.Count()
	if state._current == nil || state._rowIdx >= end {
		return 0, nil
	}
	remaining := min(column.vectorSize(), end-state._rowIdx)
	scanned := IdxType(0)
	for remaining > 0 {
		cur := state._current
		scanCount := min(remaining, cur.Start()+cur.Count()-state._rowIdx)
		if scanCount == 0 {
			break
		}
		err := cur.Scan(state._rowIdx, scanCount, result, scanned)
		if err != nil {
			return 0, err
		}
		scanned += scanCount
		remaining -= scanCount
		state.Next(scanCount, column._data)
	}
	return scanned, nil
}

func (column *StandardColumnData) getUpdates() *UpdateSegment {
	column._updateLock.Lock()
	defer column._updateLock.Unlock()
	return column._updates
}

func (column *StandardColumnData) Scan(
	txn TxnData,
	vectorIdx IdxType,
	state *ColumnScanState,
	result *chunk.Vector) (IdxType, error) {
	cnt, err := column.scanVector(state, result)
	if err != nil {
		return 0, err
	}
	if updates := column.getUpdates(); updates != nil {
		updates.FetchUpdates(txn, vectorIdx, cnt, result)
	}
	return cnt, nil
}

func (column *StandardColumnData) ScanCommitted(
	vectorIdx IdxType,
	state *ColumnScanState,
	result *chunk.Vector,
	allowUpdates bool) (IdxType, error) {
	updates := column.getUpdates()
	if updates != nil && !allowUpdates && updates.HasUncommittedUpdates(vectorIdx) {
		return 0, fmt.Errorf("%w: column %d vector %d",
			ErrUncommittedUpdates, column._columnIndex, vectorIdx)
	}
	cnt, err := column.scanVector(state, result)
	if err != nil {
		return 0, err
	}
	if updates != nil {
		updates.FetchCommitted(vectorIdx, cnt, result)
	}
	return cnt, nil
}

func (column *StandardColumnData) Select(
	txn TxnData,
	vectorIdx IdxType,
	state *ColumnScanState,
	result *chunk.Vector,
	sel *chunk.SelectVector,
	count int,
	filter TableFilter) (int, error) {
	_, err := column.Scan(txn, vectorIdx, state, result)
	if err != nil {
		return 0, err
	}
	return filter.Select(result, sel, count), nil
}

func (column *StandardColumnData) FilterScan(
	txn TxnData,
	vectorIdx IdxType,
	state *ColumnScanState,
	result *chunk.Vector,
	sel *chunk.SelectVector,
	count int) error {
	_, err := column.Scan(txn, vectorIdx, state, result)
	if err != nil {
		return err
	}
	result.Slice(sel, count)
	return nil
}

func (column *StandardColumnData) FilterScanCommitted(
	vectorIdx IdxType,
	state *ColumnScanState,
	result *chunk.Vector,
	sel *chunk.SelectVector,
	count int,
	allowUpdates bool) error {
	_, err := column.ScanCommitted(vectorIdx, state, result, allowUpdates)
	if err != nil {
		return err
	}
	result.Slice(sel, count)
	return nil
}

func (column *StandardColumnData) CheckZonemap(filter TableFilter) bool {
	stats := column.GetStats()
	return filter.CheckStatistics(&stats) != FILTER_ALWAYS_FALSE
}

func (column *StandardColumnData) CheckZonemapSegment(
	state *ColumnScanState,
	filter TableFilter) bool {
	if state._segmentChecked || state._current == nil {
		return true
	}
	state._segmentChecked = true
	stats := state._current.Stats()
	return filter.CheckStatistics(&stats) != FILTER_ALWAYS_FALSE
}

func (column *StandardColumnData) appendTransientSegment(start IdxType) *ColumnSegment {
	seg := NewColumnTransientSegment(column._typ, start, column._info.Layout().SegmentSize)
	column._data.AppendSegment(seg)
	return seg
}

func (column *StandardColumnData) InitAppend(state *ColumnAppendState) {
	column._data.Lock()
	defer column._data.Unlock()
	last, has := column._data.GetLastSegment()
	if !has {
		state._current = column.appendTransientSegment(column._start)
		return
	}
	if last.SegmentType() == SegmentTypePersistent || last.IsFull() {
		state._current = column.appendTransientSegment(last.Start() + last.Count())
		return
	}
	state._current = last
}

func (column *StandardColumnData) Append(
	state *ColumnAppendState,
	vec *chunk.Vector,
	count IdxType) {
	util.AssertFunc(state._current != nil)
	column._statsLock.Lock()
	column._stats.UpdateVector(vec, 0, int(count))
	column._statsLock.Unlock()
	offset := IdxType(0)
	for {
		copied := state._current.Append(vec, offset, count)
		column._count.Add(uint64(copied))
		if copied == count {
			break
		}
		offset += copied
		count -= copied
		cur := state._current
		state._current = column.appendTransientSegment(cur.Start() + cur.Count())
	}
}

func (column *StandardColumnData) RevertAppend(startRow IdxType) {
	column._data.Lock()
	defer column._data.Unlock()
	last, has := column._data.GetLastSegment()
	if !has || startRow >= last.Start()+last.Count() {
		//nothing to revert
		return
	}
	segIdx, has := column._data.GetSegmentIdx(startRow)
	util.AssertFunc(has)
	seg, _ := column._data.GetSegmentByIndex(segIdx)
	column._data.EraseSegments(segIdx + 1)
	seg.RevertAppend(startRow)
	column._count.Store(uint64(startRow - column._start))
}

func (column *StandardColumnData) Update(
	txn TxnData,
	update *chunk.Vector,
	rowIds []RowType,
	count IdxType) error {
	column._updateLock.Lock()
	if column._updates == nil {
		column._updates = NewUpdateSegment(column)
	}
	updates := column._updates
	column._updateLock.Unlock()

	rows := make([]IdxType, count)
	for i := IdxType(0); i < count; i++ {
		util.AssertFunc(IdxType(rowIds[i]) >= column._start &&
			IdxType(rowIds[i]) < column._start+column.Count())
		rows[i] = IdxType(rowIds[i]) - column._start
	}
	info, err := updates.Update(txn, update, rows, count)
	if err != nil {
		return err
	}
	for i := IdxType(0); i < count; i++ {
		if seg, has := column._data.GetSegment(IdxType(rowIds[i])); has {
			seg.UpdateStats(update.GetValue(int(i)))
		}
	}
	if len(info._rows) != 0 && txn._undo != nil {
		txn._undo.PushUpdate(info)
	}
	return nil
}

func (column *StandardColumnData) UpdateColumn(
	txn TxnData,
	columnPath []IdxType,
	update *chunk.Vector,
	rowIds []RowType,
	count IdxType,
	depth int) error {
	if len(columnPath) > depth {
		return fmt.Errorf("nested column path %v on column %d of type %v",
			columnPath, column._columnIndex, column._typ)
	}
	return column.Update(txn, update, rowIds, count)
}

func (column *StandardColumnData) Fetch(
	state *ColumnScanState,
	rowId RowType,
	result *chunk.Vector) (IdxType, error) {
	util.AssertFunc(rowId >= 0 && IdxType(rowId) >= column._start)
	vs := column.vectorSize()
	state._rowIdx = column._start + (IdxType(rowId)-column._start)/vs*vs
	state._current, _ = column._data.GetSegment(state._rowIdx)
	state._segmentChecked = false
	return column.scanVector(state, result)
}

func (column *StandardColumnData) FetchRow(
	txn TxnData,
	state *ColumnScanState,
	rowId RowType,
	result *chunk.Vector,
	resultIdx int) error {
	seg, has := column._data.GetSegment(IdxType(rowId))
	if !has {
		return fmt.Errorf("%w: row %d is not in column %d",
			ErrCorrupted, rowId, column._columnIndex)
	}
	state._current = seg
	state._rowIdx = IdxType(rowId)
	val, err := seg.FetchValue(IdxType(rowId))
	if err != nil {
		return err
	}
	if updates := column.getUpdates(); updates != nil {
		if upd := updates.FetchRow(txn, IdxType(rowId)-column._start); upd != nil {
			val = upd
		}
	}
	result.SetValue(resultIdx, val)
	return nil
}

func (column *StandardColumnData) GetStats() BaseStats {
	column._statsLock.Lock()
	defer column._statsLock.Unlock()
	return column._stats.Copy()
}

func (column *StandardColumnData) GetUpdateStats() BaseStats {
	if updates := column.getUpdates(); updates != nil {
		return updates.GetStats()
	}
	return NewEmptyBaseStats(column._typ)
}

func (column *StandardColumnData) MergeStats(other *BaseStats) {
	column._statsLock.Lock()
	defer column._statsLock.Unlock()
	column._stats.Merge(other)
}

func (column *StandardColumnData) MergeIntoStats(other *BaseStats) {
	column._statsLock.Lock()
	defer column._statsLock.Unlock()
	other.Merge(&column._stats)
}

// committedValues reads the segment with the latest committed updates.
func (column *StandardColumnData) committedValues(seg *ColumnSegment) (*chunk.Vector, error) {
	cnt := seg.Count()
	vec := chunk.NewVector(column._typ, int(cnt))
	if cnt == 0 {
		return vec, nil
	}
	err := seg.Scan(seg.Start(), cnt, vec, 0)
	if err != nil {
		return nil, err
	}
	if updates := column.getUpdates(); updates != nil {
		for i := IdxType(0); i < cnt; i++ {
			if upd := updates.FetchCommittedRow(seg.Start() + i - column._start); upd != nil {
				vec.SetValue(int(i), upd)
			}
		}
	}
	return vec, nil
}

// Checkpoint writes every segment with the committed updates applied
// and turns the segments persistent.
func (column *StandardColumnData) Checkpoint(partial *PartialBlockMgr) (*ColumnCheckpointState, error) {
	column._data.Lock()
	defer column._data.Unlock()
	state := NewColumnCheckpointState(column)
	segs := column._data.Segments()
	var newSegs []*ColumnSegment
	for _, seg := range segs {
		if seg.Count() == 0 {
			continue
		}
		values, err := column.committedValues(seg)
		if err != nil {
			return nil, err
		}
		cnt := seg.Count()
		stats := NewEmptyBaseStats(column._typ)
		stats.UpdateVector(values, 0, int(cnt))
		ptr, err := partial.WriteSegment(func(serial util.Serialize) error {
			return WriteSegment(values, cnt, serial)
		})
		if err != nil {
			return nil, err
		}
		newSeg := NewColumnPersistentSegment(
			column._blockMgr,
			ptr,
			column._typ,
			seg.Start(),
			cnt,
			stats,
		)
		newSeg._data = values
		newSegs = append(newSegs, newSeg)
		state.AddDataPointer(&DataPointer{
			_rowStart:   seg.Start(),
			_tupleCount: cnt,
			_blockPtr:   ptr,
			_stats:      stats,
		})
	}
	column._data.MoveSegments()
	for _, seg := range newSegs {
		column._data.AppendSegment(seg)
	}
	if updates := column.getUpdates(); updates != nil {
		updates.CleanupCommitted()
	}
	util.Debug("checkpoint column",
		zap.Uint64("column", uint64(column._columnIndex)),
		zap.Uint64("start", uint64(column._start)),
		zap.Int("segments", len(newSegs)))
	return state, nil
}

func (column *StandardColumnData) GetStorageInfo(
	rowGroupIdx IdxType,
	colPath []IdxType,
	info *TableStorageInfo) {
	hasUpdates := false
	if updates := column.getUpdates(); updates != nil {
		hasUpdates = updates.HasUpdates()
	}
	for i, seg := range column._data.Segments() {
		stats := seg.Stats()
		info.AddColumnSegment(&ColumnSegmentInfo{
			RowGroupIndex: rowGroupIdx,
			ColumnId:      colPath[0],
			ColumnPath:    fmt.Sprint(colPath),
			SegmentIdx:    IdxType(i),
			SegmentType:   column._typ.String(),
			SegmentStart:  seg.Start(),
			SegmentCount:  seg.Count(),
			SegmentStats:  stats.String(),
			HasUpdates:    hasUpdates,
			Persistent:    seg.SegmentType() == SegmentTypePersistent,
			BlockId:       seg.BlockPointer().BlockId(),
			BlockOffset:   seg.BlockPointer().Offset(),
			SegmentLoaded: seg.Loaded(),
		})
	}
}

// CommitDropColumn releases the values of persistent segments.
// Their blocks are shared with other columns and stay allocated.
func (column *StandardColumnData) CommitDropColumn() {
	for _, seg := range column._data.Segments() {
		seg.Unload()
	}
}

// ColumnDataDeserialize reads the data pointers of a column and builds
// persistent segments that load on first access.
func ColumnDataDeserialize(
	blockMgr BlockMgr,
	info *DataTableInfo,
	colIdx IdxType,
	start IdxType,
	typ common.LType,
	deserial util.Deserialize,
) (ColumnData, error) {
	column := NewStandardColumnData(blockMgr, info, colIdx, start, typ)
	var ptrCnt uint64
	err := util.Read[uint64](&ptrCnt, deserial)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < ptrCnt; i++ {
		dataPtr := &DataPointer{}
		err = dataPtr.Deserialize(deserial, typ)
		if err != nil {
			return nil, err
		}
		if dataPtr._rowStart != start+column.Count() {
			util.Error("data pointers not contiguous",
				zap.Uint64("column", uint64(colIdx)),
				zap.Uint64("rowStart", uint64(dataPtr._rowStart)))
			return nil, fmt.Errorf("%w: data pointer of column %d starts at %d, expected %d",
				ErrCorrupted, colIdx, dataPtr._rowStart, start+column.Count())
		}
		column._stats.Merge(&dataPtr._stats)
		seg := NewColumnPersistentSegment(
			blockMgr,
			dataPtr._blockPtr,
			typ,
			dataPtr._rowStart,
			dataPtr._tupleCount,
			dataPtr._stats,
		)
		column._data.AppendSegment(seg)
		column._count.Add(uint64(dataPtr._tupleCount))
	}
	return column, nil
}
