package storage

import (
	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/util"
)

type RowGroupAppendState struct {
	_rowGroup         *RowGroup
	_states           []*ColumnAppendState
	_offsetInRowGroup IdxType
}

func (state *RowGroupAppendState) RowGroup() *RowGroup {
	return state._rowGroup
}

func (rg *RowGroup) InitAppend(state *RowGroupAppendState) error {
	state._rowGroup = rg
	state._offsetInRowGroup = rg.Count()
	state._states = make([]*ColumnAppendState, rg.ColumnCount())
	for i := range state._states {
		state._states[i] = &ColumnAppendState{}
		col, err := rg.GetColumn(IdxType(i))
		if err != nil {
			return err
		}
		col.InitAppend(state._states[i])
	}
	return nil
}

// Append copies the first count rows of data into the columns. The rows
// are not part of the row group until AppendVersionInfo.
func (rg *RowGroup) Append(state *RowGroupAppendState, data *chunk.Chunk, count IdxType) error {
	util.AssertFunc(state._rowGroup == rg)
	for i := IdxType(0); i < rg.ColumnCount(); i++ {
		col, err := rg.GetColumn(i)
		if err != nil {
			return err
		}
		col.Append(state._states[i], data.Data[i], count)
	}
	state._offsetInRowGroup += count
	return nil
}

// vectorRange gives the part [start, end) of vector vectorIdx covered
// by the rows [rowStart, rowEnd) of the row group.
func vectorRange(
	vectorIdx, startVectorIdx, endVectorIdx IdxType,
	rowStart, rowEnd IdxType,
	vs IdxType) (IdxType, IdxType) {
	start := IdxType(0)
	if vectorIdx == startVectorIdx {
		start = rowStart - startVectorIdx*vs
	}
	end := vs
	if vectorIdx == endVectorIdx {
		end = rowEnd - endVectorIdx*vs
	}
	return start, end
}

// AppendVersionInfo makes count more rows part of the row group,
// inserted by txn. Whole vectors get a constant info.
func (rg *RowGroup) AppendVersionInfo(txn TxnData, count IdxType) {
	layout := rg.layout()
	vs := layout.VectorSize
	rg._rowGroupLock.Lock()
	defer rg._rowGroupLock.Unlock()
	rowGroupStart := rg.Count()
	rowGroupEnd := min(rowGroupStart+count, layout.RowGroupSize())
	if rowGroupEnd == rowGroupStart {
		return
	}
	if rg._versionInfo == nil {
		rg._versionInfo = NewVersionNode(layout.VectorCount)
	}
	startVectorIdx := rowGroupStart / vs
	endVectorIdx := (rowGroupEnd - 1) / vs
	for vectorIdx := startVectorIdx; vectorIdx <= endVectorIdx; vectorIdx++ {
		start, end := vectorRange(vectorIdx, startVectorIdx, endVectorIdx, rowGroupStart, rowGroupEnd, vs)
		if start == 0 && end == vs {
			info := NewConstantInfo(rg._start+vectorIdx*vs, vs)
			info._insertId.Store(uint64(txn._id))
			rg._versionInfo.Set(vectorIdx, info)
			continue
		}
		info := rg._versionInfo.Get(vectorIdx)
		if info == nil {
			info = NewVectorInfo(rg._start+vectorIdx*vs, vs)
			rg._versionInfo.Set(vectorIdx, info)
		}
		util.AssertFunc(info.Type() == VECTOR_INFO)
		info.Append(start, end, txn._id)
	}
	rg._count.Store(uint64(rowGroupEnd))
}

// CommitAppend sets the insert id of the rows [start, start+count),
// relative to the row group, to commitId.
func (rg *RowGroup) CommitAppend(commitId TxnType, start, count IdxType) {
	if count == 0 {
		return
	}
	vs := rg.layout().VectorSize
	rg._rowGroupLock.Lock()
	defer rg._rowGroupLock.Unlock()
	util.AssertFunc(rg._versionInfo != nil)
	end := start + count
	startVectorIdx := start / vs
	endVectorIdx := (end - 1) / vs
	for vectorIdx := startVectorIdx; vectorIdx <= endVectorIdx; vectorIdx++ {
		vStart, vEnd := vectorRange(vectorIdx, startVectorIdx, endVectorIdx, start, end, vs)
		rg._versionInfo.Get(vectorIdx).CommitAppend(commitId, vStart, vEnd)
	}
}

// RevertAppend drops the rows from rowStart on. The caller has
// exclusive access to the row group.
func (rg *RowGroup) RevertAppend(rowStart IdxType) error {
	vs := rg.layout().VectorSize
	startRow := rowStart - rg._start
	rg._rowGroupLock.Lock()
	if rg._versionInfo != nil {
		startVectorIdx := (startRow + vs - 1) / vs
		for vectorIdx := startVectorIdx; vectorIdx < rg._versionInfo.Len(); vectorIdx++ {
			rg._versionInfo.Set(vectorIdx, nil)
		}
	}
	rg._rowGroupLock.Unlock()
	cols, err := rg.GetColumns()
	if err != nil {
		return err
	}
	for _, col := range cols {
		col.RevertAppend(rowStart)
	}
	rg._count.Store(uint64(min(startRow, rg.Count())))
	util.Info("revert append",
		zap.Uint64("rowGroup", uint64(rg._start)),
		zap.Uint64("from", uint64(rowStart)))
	rg.Verify()
	return nil
}

// versionDeleteState gathers the deletes of one vector before they
// are applied.
type versionDeleteState struct {
	_rowGroup     *RowGroup
	_txn          TxnData
	_currentInfo  *ChunkInfo
	_currentChunk IdxType
	_rows         []RowType
	_count        IdxType
	_baseRow      IdxType
	_chunkRow     IdxType
	_deleteCount  IdxType
}

func newVersionDeleteState(rg *RowGroup, txn TxnData, baseRow IdxType) *versionDeleteState {
	return &versionDeleteState{
		_rowGroup:     rg,
		_txn:          txn,
		_currentChunk: IdxType(COLUMN_IDENTIFIER_ROW_ID),
		_rows:         make([]RowType, rg.layout().VectorSize),
		_baseRow:      baseRow,
	}
}

// Delete adds a row relative to the row group. A constant info of the
// vector is replaced by an equivalent per row info.
func (state *versionDeleteState) Delete(row IdxType) error {
	rg := state._rowGroup
	vs := rg.layout().VectorSize
	vectorIdx := row / vs
	idxInVector := row - vectorIdx*vs
	if state._currentChunk != vectorIdx {
		err := state.Flush()
		if err != nil {
			return err
		}
		if rg._versionInfo == nil {
			rg._versionInfo = NewVersionNode(rg.layout().VectorCount)
		}
		info := rg._versionInfo.Get(vectorIdx)
		if info == nil {
			info = NewVectorInfo(rg._start+vectorIdx*vs, vs)
			rg._versionInfo.Set(vectorIdx, info)
		} else if info.Type() == CONSTANT_INFO {
			info = info.ToVectorInfo()
			rg._versionInfo.Set(vectorIdx, info)
		}
		state._currentInfo = info
		state._currentChunk = vectorIdx
		state._chunkRow = vectorIdx * vs
	}
	state._rows[state._count] = RowType(idxInVector)
	state._count++
	return nil
}

func (state *versionDeleteState) Flush() error {
	if state._count == 0 {
		return nil
	}
	actual, err := state._currentInfo.Delete(state._txn._id, state._rows, state._count)
	state._count = 0
	if err != nil {
		return err
	}
	state._deleteCount += actual
	if actual > 0 && state._txn._undo != nil {
		state._txn._undo.PushDelete(
			state._rowGroup,
			state._currentInfo,
			state._rows,
			actual,
			state._baseRow+state._chunkRow,
		)
	}
	return nil
}

// Delete marks rows as deleted by txn and returns how many rows were
// newly deleted. Rows the same transaction deleted before count zero.
func (rg *RowGroup) Delete(txn TxnData, ids []RowType, count IdxType) (IdxType, error) {
	rg._rowGroupLock.Lock()
	defer rg._rowGroupLock.Unlock()
	state := newVersionDeleteState(rg, txn, rg._start)
	for i := IdxType(0); i < count; i++ {
		util.AssertFunc(ids[i] >= 0)
		util.AssertFunc(IdxType(ids[i]) >= rg._start && IdxType(ids[i]) < rg._start+rg.Count())
		err := state.Delete(IdxType(ids[i]) - rg._start)
		if err != nil {
			return state._deleteCount, err
		}
	}
	err := state.Flush()
	return state._deleteCount, err
}

// Update writes count rows of the update columns, starting at offset,
// into the columns colIds.
func (rg *RowGroup) Update(
	txn TxnData,
	updates *chunk.Chunk,
	ids []RowType,
	offset IdxType,
	count IdxType,
	colIds []IdxType) error {
	for i := offset; i < offset+count; i++ {
		util.AssertFunc(IdxType(ids[i]) >= rg._start && IdxType(ids[i]) < rg._start+rg.Count())
	}
	for i, colIdx := range colIds {
		util.AssertFunc(colIdx != COLUMN_IDENTIFIER_ROW_ID)
		col, err := rg.GetColumn(colIdx)
		if err != nil {
			return err
		}
		util.AssertFunc(col.Type().Id == updates.Data[i].Typ().Id)
		vec := updates.Data[i]
		if offset > 0 {
			vec = chunk.NewVector(vec.Typ(), int(count))
			vec.CopyFrom(updates.Data[i], int(offset), 0, int(count))
		}
		err = col.Update(txn, vec, ids[offset:offset+count], count)
		if err != nil {
			return err
		}
		stats := col.GetUpdateStats()
		err = rg.MergeStats(colIdx, &stats)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateColumn updates the column at columnPath with the single column
// of updates.
func (rg *RowGroup) UpdateColumn(
	txn TxnData,
	updates *chunk.Chunk,
	rowIds []RowType,
	columnPath []IdxType) error {
	util.AssertFunc(updates.ColumnCount() == 1)
	primary := columnPath[0]
	util.AssertFunc(primary != COLUMN_IDENTIFIER_ROW_ID && primary < rg.ColumnCount())
	col, err := rg.GetColumn(primary)
	if err != nil {
		return err
	}
	err = col.UpdateColumn(txn, columnPath, updates.Data[0], rowIds, IdxType(updates.Card()), 1)
	if err != nil {
		return err
	}
	stats := col.GetUpdateStats()
	return rg.MergeStats(primary, &stats)
}
