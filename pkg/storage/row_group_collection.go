package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/util"
)

// RowGroupCollection is the row groups of one table in row order.
type RowGroupCollection struct {
	_blockMgr  BlockMgr
	_info      *DataTableInfo
	_types     []common.LType
	_txnMgr    TxnManager
	_rowStart  IdxType
	_totalRows atomic.Uint64
	_rowGroups *SegmentTree[*RowGroup]
	_stats     *TableStats
	//held from InitAppend to FinalizeAppend
	_appendLock sync.Mutex
	_blocksLock sync.Mutex
	//blocks of the last checkpoint
	_persistentBlocks []BlockID
}

func NewRowGroupCollection(
	blockMgr BlockMgr,
	info *DataTableInfo,
	txnMgr TxnManager,
	rowStart IdxType,
	totalRows IdxType,
) *RowGroupCollection {
	ret := &RowGroupCollection{
		_blockMgr:  blockMgr,
		_info:      info,
		_types:     info.Types(),
		_txnMgr:    txnMgr,
		_rowStart:  rowStart,
		_rowGroups: NewSegmentTree[*RowGroup](),
	}
	ret._stats = NewTableStats(ret._types)
	ret._totalRows.Store(uint64(totalRows))
	return ret
}

func (c *RowGroupCollection) Types() []common.LType {
	return c._types
}

func (c *RowGroupCollection) BlockMgr() BlockMgr {
	return c._blockMgr
}

func (c *RowGroupCollection) Info() *DataTableInfo {
	return c._info
}

func (c *RowGroupCollection) Layout() Layout {
	return c._info.Layout()
}

func (c *RowGroupCollection) TxnManager() TxnManager {
	return c._txnMgr
}

func (c *RowGroupCollection) TotalRows() IdxType {
	return IdxType(c._totalRows.Load())
}

func (c *RowGroupCollection) RowGroupCount() IdxType {
	return c._rowGroups.SegmentCount()
}

func (c *RowGroupCollection) RowGroups() []*RowGroup {
	return c._rowGroups.Segments()
}

func (c *RowGroupCollection) IsEmpty() bool {
	return c._rowGroups.IsEmpty()
}

// GetStats copies the table statistics of column colIdx.
func (c *RowGroupCollection) GetStats(colIdx IdxType) *BaseStats {
	return c._stats.CopyStats(int(colIdx))
}

func (c *RowGroupCollection) DistinctCount(colIdx IdxType) uint64 {
	return c._stats.DistinctCount(int(colIdx))
}

func (c *RowGroupCollection) appendRowGroup(start IdxType) *RowGroup {
	rg := NewRowGroup(c, start, 0)
	rg.InitEmpty(c._types)
	c._rowGroups.AppendSegment(rg)
	return rg
}

// TableAppendState tracks one append from InitAppend to FinalizeAppend.
type TableAppendState struct {
	_rowGroupAppendState RowGroupAppendState
	_rowStart            RowType
	_currentRow          RowType
	_totalAppendCount    IdxType
	_startRowGroup       *RowGroup
}

func (state *TableAppendState) RowStart() RowType {
	return state._rowStart
}

func (state *TableAppendState) CurrentRow() RowType {
	return state._currentRow
}

// InitAppend starts an append. Appends of a collection are serialized
// until FinalizeAppend.
func (c *RowGroupCollection) InitAppend(state *TableAppendState) error {
	c._appendLock.Lock()
	state._rowStart = RowType(c._rowStart + c.TotalRows())
	state._currentRow = state._rowStart
	state._totalAppendCount = 0
	last, has := c._rowGroups.GetLastSegment()
	if !has {
		last = c.appendRowGroup(c._rowStart)
	}
	state._startRowGroup = last
	err := last.InitAppend(&state._rowGroupAppendState)
	if err != nil {
		c._appendLock.Unlock()
		return err
	}
	return nil
}

// sliceChunk copies count rows of data from offset into a new chunk.
func sliceChunk(data *chunk.Chunk, offset, count int) *chunk.Chunk {
	ret := chunk.NewChunk(data.Types(), max(count, data.Cap()))
	for i := range data.Data {
		ret.Data[i].CopyFrom(data.Data[i], offset, 0, count)
	}
	ret.SetCard(count)
	return ret
}

// Append writes data into the columns. Full row groups are followed by
// new ones. The rows stay invisible until FinalizeAppend.
func (c *RowGroupCollection) Append(data *chunk.Chunk, state *TableAppendState) error {
	util.AssertFunc(data.ColumnCount() == len(c._types))
	rgSize := c.Layout().RowGroupSize()
	total := IdxType(data.Card())
	remaining := total
	for i := range c._types {
		c._stats.UpdateDistinctStats(i, data.Data[i], data.Card())
	}
	for {
		current := state._rowGroupAppendState._rowGroup
		toAppend := min(remaining, rgSize-state._rowGroupAppendState._offsetInRowGroup)
		if toAppend > 0 {
			err := current.Append(&state._rowGroupAppendState, data, toAppend)
			if err != nil {
				return err
			}
			for i := range c._types {
				stats := NewEmptyBaseStats(c._types[i])
				err = current.MergeIntoStats(IdxType(i), &stats)
				if err != nil {
					return err
				}
				c._stats.MergeStats(i, &stats)
			}
		}
		remaining -= toAppend
		if remaining == 0 {
			break
		}
		data = sliceChunk(data, int(toAppend), int(remaining))
		nextStart := current.Start() + state._rowGroupAppendState._offsetInRowGroup
		next := c.appendRowGroup(nextStart)
		err := next.InitAppend(&state._rowGroupAppendState)
		if err != nil {
			return err
		}
	}
	state._currentRow += RowType(total)
	state._totalAppendCount += total
	return nil
}

// FinalizeAppend makes the appended rows part of the row groups,
// inserted by txn, and ends the append.
func (c *RowGroupCollection) FinalizeAppend(txn TxnData, state *TableAppendState) {
	defer c._appendLock.Unlock()
	remaining := state._totalAppendCount
	rg := state._startRowGroup
	rgSize := c.Layout().RowGroupSize()
	for remaining > 0 {
		appendCount := min(remaining, rgSize-rg.Count())
		rg.AppendVersionInfo(txn, appendCount)
		remaining -= appendCount
		if remaining == 0 {
			break
		}
		var has bool
		rg, has = c._rowGroups.GetNextSegment(rg)
		util.AssertFunc(has)
	}
	c._totalRows.Add(uint64(state._totalAppendCount))
	if state._totalAppendCount > 0 && txn._undo != nil {
		txn._undo.PushAppend(c, IdxType(state._rowStart), state._totalAppendCount)
	}
	c.Verify()
	state._totalAppendCount = 0
	state._startRowGroup = nil
}

// AppendData appends data in one step.
func (c *RowGroupCollection) AppendData(txn TxnData, data *chunk.Chunk) error {
	state := &TableAppendState{}
	err := c.InitAppend(state)
	if err != nil {
		return err
	}
	err = c.Append(data, state)
	if err != nil {
		c.abortAppend(state)
		return err
	}
	c.FinalizeAppend(txn, state)
	return nil
}

// abortAppend drops the rows appended since InitAppend and ends the
// append.
func (c *RowGroupCollection) abortAppend(state *TableAppendState) {
	defer c._appendLock.Unlock()
	for i, rg := range c._rowGroups.Segments() {
		if rg != state._startRowGroup {
			continue
		}
		c._rowGroups.EraseSegments(IdxType(i) + 1)
		err := rg.RevertAppend(IdxType(state._rowStart))
		if err != nil {
			util.Error("abort append",
				zap.Int64("rowStart", int64(state._rowStart)),
				zap.Error(err))
		}
		break
	}
	state._totalAppendCount = 0
	state._startRowGroup = nil
}

// CommitAppend sets the insert id of the rows [start, start+count) to
// commitId.
func (c *RowGroupCollection) CommitAppend(commitId TxnType, start, count IdxType) {
	rg, has := c._rowGroups.GetSegment(start)
	for has && count > 0 {
		startInRowGroup := start - rg.Start()
		appendCount := min(count, rg.Count()-startInRowGroup)
		rg.CommitAppend(commitId, startInRowGroup, appendCount)
		start += appendCount
		count -= appendCount
		rg, has = c._rowGroups.GetNextSegment(rg)
	}
}

// RevertAppendInternal drops the rows [start, start+count). Only the
// tail of the collection can be dropped. Otherwise the rows stay and
// remain invisible to every transaction.
func (c *RowGroupCollection) RevertAppendInternal(start, count IdxType) {
	c._appendLock.Lock()
	defer c._appendLock.Unlock()
	end := c._rowStart + c.TotalRows()
	if start+count != end {
		util.Warn("revert of interleaved append, rows left invisible",
			zap.Uint64("start", uint64(start)),
			zap.Uint64("count", uint64(count)),
			zap.Uint64("end", uint64(end)))
		return
	}
	c._totalRows.Store(uint64(start - c._rowStart))
	segIdx, has := c._rowGroups.GetSegmentIdx(start)
	if !has {
		return
	}
	rg, _ := c._rowGroups.GetSegmentByIndex(segIdx)
	c._rowGroups.EraseSegments(segIdx + 1)
	err := rg.RevertAppend(start)
	if err != nil {
		util.Error("revert append",
			zap.Uint64("start", uint64(start)),
			zap.Error(err))
	}
}

func (state *CollectionScanState) bindFilters(types []common.LType) error {
	if !state.hasFilters() {
		return nil
	}
	for _, idx := range state._filters.Columns() {
		colIdx := state._columnIds[idx]
		typ := common.BigintType()
		if colIdx != COLUMN_IDENTIFIER_ROW_ID {
			typ = types[colIdx]
		}
		err := state._filters.Get(idx).Bind(typ)
		if err != nil {
			return fmt.Errorf("bind filter %s on column %d: %w", state._filters.Get(idx), colIdx, err)
		}
	}
	return nil
}

// InitScan positions state at the first row group the filters do not
// exclude. Rows appended later are not scanned.
func (c *RowGroupCollection) InitScan(state *CollectionScanState) error {
	err := state.bindFilters(c._types)
	if err != nil {
		return err
	}
	state._maxRow = c._rowStart + c.TotalRows()
	state._rowGroup = nil
	rg, has := c._rowGroups.GetRootSegment()
	return c.initScanFrom(state, rg, has)
}

func (c *RowGroupCollection) initScanFrom(state *CollectionScanState, rg *RowGroup, has bool) error {
	for has {
		ok, err := rg.InitScan(state)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		rg, has = c._rowGroups.GetNextSegment(rg)
	}
	state._rowGroup = nil
	return nil
}

// InitScanWithOffset starts the scan at row, rounded down to its vector.
func (c *RowGroupCollection) InitScanWithOffset(state *CollectionScanState, row IdxType) error {
	err := state.bindFilters(c._types)
	if err != nil {
		return err
	}
	state._maxRow = c._rowStart + c.TotalRows()
	state._rowGroup = nil
	rg, has := c._rowGroups.GetSegment(row)
	if !has {
		return nil
	}
	ok, err := rg.InitScanWithOffset(state, (row-rg.Start())/c.Layout().VectorSize)
	if err != nil || ok {
		return err
	}
	rg, has = c._rowGroups.GetNextSegment(rg)
	return c.initScanFrom(state, rg, has)
}

// Scan fills result with the next rows visible to txn. An empty result
// ends the scan.
func (c *RowGroupCollection) Scan(txn TxnData, state *CollectionScanState, result *chunk.Chunk) error {
	return c.scan(state, result, func(rg *RowGroup) error {
		return rg.Scan(txn, state, result)
	})
}

// ScanCommitted is Scan with the oldest active snapshot.
func (c *RowGroupCollection) ScanCommitted(state *CollectionScanState, result *chunk.Chunk, scanType TableScanType) error {
	return c.scan(state, result, func(rg *RowGroup) error {
		return rg.ScanCommitted(state, result, scanType)
	})
}

func (c *RowGroupCollection) scan(state *CollectionScanState, result *chunk.Chunk, scanRowGroup func(rg *RowGroup) error) error {
	result.SetCard(0)
	for state._rowGroup != nil {
		err := scanRowGroup(state._rowGroup)
		if err != nil {
			return err
		}
		if result.Card() > 0 {
			return nil
		}
		rg, has := c._rowGroups.GetNextSegment(state._rowGroup)
		err = c.initScanFrom(state, rg, has)
		if err != nil {
			return err
		}
	}
	return nil
}

// Fetch writes the rows of rowIds visible to txn into result.
func (c *RowGroupCollection) Fetch(
	txn TxnData,
	result *chunk.Chunk,
	columnIds []IdxType,
	rowIds []RowType,
	count IdxType,
	state *ColumnScanState) error {
	cnt := 0
	for i := IdxType(0); i < count; i++ {
		rowId := rowIds[i]
		rg, has := c._rowGroups.GetSegment(IdxType(rowId))
		if !has {
			return fmt.Errorf("row %d is not in table %s", rowId, c._info)
		}
		if !rg.Fetch(txn, IdxType(rowId)-rg.Start()) {
			continue
		}
		err := rg.FetchRow(txn, state, columnIds, rowId, result, cnt)
		if err != nil {
			return err
		}
		cnt++
	}
	result.SetCard(cnt)
	return nil
}

// Delete marks the rows ids as deleted by txn. The ids of a row group
// must be adjacent. It returns the number of newly deleted rows.
func (c *RowGroupCollection) Delete(txn TxnData, ids []RowType, count IdxType) (IdxType, error) {
	delCount := IdxType(0)
	pos := IdxType(0)
	for pos < count {
		start := pos
		rg, has := c._rowGroups.GetSegment(IdxType(ids[start]))
		if !has {
			return delCount, fmt.Errorf("row %d is not in table %s", ids[start], c._info)
		}
		for pos++; pos < count; pos++ {
			id := IdxType(ids[pos])
			if id < rg.Start() || id >= rg.Start()+rg.Count() {
				break
			}
		}
		cnt, err := rg.Delete(txn, ids[start:], pos-start)
		delCount += cnt
		if err != nil {
			util.Warn("delete conflict",
				zap.String("txn", txn.String()),
				zap.Int64("row", int64(ids[start])),
				zap.Error(err))
			return delCount, err
		}
	}
	return delCount, nil
}

// Update writes the columns of updates into columnIds of the rows ids.
// Rows are grouped by vector.
func (c *RowGroupCollection) Update(
	txn TxnData,
	ids []RowType,
	columnIds []IdxType,
	updates *chunk.Chunk) error {
	vs := c.Layout().VectorSize
	count := IdxType(updates.Card())
	pos := IdxType(0)
	for pos < count {
		start := pos
		rg, has := c._rowGroups.GetSegment(IdxType(ids[pos]))
		if !has {
			return fmt.Errorf("row %d is not in table %s", ids[pos], c._info)
		}
		baseId := rg.Start() + (IdxType(ids[pos])-rg.Start())/vs*vs
		maxId := min(baseId+vs, rg.Start()+rg.Count())
		for pos++; pos < count; pos++ {
			id := IdxType(ids[pos])
			if id < baseId || id >= maxId {
				break
			}
		}
		err := rg.Update(txn, updates, ids, start, pos-start, columnIds)
		if err != nil {
			return err
		}
		for _, colIdx := range columnIds {
			stats, err := rg.GetStats(colIdx)
			if err != nil {
				return err
			}
			c._stats.MergeStats(int(colIdx), &stats)
		}
	}
	return nil
}

// UpdateColumn updates the column at columnPath. All rows must be in
// one row group.
func (c *RowGroupCollection) UpdateColumn(
	txn TxnData,
	rowIds []RowType,
	columnPath []IdxType,
	updates *chunk.Chunk) error {
	util.AssertFunc(updates.Card() > 0)
	rg, has := c._rowGroups.GetSegment(IdxType(rowIds[0]))
	if !has {
		return fmt.Errorf("row %d is not in table %s", rowIds[0], c._info)
	}
	err := rg.UpdateColumn(txn, updates, rowIds, columnPath)
	if err != nil {
		return err
	}
	stats, err := rg.GetStats(columnPath[0])
	if err != nil {
		return err
	}
	c._stats.MergeStats(int(columnPath[0]), &stats)
	return nil
}

// newDerived gives an empty collection over the same rows with info.
func (c *RowGroupCollection) newDerived(info *DataTableInfo) *RowGroupCollection {
	ret := NewRowGroupCollection(c._blockMgr, info, c._txnMgr, c._rowStart, c.TotalRows())
	c._blocksLock.Lock()
	ret._persistentBlocks = c._persistentBlocks
	c._blocksLock.Unlock()
	return ret
}

// AddColumn gives a collection with def appended. executor computes
// the values, a nil executor fills NULL.
func (c *RowGroupCollection) AddColumn(def *ColumnDefinition, executor *ExprExec) (*RowGroupCollection, error) {
	newIdx := IdxType(len(c._types))
	defs := append(util.CopyTo(c._info.ColumnDefinitions()), def)
	result := c.newDerived(c._info.WithColumns(defs))
	result._stats = c._stats.CopyWithAddedColumn(def.Type)
	for _, rg := range c._rowGroups.Segments() {
		newRg, err := rg.AddColumn(result, def, executor)
		if err != nil {
			return nil, err
		}
		result._rowGroups.AppendSegment(newRg)
		stats, err := newRg.GetStats(newIdx)
		if err != nil {
			return nil, err
		}
		result._stats.MergeStats(int(newIdx), &stats)
	}
	util.Info("add column",
		zap.String("table", c._info.String()),
		zap.String("column", def.Name))
	return result, nil
}

// RemoveColumn gives a collection without column colIdx.
func (c *RowGroupCollection) RemoveColumn(colIdx IdxType) (*RowGroupCollection, error) {
	util.AssertFunc(colIdx < IdxType(len(c._types)))
	defs := util.Erase(util.CopyTo(c._info.ColumnDefinitions()), int(colIdx))
	result := c.newDerived(c._info.WithColumns(defs))
	result._stats = c._stats.CopyWithRemovedColumn(int(colIdx))
	for _, rg := range c._rowGroups.Segments() {
		newRg, err := rg.RemoveColumn(result, colIdx)
		if err != nil {
			return nil, err
		}
		result._rowGroups.AppendSegment(newRg)
	}
	util.Info("remove column",
		zap.String("table", c._info.String()),
		zap.Uint64("column", uint64(colIdx)))
	return result, nil
}

// AlterType gives a collection with column changedIdx converted to
// targetType by executor, which reads the old columns.
func (c *RowGroupCollection) AlterType(
	changedIdx IdxType,
	targetType common.LType,
	executor *ExprExec) (*RowGroupCollection, error) {
	util.AssertFunc(changedIdx < IdxType(len(c._types)))
	defs := util.CopyTo(c._info.ColumnDefinitions())
	defs[changedIdx] = &ColumnDefinition{
		Name: defs[changedIdx].Name,
		Type: targetType,
	}
	result := c.newDerived(c._info.WithColumns(defs))
	result._stats = c._stats.CopyWithAlteredColumn(int(changedIdx), targetType)

	columnIds := make([]IdxType, len(c._types))
	for i := range columnIds {
		columnIds[i] = IdxType(i)
	}
	scanState := NewCollectionScanState(columnIds, nil)
	scanChunk := chunk.NewChunk(c._types, int(c.Layout().VectorSize))
	for _, rg := range c._rowGroups.Segments() {
		newRg, err := rg.AlterType(result, targetType, changedIdx, executor, scanState, scanChunk)
		if err != nil {
			return nil, err
		}
		result._rowGroups.AppendSegment(newRg)
		stats, err := newRg.GetStats(changedIdx)
		if err != nil {
			return nil, err
		}
		result._stats.MergeStats(int(changedIdx), &stats)
	}
	util.Info("alter column type",
		zap.String("table", c._info.String()),
		zap.Uint64("column", uint64(changedIdx)),
		zap.String("type", targetType.String()))
	return result, nil
}

// MergeStorage moves the row groups of other behind the rows of c.
// other is empty afterwards.
func (c *RowGroupCollection) MergeStorage(other *RowGroupCollection) error {
	c._appendLock.Lock()
	defer c._appendLock.Unlock()
	if last, has := c._rowGroups.GetLastSegment(); has && last.Count() == 0 {
		c._rowGroups.EraseSegments(c._rowGroups.SegmentCount() - 1)
	}
	index := c._rowStart + c.TotalRows()
	for _, rg := range other._rowGroups.MoveSegments() {
		if rg.Count() == 0 {
			continue
		}
		err := rg.MoveToCollection(c, index)
		if err != nil {
			return err
		}
		index += rg.Count()
		c._rowGroups.AppendSegment(rg)
	}
	c._stats.Merge(other._stats)
	c._totalRows.Add(other._totalRows.Swap(0))
	return nil
}

// Checkpoint writes every row group and the table metadata, then makes
// them the root of the block manager. The blocks of the previous
// checkpoint are freed. Writers must be stopped.
func (c *RowGroupCollection) Checkpoint() error {
	c._appendLock.Lock()
	defer c._appendLock.Unlock()

	tableWriter := NewMetaBlockWriter(c._blockMgr, INVALID_BLOCK)
	partial := NewPartialBlockMgr(c._blockMgr)
	rgWriter := NewRowGroupWriter(tableWriter, partial)
	globalStats := c._stats.Copy()
	var ptrs []*RowGroupPointer
	var maxCommit, maxTxn TxnType
	totalRows := uint64(0)
	for _, rg := range c._rowGroups.Segments() {
		if rg.Count() == 0 {
			continue
		}
		ptr, err := rg.Checkpoint(rgWriter, globalStats)
		if err != nil {
			return err
		}
		ptrs = append(ptrs, ptr)
		totalRows = max(totalRows, ptr._rowStart+ptr._tupleCount)
		commit, txn := ptr._versions.MaxIds()
		maxCommit = max(maxCommit, commit)
		maxTxn = max(maxTxn, txn)
	}

	tablePtr := tableWriter.GetBlockPointer()
	err := globalStats.Serialize(tableWriter)
	if err != nil {
		return err
	}
	err = util.Write[uint64](uint64(len(ptrs)), tableWriter)
	if err != nil {
		return err
	}
	for _, ptr := range ptrs {
		err = RowGroupSerialize(ptr, tableWriter)
		if err != nil {
			return err
		}
	}
	err = partial.Flush()
	if err != nil {
		return err
	}
	err = tableWriter.Flush()
	if err != nil {
		return err
	}

	blocks := append(util.CopyTo(partial.WrittenBlocks()), tableWriter.WrittenBlocks()...)
	metaWriter := NewMetaBlockWriter(c._blockMgr, INVALID_BLOCK)
	metaBlock := metaWriter.GetBlockPointer().BlockId()
	err = c.writeTableInfo(metaWriter, tablePtr, totalRows, uint64(len(ptrs)), [2]TxnType{maxCommit, maxTxn}, blocks)
	if err != nil {
		return err
	}
	err = metaWriter.Flush()
	if err != nil {
		return err
	}
	err = c._blockMgr.WriteHeader(metaBlock)
	if err != nil {
		return err
	}
	blocks = append(blocks, metaWriter.WrittenBlocks()...)
	c._stats = globalStats

	c._blocksLock.Lock()
	old := c._persistentBlocks
	c._persistentBlocks = blocks
	c._blocksLock.Unlock()
	for _, id := range old {
		c._blockMgr.MarkBlockAsFree(id)
	}
	if len(old) > 0 {
		//persist the free list
		err = c._blockMgr.WriteHeader(metaBlock)
		if err != nil {
			return err
		}
	}
	util.Debug("checkpoint table",
		zap.String("table", c._info.String()),
		zap.Int("rowGroups", len(ptrs)),
		zap.Uint64("rows", totalRows),
		zap.Int("blocks", len(blocks)),
		zap.Int("freed", len(old)))
	return nil
}

func (c *RowGroupCollection) writeTableInfo(
	serial util.Serialize,
	tablePtr BlockPointer,
	totalRows uint64,
	rowGroupCount uint64,
	maxIds [2]TxnType,
	blocks []BlockID) error {
	writer := NewFieldWriter(serial)
	err := WriteString(c._info.Schema(), writer)
	if err != nil {
		return err
	}
	err = WriteString(c._info.Table(), writer)
	if err != nil {
		return err
	}
	layout := c.Layout()
	for _, v := range []IdxType{layout.VectorSize, layout.VectorCount, layout.SegmentSize} {
		err = WriteField[uint64](uint64(v), writer)
		if err != nil {
			return err
		}
	}
	err = WriteField[BlockID](tablePtr._blockId, writer)
	if err != nil {
		return err
	}
	err = WriteField[uint64](tablePtr._offset, writer)
	if err != nil {
		return err
	}
	err = WriteField[uint64](totalRows, writer)
	if err != nil {
		return err
	}
	err = WriteField[uint64](rowGroupCount, writer)
	if err != nil {
		return err
	}
	for _, id := range maxIds {
		err = WriteField[TxnType](id, writer)
		if err != nil {
			return err
		}
	}
	bufSerial := writer.GetSerializer()
	defs := c._info.ColumnDefinitions()
	err = util.Write[uint64](uint64(len(defs)), bufSerial)
	if err != nil {
		return err
	}
	for _, def := range defs {
		err = util.WriteString(def.Name, bufSerial)
		if err != nil {
			return err
		}
		err = def.Type.Serialize(bufSerial)
		if err != nil {
			return err
		}
	}
	err = util.WriteSlice[BlockID](blocks, bufSerial)
	if err != nil {
		return err
	}
	return writer.Finalize()
}

// LoadRowGroupCollection reads the table of the last checkpoint of
// blockMgr. Columns are read on first access. txnMgr is advanced past
// the ids stored in the version markers.
func LoadRowGroupCollection(blockMgr BlockMgr, txnMgr TxnManager) (*RowGroupCollection, error) {
	metaBlock := blockMgr.GetMetaBlock()
	if metaBlock == INVALID_BLOCK {
		return nil, fmt.Errorf("no checkpoint in block manager")
	}
	metaReader, err := NewMetaBlockReader(blockMgr, NewBlockPointer(metaBlock, BLOCK_HEADER_SIZE))
	if err != nil {
		return nil, err
	}
	reader, err := NewFieldReader(metaReader)
	if err != nil {
		return nil, err
	}
	schema, err := ReadString(reader)
	if err != nil {
		return nil, err
	}
	table, err := ReadString(reader)
	if err != nil {
		return nil, err
	}
	var vals [3]uint64
	for i := range vals {
		err = ReadRequired[uint64](&vals[i], reader)
		if err != nil {
			return nil, err
		}
	}
	layout := Layout{
		VectorSize:  IdxType(vals[0]),
		VectorCount: IdxType(vals[1]),
		SegmentSize: IdxType(vals[2]),
	}
	if layout.VectorSize == 0 || layout.VectorCount == 0 || layout.SegmentSize == 0 {
		util.Error("invalid table layout", zap.String("layout", layout.String()))
		return nil, fmt.Errorf("%w: invalid layout %v", ErrCorrupted, layout)
	}
	tablePtr := BlockPointer{}
	err = ReadRequired[BlockID](&tablePtr._blockId, reader)
	if err != nil {
		return nil, err
	}
	err = ReadRequired[uint64](&tablePtr._offset, reader)
	if err != nil {
		return nil, err
	}
	var totalRows, rowGroupCount uint64
	err = ReadRequired[uint64](&totalRows, reader)
	if err != nil {
		return nil, err
	}
	err = ReadRequired[uint64](&rowGroupCount, reader)
	if err != nil {
		return nil, err
	}
	var maxIds [2]TxnType
	for i := range maxIds {
		err = ReadRequired[TxnType](&maxIds[i], reader)
		if err != nil {
			return nil, err
		}
	}
	var colCount uint64
	err = util.Read[uint64](&colCount, metaReader)
	if err != nil {
		return nil, err
	}
	defs := make([]*ColumnDefinition, colCount)
	for i := range defs {
		def := &ColumnDefinition{}
		def.Name, err = util.ReadString(metaReader)
		if err != nil {
			return nil, err
		}
		def.Type, err = common.DeserializeLType(metaReader)
		if err != nil {
			return nil, err
		}
		defs[i] = def
	}
	blocks, err := util.ReadSlice[BlockID](metaReader)
	if err != nil {
		return nil, err
	}
	reader.Finalize()

	txnMgr.Advance(maxIds[0], maxIds[1])
	info := NewDataTableInfo(schema, table, layout, defs)
	ret := NewRowGroupCollection(blockMgr, info, txnMgr, 0, IdxType(totalRows))
	ret._persistentBlocks = append(blocks, metaReader.ReadBlocks()...)

	tableReader, err := NewMetaBlockReader(blockMgr, tablePtr)
	if err != nil {
		return nil, err
	}
	err = ret._stats.Deserialize(tableReader, ret._types)
	if err != nil {
		return nil, err
	}
	var cnt uint64
	err = util.Read[uint64](&cnt, tableReader)
	if err != nil {
		return nil, err
	}
	if cnt != rowGroupCount {
		util.Error("row group count mismatch",
			zap.Uint64("meta", rowGroupCount),
			zap.Uint64("table", cnt))
		return nil, fmt.Errorf("%w: %d row groups, expected %d", ErrCorrupted, cnt, rowGroupCount)
	}
	next := uint64(0)
	for i := uint64(0); i < cnt; i++ {
		ptr, err := RowGroupDeserialize(tableReader, ret._types, layout)
		if err != nil {
			return nil, err
		}
		if ptr._rowStart != next {
			util.Error("row groups not contiguous",
				zap.Uint64("rowStart", ptr._rowStart),
				zap.Uint64("expected", next))
			return nil, fmt.Errorf("%w: row group starts at %d, expected %d",
				ErrCorrupted, ptr._rowStart, next)
		}
		next = ptr._rowStart + ptr._tupleCount
		rg, err := NewRowGroupFromPointer(ret, ptr)
		if err != nil {
			return nil, err
		}
		ret._rowGroups.AppendSegment(rg)
	}
	if next != totalRows {
		return nil, fmt.Errorf("%w: row groups hold %d rows, expected %d", ErrCorrupted, next, totalRows)
	}
	util.Info("load table",
		zap.String("table", info.String()),
		zap.Uint64("rows", totalRows),
		zap.Uint64("rowGroups", cnt))
	return ret, nil
}

// CommitDrop releases the row groups and the blocks of the last
// checkpoint.
func (c *RowGroupCollection) CommitDrop() error {
	for _, rg := range c._rowGroups.Segments() {
		err := rg.CommitDrop()
		if err != nil {
			return err
		}
	}
	c._blocksLock.Lock()
	blocks := c._persistentBlocks
	c._persistentBlocks = nil
	c._blocksLock.Unlock()
	for _, id := range blocks {
		c._blockMgr.MarkBlockAsFree(id)
	}
	return nil
}

// CommitDropColumn releases the values of column colIdx.
func (c *RowGroupCollection) CommitDropColumn(colIdx IdxType) error {
	for _, rg := range c._rowGroups.Segments() {
		err := rg.CommitDropColumn(colIdx)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *RowGroupCollection) GetStorageInfo() (*TableStorageInfo, error) {
	info := &TableStorageInfo{}
	for i, rg := range c._rowGroups.Segments() {
		err := rg.GetStorageInfo(IdxType(i), info)
		if err != nil {
			return nil, err
		}
	}
	return info, nil
}

// Verify checks the row groups are contiguous and hold every row.
func (c *RowGroupCollection) Verify() {
	next := c._rowStart
	for _, rg := range c._rowGroups.Segments() {
		util.AssertFunc(rg.Start() == next)
		rg.Verify()
		next += rg.Count()
	}
	util.AssertFunc(next == c._rowStart+c.TotalRows())
}

// Print dumps row groups, loaded columns and version slots as a tree.
func (c *RowGroupCollection) Print(tree treeprint.Tree) {
	tree = tree.AddMetaBranch(c._info.String(), fmt.Sprintf("rows %d layout %v", c.TotalRows(), c.Layout()))
	for _, rg := range c._rowGroups.Segments() {
		rgTree := tree.AddBranch(rg.String())
		for i := IdxType(0); i < rg.ColumnCount(); i++ {
			if !rg.IsLoaded(i) {
				rgTree.AddMetaNode(i, "not loaded")
				continue
			}
			col, _ := rg.GetColumn(i)
			stats := col.GetStats()
			rgTree.AddMetaNode(i, fmt.Sprintf("%v %s", col.Type(), stats.String()))
		}
		versions := rg.GetVersionInfo()
		if versions == nil {
			continue
		}
		vTree := rgTree.AddBranch("versions")
		for j := IdxType(0); j < versions.Len(); j++ {
			if info := versions.Get(j); info != nil {
				vTree.AddMetaNode(j, info.String())
			}
		}
	}
}

func (c *RowGroupCollection) String() string {
	tree := treeprint.New()
	c.Print(tree)
	return tree.String()
}
