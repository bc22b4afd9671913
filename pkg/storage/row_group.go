package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/util"
)

type lazyColumn struct {
	_loaded atomic.Bool
	_column ColumnData
}

func newLoadedColumn(col ColumnData) *lazyColumn {
	ret := &lazyColumn{_column: col}
	ret._loaded.Store(true)
	return ret
}

// RowGroup holds the rows [start, start+count) of a table. Columns
// read from disk are loaded on first access. The version node may be
// shared with other row groups holding the same rows.
type RowGroup struct {
	_collection     *RowGroupCollection
	_start          IdxType
	_count          atomic.Uint64
	_rowGroupLock   sync.Mutex
	_statsLock      sync.Mutex
	_columns        []*lazyColumn
	_columnPointers []BlockPointer
	_versionInfo    *VersionNode
}

var _ SegmentBase = &RowGroup{}

func NewRowGroup(collection *RowGroupCollection, start, count IdxType) *RowGroup {
	ret := &RowGroup{
		_collection: collection,
		_start:      start,
	}
	ret._count.Store(uint64(count))
	return ret
}

// NewRowGroupFromPointer builds a row group whose columns load lazily
// from the pointer.
func NewRowGroupFromPointer(collection *RowGroupCollection, ptr *RowGroupPointer) (*RowGroup, error) {
	if len(ptr._dataPointers) != len(collection.Types()) {
		util.Error("row group column count mismatch",
			zap.Int("pointers", len(ptr._dataPointers)),
			zap.Int("columns", len(collection.Types())))
		return nil, fmt.Errorf("%w: row group has %d column pointers, table has %d columns",
			ErrCorrupted, len(ptr._dataPointers), len(collection.Types()))
	}
	ret := NewRowGroup(collection, IdxType(ptr._rowStart), IdxType(ptr._tupleCount))
	ret._columnPointers = ptr._dataPointers
	ret._columns = make([]*lazyColumn, len(ptr._dataPointers))
	for i := range ret._columns {
		ret._columns[i] = &lazyColumn{}
	}
	ret._versionInfo = ptr._versions
	return ret, nil
}

func (rg *RowGroup) Start() IdxType {
	return rg._start
}

func (rg *RowGroup) SetStart(start IdxType) {
	rg._start = start
}

func (rg *RowGroup) Count() IdxType {
	return IdxType(rg._count.Load())
}

func (rg *RowGroup) layout() Layout {
	return rg._collection.Layout()
}

func (rg *RowGroup) ColumnCount() IdxType {
	return IdxType(len(rg._columns))
}

// InitEmpty creates an empty column for every type.
func (rg *RowGroup) InitEmpty(types []common.LType) {
	util.AssertFunc(len(rg._columns) == 0)
	for i, typ := range types {
		col := NewStandardColumnData(
			rg._collection.BlockMgr(),
			rg._collection.Info(),
			IdxType(i),
			rg._start,
			typ,
		)
		rg._columns = append(rg._columns, newLoadedColumn(col))
	}
}

// GetColumn returns column i, loading it from disk first if needed.
// A failed load is not remembered.
func (rg *RowGroup) GetColumn(i IdxType) (ColumnData, error) {
	util.AssertFunc(i < IdxType(len(rg._columns)))
	cell := rg._columns[i]
	if cell._loaded.Load() {
		return cell._column, nil
	}
	rg._rowGroupLock.Lock()
	defer rg._rowGroupLock.Unlock()
	if cell._loaded.Load() {
		return cell._column, nil
	}
	if len(rg._columnPointers) != len(rg._columns) {
		return nil, fmt.Errorf("lazy loading column %d of row group %d without a pointer", i, rg._start)
	}
	blockMgr := rg._collection.BlockMgr()
	ptr := rg._columnPointers[i]
	reader, err := NewMetaBlockReader(blockMgr, ptr)
	if err != nil {
		return nil, err
	}
	col, err := ColumnDataDeserialize(
		blockMgr,
		rg._collection.Info(),
		i,
		rg._start,
		rg._collection.Types()[i],
		reader,
	)
	if err != nil {
		return nil, err
	}
	cell._column = col
	cell._loaded.Store(true)
	util.Debug("load column",
		zap.Uint64("rowGroup", uint64(rg._start)),
		zap.Uint64("column", uint64(i)),
		zap.String("pointer", ptr.String()))
	return col, nil
}

// GetColumns loads every column.
func (rg *RowGroup) GetColumns() ([]ColumnData, error) {
	ret := make([]ColumnData, len(rg._columns))
	for i := range rg._columns {
		col, err := rg.GetColumn(IdxType(i))
		if err != nil {
			return nil, err
		}
		ret[i] = col
	}
	return ret, nil
}

// IsLoaded reports whether column i is in memory.
func (rg *RowGroup) IsLoaded(i IdxType) bool {
	return rg._columns[i]._loaded.Load()
}

func (rg *RowGroup) GetVersionInfo() *VersionNode {
	rg._rowGroupLock.Lock()
	defer rg._rowGroupLock.Unlock()
	return rg._versionInfo
}

// getChunkInfo needs the row group lock.
func (rg *RowGroup) getChunkInfo(vectorIdx IdxType) *ChunkInfo {
	if rg._versionInfo == nil {
		return nil
	}
	return rg._versionInfo.Get(vectorIdx)
}

func (rg *RowGroup) GetStats(colIdx IdxType) (BaseStats, error) {
	col, err := rg.GetColumn(colIdx)
	if err != nil {
		return BaseStats{}, err
	}
	rg._statsLock.Lock()
	defer rg._statsLock.Unlock()
	return col.GetStats(), nil
}

func (rg *RowGroup) MergeStats(colIdx IdxType, other *BaseStats) error {
	col, err := rg.GetColumn(colIdx)
	if err != nil {
		return err
	}
	rg._statsLock.Lock()
	defer rg._statsLock.Unlock()
	col.MergeStats(other)
	return nil
}

func (rg *RowGroup) MergeIntoStats(colIdx IdxType, other *BaseStats) error {
	col, err := rg.GetColumn(colIdx)
	if err != nil {
		return err
	}
	rg._statsLock.Lock()
	defer rg._statsLock.Unlock()
	col.MergeIntoStats(other)
	return nil
}

// MoveToCollection hands the row group to collection at newStart.
func (rg *RowGroup) MoveToCollection(collection *RowGroupCollection, newStart IdxType) error {
	cols, err := rg.GetColumns()
	if err != nil {
		return err
	}
	rg._collection = collection
	rg._start = newStart
	for _, col := range cols {
		col.SetStart(newStart)
	}
	rg._rowGroupLock.Lock()
	defer rg._rowGroupLock.Unlock()
	if rg._versionInfo != nil {
		rg._versionInfo.SetStart(newStart, rg.layout().VectorSize)
	}
	return nil
}

func (rg *RowGroup) CommitDrop() error {
	for i := IdxType(0); i < rg.ColumnCount(); i++ {
		err := rg.CommitDropColumn(i)
		if err != nil {
			return err
		}
	}
	return nil
}

func (rg *RowGroup) CommitDropColumn(colIdx IdxType) error {
	col, err := rg.GetColumn(colIdx)
	if err != nil {
		return err
	}
	col.CommitDropColumn()
	return nil
}

func (rg *RowGroup) GetStorageInfo(rowGroupIdx IdxType, info *TableStorageInfo) error {
	for i := IdxType(0); i < rg.ColumnCount(); i++ {
		col, err := rg.GetColumn(i)
		if err != nil {
			return err
		}
		col.GetStorageInfo(rowGroupIdx, []IdxType{i}, info)
	}
	return nil
}

// Verify checks the loaded columns agree with the row group bounds.
func (rg *RowGroup) Verify() {
	util.AssertFunc(rg.Count() <= rg.layout().RowGroupSize())
	for _, cell := range rg._columns {
		if !cell._loaded.Load() {
			continue
		}
		util.AssertFunc(cell._column.Start() == rg._start)
	}
}

func (rg *RowGroup) String() string {
	return fmt.Sprintf("row group [%d, %d) columns %d",
		rg._start, rg._start+rg.Count(), len(rg._columns))
}
