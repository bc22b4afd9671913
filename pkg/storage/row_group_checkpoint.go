package storage

import (
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/util"
)

// WriteToDisk checkpoints the columns in parallel.
func (rg *RowGroup) WriteToDisk(partial *PartialBlockMgr) (*RowGroupWriteData, error) {
	cols, err := rg.GetColumns()
	if err != nil {
		return nil, err
	}
	result := &RowGroupWriteData{
		_states: make([]*ColumnCheckpointState, len(cols)),
		_stats:  make([]BaseStats, len(cols)),
	}
	eg := errgroup.Group{}
	for i, col := range cols {
		eg.Go(func() error {
			state, err := col.Checkpoint(partial)
			if err != nil {
				return err
			}
			result._states[i] = state
			result._stats[i] = state.GetStats().Copy()
			return nil
		})
	}
	err = eg.Wait()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Checkpoint writes the row group and returns its pointer. The column
// statistics are merged into globalStats.
func (rg *RowGroup) Checkpoint(writer *RowGroupWriter, globalStats *TableStats) (*RowGroupPointer, error) {
	data, err := rg.WriteToDisk(writer.GetPartialBlockMgr())
	if err != nil {
		return nil, err
	}
	for i := range data._stats {
		globalStats.MergeStats(i, &data._stats[i])
	}
	ptrs := make([]BlockPointer, 0, len(data._states))
	for _, state := range data._states {
		ptrs = append(ptrs, writer.GetPayloadWriter().GetBlockPointer())
		err = state.WriteDataPointers(writer)
		if err != nil {
			return nil, err
		}
	}
	ret := NewRowGroupPointer(
		uint64(rg._start),
		uint64(rg.Count()),
		ptrs,
		rg.GetVersionInfo(),
	)
	util.Debug("checkpoint row group",
		zap.Uint64("start", uint64(rg._start)),
		zap.Uint64("count", uint64(rg.Count())),
		zap.Int("columns", len(ptrs)))
	rg.Verify()
	return ret, nil
}

// shareColumns builds a row group of newCollection with the rows and
// the versions of rg.
func (rg *RowGroup) shareColumns(newCollection *RowGroupCollection, cols []ColumnData) *RowGroup {
	ret := NewRowGroup(newCollection, rg._start, rg.Count())
	ret._versionInfo = rg.GetVersionInfo()
	for _, col := range cols {
		ret._columns = append(ret._columns, newLoadedColumn(col))
	}
	return ret
}

// AlterType rebuilds column changedIdx with executor over a committed
// scan of the row group. The other columns are shared.
func (rg *RowGroup) AlterType(
	newCollection *RowGroupCollection,
	targetType common.LType,
	changedIdx IdxType,
	executor *ExprExec,
	scanState *CollectionScanState,
	scanChunk *chunk.Chunk) (*RowGroup, error) {
	rg.Verify()
	vs := rg.layout().VectorSize
	altered := NewStandardColumnData(
		newCollection.BlockMgr(),
		newCollection.Info(),
		changedIdx,
		rg._start,
		targetType,
	)
	appendState := &ColumnAppendState{}
	altered.InitAppend(appendState)

	scanState.SetMaxRow(rg._start + rg.Count())
	_, err := rg.InitScan(scanState)
	if err != nil {
		return nil, err
	}
	for {
		scanChunk.Reset()
		err = rg.ScanCommitted(scanState, scanChunk, TableScanTypeCommittedRows)
		if err != nil {
			return nil, err
		}
		if scanChunk.Card() == 0 {
			break
		}
		vec := chunk.NewVector(targetType, int(vs))
		err = executor.ExecuteExpr(scanChunk, vec)
		if err != nil {
			return nil, err
		}
		altered.Append(appendState, vec, IdxType(scanChunk.Card()))
	}

	cols, err := rg.GetColumns()
	if err != nil {
		return nil, err
	}
	newCols := make([]ColumnData, len(cols))
	copy(newCols, cols)
	newCols[changedIdx] = altered
	ret := rg.shareColumns(newCollection, newCols)
	ret.Verify()
	return ret, nil
}

// AddColumn appends a column computed by executor for every row. A nil
// executor fills the column with NULL.
func (rg *RowGroup) AddColumn(
	newCollection *RowGroupCollection,
	def *ColumnDefinition,
	executor *ExprExec) (*RowGroup, error) {
	rg.Verify()
	vs := rg.layout().VectorSize
	added := NewStandardColumnData(
		newCollection.BlockMgr(),
		newCollection.Info(),
		rg.ColumnCount(),
		rg._start,
		def.Type,
	)
	rowsToWrite := rg.Count()
	if rowsToWrite > 0 {
		appendState := &ColumnAppendState{}
		added.InitAppend(appendState)
		dummy := chunk.NewChunk(nil, int(vs))
		for i := IdxType(0); i < rowsToWrite; i += vs {
			rowsInVector := min(rowsToWrite-i, vs)
			vec := chunk.NewVector(def.Type, int(vs))
			if executor != nil {
				dummy.SetCard(int(rowsInVector))
				err := executor.ExecuteExpr(dummy, vec)
				if err != nil {
					return nil, err
				}
			} else {
				for j := 0; j < int(rowsInVector); j++ {
					vec.SetNull(j, true)
				}
			}
			added.Append(appendState, vec, rowsInVector)
		}
	}
	cols, err := rg.GetColumns()
	if err != nil {
		return nil, err
	}
	newCols := make([]ColumnData, 0, len(cols)+1)
	newCols = append(newCols, cols...)
	newCols = append(newCols, added)
	ret := rg.shareColumns(newCollection, newCols)
	ret.Verify()
	return ret, nil
}

// RemoveColumn drops column removed. The other columns are shared.
func (rg *RowGroup) RemoveColumn(newCollection *RowGroupCollection, removed IdxType) (*RowGroup, error) {
	rg.Verify()
	util.AssertFunc(removed < rg.ColumnCount())
	cols, err := rg.GetColumns()
	if err != nil {
		return nil, err
	}
	newCols := make([]ColumnData, 0, len(cols)-1)
	for i, col := range cols {
		if IdxType(i) != removed {
			newCols = append(newCols, col)
		}
	}
	ret := rg.shareColumns(newCollection, newCols)
	ret.Verify()
	return ret, nil
}
