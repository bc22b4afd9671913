package storage

import (
	"fmt"
	"time"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/util"
)

type TableScanType int

const (
	// TableScanTypeRegular scans with the snapshot of a transaction.
	TableScanTypeRegular TableScanType = iota
	// TableScanTypeCommittedRows scans every row with the committed
	// updates.
	TableScanTypeCommittedRows
	// TableScanTypeCommittedRowsDisallowUpdates fails on vectors with
	// uncommitted updates.
	TableScanTypeCommittedRowsDisallowUpdates
	// TableScanTypeCommittedRowsOmitPermanentlyDeleted drops the rows
	// whose delete every active transaction can see.
	TableScanTypeCommittedRowsOmitPermanentlyDeleted
)

func (typ TableScanType) String() string {
	switch typ {
	case TableScanTypeRegular:
		return "regular"
	case TableScanTypeCommittedRows:
		return "committed rows"
	case TableScanTypeCommittedRowsDisallowUpdates:
		return "committed rows disallow updates"
	case TableScanTypeCommittedRowsOmitPermanentlyDeleted:
		return "committed rows omit permanently deleted"
	default:
		return fmt.Sprintf("unknown(%d)", int(typ))
	}
}

// CollectionScanState is the position of a scan inside a row group.
// The filters are keyed by the position in columnIds.
type CollectionScanState struct {
	_rowGroup       *RowGroup
	_vectorIdx      IdxType
	_maxRowGroupRow IdxType
	_columnScans    []*ColumnScanState
	_maxRow         IdxType
	_columnIds      []IdxType
	_filters        *TableFilterSet
	_adaptiveFilter *AdaptiveFilter
}

func NewCollectionScanState(columnIds []IdxType, filters *TableFilterSet) *CollectionScanState {
	ret := &CollectionScanState{
		_columnIds:   columnIds,
		_columnScans: make([]*ColumnScanState, len(columnIds)),
	}
	for i := range ret._columnScans {
		ret._columnScans[i] = &ColumnScanState{}
	}
	if filters != nil && filters.Len() != 0 {
		ret._filters = filters.Copy()
		ret._adaptiveFilter = NewAdaptiveFilter(ret._filters)
	}
	return ret
}

func (state *CollectionScanState) RowGroup() *RowGroup {
	return state._rowGroup
}

func (state *CollectionScanState) SetMaxRow(maxRow IdxType) {
	state._maxRow = maxRow
}

func (state *CollectionScanState) hasFilters() bool {
	return state._filters != nil && state._filters.Len() != 0
}

func (rg *RowGroup) maxRowGroupRow(maxRow IdxType) IdxType {
	if rg._start > maxRow {
		return 0
	}
	return min(rg.Count(), maxRow-rg._start)
}

// InitScan positions state at the first row of the row group. It is
// false when the zonemaps exclude the row group or there is nothing
// to scan.
func (rg *RowGroup) InitScan(state *CollectionScanState) (bool, error) {
	if state.hasFilters() {
		ok, err := rg.CheckZonemap(state._filters, state._columnIds)
		if err != nil || !ok {
			return false, err
		}
	}
	state._rowGroup = rg
	state._vectorIdx = 0
	state._maxRowGroupRow = rg.maxRowGroupRow(state._maxRow)
	if state._maxRowGroupRow == 0 {
		return false, nil
	}
	for i, colIdx := range state._columnIds {
		if colIdx == COLUMN_IDENTIFIER_ROW_ID {
			state._columnScans[i]._current = nil
			continue
		}
		col, err := rg.GetColumn(colIdx)
		if err != nil {
			return false, err
		}
		col.InitScan(state._columnScans[i])
	}
	return true, nil
}

// InitScanWithOffset positions state at vector vectorOffset.
func (rg *RowGroup) InitScanWithOffset(state *CollectionScanState, vectorOffset IdxType) (bool, error) {
	if state.hasFilters() {
		ok, err := rg.CheckZonemap(state._filters, state._columnIds)
		if err != nil || !ok {
			return false, err
		}
	}
	state._rowGroup = rg
	state._vectorIdx = vectorOffset
	state._maxRowGroupRow = rg.maxRowGroupRow(state._maxRow)
	rowIdx := rg._start + vectorOffset*rg.layout().VectorSize
	for i, colIdx := range state._columnIds {
		if colIdx == COLUMN_IDENTIFIER_ROW_ID {
			state._columnScans[i]._current = nil
			continue
		}
		col, err := rg.GetColumn(colIdx)
		if err != nil {
			return false, err
		}
		col.InitScanWithOffset(state._columnScans[i], rowIdx)
	}
	return true, nil
}

// CheckZonemap is false when a filter excludes every row of the
// row group.
func (rg *RowGroup) CheckZonemap(filters *TableFilterSet, columnIds []IdxType) (bool, error) {
	for _, idx := range filters.Columns() {
		if columnIds[idx] == COLUMN_IDENTIFIER_ROW_ID {
			stats := rowIdStats(rg._start, rg.Count())
			if filters.Get(idx).CheckStatistics(&stats) == FILTER_ALWAYS_FALSE {
				return false, nil
			}
			continue
		}
		col, err := rg.GetColumn(columnIds[idx])
		if err != nil {
			return false, err
		}
		if !col.CheckZonemap(filters.Get(idx)) {
			return false, nil
		}
	}
	return true, nil
}

// rowIdStats is the zonemap of the row ids [start, start+count).
func rowIdStats(start, count IdxType) BaseStats {
	stats := NewEmptyBaseStats(common.BigintType())
	if count > 0 {
		stats.Update(chunk.NewBigintValue(int64(start)))
		stats.Update(chunk.NewBigintValue(int64(start + count - 1)))
	}
	return stats
}

// CheckZonemapSegments skips the vectors covered by a segment that a
// filter excludes. It is false when vectors were skipped. A segment
// ending inside the current vector skips nothing.
func (rg *RowGroup) CheckZonemapSegments(state *CollectionScanState) (bool, error) {
	if !state.hasFilters() {
		return true, nil
	}
	vs := rg.layout().VectorSize
	for _, idx := range state._filters.Columns() {
		if state._columnIds[idx] == COLUMN_IDENTIFIER_ROW_ID {
			continue
		}
		col, err := rg.GetColumn(state._columnIds[idx])
		if err != nil {
			return false, err
		}
		colState := state._columnScans[idx]
		if col.CheckZonemapSegment(colState, state._filters.Get(idx)) {
			continue
		}
		targetRow := colState._current.Start() + colState._current.Count()
		util.AssertFunc(targetRow >= rg._start && targetRow <= rg._start+rg.Count())
		targetVectorIdx := (targetRow - rg._start) / vs
		if state._vectorIdx == targetVectorIdx {
			return true, nil
		}
		for state._vectorIdx < targetVectorIdx {
			err = rg.NextVector(state)
			if err != nil {
				return false, err
			}
		}
		return false, nil
	}
	return true, nil
}

// NextVector moves every column scan one vector ahead.
func (rg *RowGroup) NextVector(state *CollectionScanState) error {
	state._vectorIdx++
	for i, colIdx := range state._columnIds {
		if colIdx == COLUMN_IDENTIFIER_ROW_ID {
			continue
		}
		col, err := rg.GetColumn(colIdx)
		if err != nil {
			return err
		}
		col.Skip(state._columnScans[i])
	}
	return nil
}

// Scan fills result with the next vector visible to txn. The result
// is empty when the row group is exhausted.
func (rg *RowGroup) Scan(txn TxnData, state *CollectionScanState, result *chunk.Chunk) error {
	return rg.templatedScan(txn, state, result, TableScanTypeRegular)
}

// ScanCommitted scans with the oldest active snapshot.
func (rg *RowGroup) ScanCommitted(
	state *CollectionScanState,
	result *chunk.Chunk,
	scanType TableScanType) error {
	lowestId, lowestStart := rg._collection.TxnManager().Lowest()
	txn := NewTxnData(lowestId, lowestStart)
	switch scanType {
	case TableScanTypeCommittedRows,
		TableScanTypeCommittedRowsDisallowUpdates,
		TableScanTypeCommittedRowsOmitPermanentlyDeleted:
		return rg.templatedScan(txn, state, result, scanType)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownScanType, scanType)
	}
}

func (rg *RowGroup) templatedScan(
	txn TxnData,
	state *CollectionScanState,
	result *chunk.Chunk,
	scanType TableScanType) error {
	allowUpdates := scanType != TableScanTypeCommittedRowsDisallowUpdates &&
		scanType != TableScanTypeCommittedRowsOmitPermanentlyDeleted
	filters := state._filters
	hasFilters := state.hasFilters()
	colIds := state._columnIds
	vs := rg.layout().VectorSize
	for {
		if state._vectorIdx*vs >= state._maxRowGroupRow {
			return nil
		}
		currentRow := state._vectorIdx * vs
		maxCount := min(vs, state._maxRowGroupRow-currentRow)

		//zonemap of the current segments
		read, err := rg.CheckZonemapSegments(state)
		if err != nil {
			return err
		}
		if !read {
			continue
		}

		//visible rows
		count := IdxType(0)
		validSel := chunk.NewSelectVector(int(vs))
		switch scanType {
		case TableScanTypeRegular:
			count = rg.GetSelVector(txn, state._vectorIdx, validSel, maxCount)
		case TableScanTypeCommittedRowsOmitPermanentlyDeleted:
			count = rg.GetCommittedSelVector(txn._startTime, txn._id, state._vectorIdx, validSel, maxCount)
		default:
			count = maxCount
		}
		if count == 0 {
			err = rg.NextVector(state)
			if err != nil {
				return err
			}
			continue
		}

		if count == maxCount && !hasFilters {
			//full vector
			for i, colIdx := range colIds {
				if colIdx == COLUMN_IDENTIFIER_ROW_ID {
					result.Data[i].Sequence(int64(rg._start+currentRow), 1, int(count))
					continue
				}
				col, err := rg.GetColumn(colIdx)
				if err != nil {
					return err
				}
				if scanType != TableScanTypeRegular {
					_, err = col.ScanCommitted(state._vectorIdx, state._columnScans[i], result.Data[i], allowUpdates)
				} else {
					_, err = col.Scan(txn, state._vectorIdx, state._columnScans[i], result.Data[i])
				}
				if err != nil {
					return err
				}
			}
		} else {
			approved := int(count)
			sel := &chunk.SelectVector{}
			if count != maxCount {
				sel = validSel
			}
			begin := time.Now()
			scanned := make([]bool, len(colIds))
			if hasFilters {
				for _, idx := range state._adaptiveFilter.Permutation {
					if approved == 0 {
						break
					}
					scanned[idx] = true
					if colIds[idx] == COLUMN_IDENTIFIER_ROW_ID {
						result.Data[idx].Sequence(int64(rg._start+currentRow), 1, int(maxCount))
						approved = filters.Get(idx).Select(result.Data[idx], sel, approved)
						continue
					}
					col, err := rg.GetColumn(colIds[idx])
					if err != nil {
						return err
					}
					approved, err = col.Select(
						txn,
						state._vectorIdx,
						state._columnScans[idx],
						result.Data[idx],
						sel,
						approved,
						filters.Get(idx),
					)
					if err != nil {
						return err
					}
				}
				for _, idx := range filters.Columns() {
					result.Data[idx].Slice(sel, approved)
				}
			}
			if approved == 0 {
				//filtered out. skip the columns not scanned yet
				result.Reset()
				for i, colIdx := range colIds {
					if colIdx == COLUMN_IDENTIFIER_ROW_ID || scanned[i] {
						continue
					}
					col, err := rg.GetColumn(colIdx)
					if err != nil {
						return err
					}
					col.Skip(state._columnScans[i])
				}
				state._vectorIdx++
				continue
			}
			for i, colIdx := range colIds {
				if hasFilters && filters.Get(IdxType(i)) != nil {
					continue
				}
				if colIdx == COLUMN_IDENTIFIER_ROW_ID {
					for j := 0; j < approved; j++ {
						rowId := rg._start + currentRow + IdxType(sel.GetIndex(j))
						result.Data[i].SetValue(j, chunk.NewBigintValue(int64(rowId)))
					}
					continue
				}
				col, err := rg.GetColumn(colIdx)
				if err != nil {
					return err
				}
				if scanType == TableScanTypeRegular {
					err = col.FilterScan(txn, state._vectorIdx, state._columnScans[i], result.Data[i], sel, approved)
				} else {
					err = col.FilterScanCommitted(state._vectorIdx, state._columnScans[i], result.Data[i], sel, approved, allowUpdates)
				}
				if err != nil {
					return err
				}
			}
			if hasFilters && filters.Len() > 1 {
				state._adaptiveFilter.AdaptRuntimeStatistics(time.Since(begin).Seconds())
			}
			count = IdxType(approved)
		}
		result.SetCard(int(count))
		state._vectorIdx++
		return nil
	}
}

// GetSelVector selects the rows of a vector visible to txn.
func (rg *RowGroup) GetSelVector(
	txn TxnData,
	vectorIdx IdxType,
	sel *chunk.SelectVector,
	maxCount IdxType) IdxType {
	rg._rowGroupLock.Lock()
	defer rg._rowGroupLock.Unlock()
	info := rg.getChunkInfo(vectorIdx)
	if info == nil {
		return maxCount
	}
	return info.GetSelVector(txn, sel, maxCount)
}

// GetCommittedSelVector selects the rows of a vector some active
// transaction may still see.
func (rg *RowGroup) GetCommittedSelVector(
	startTime TxnType,
	txnId TxnType,
	vectorIdx IdxType,
	sel *chunk.SelectVector,
	maxCount IdxType) IdxType {
	rg._rowGroupLock.Lock()
	defer rg._rowGroupLock.Unlock()
	info := rg.getChunkInfo(vectorIdx)
	if info == nil {
		return maxCount
	}
	return info.GetCommittedSelVector(startTime, txnId, sel, maxCount)
}

// Fetch reports whether row, relative to the row group, is visible
// to txn.
func (rg *RowGroup) Fetch(txn TxnData, row IdxType) bool {
	util.AssertFunc(row < rg.Count())
	rg._rowGroupLock.Lock()
	defer rg._rowGroupLock.Unlock()
	vs := rg.layout().VectorSize
	vectorIdx := row / vs
	info := rg.getChunkInfo(vectorIdx)
	if info == nil {
		return true
	}
	return info.Fetch(txn, row-vectorIdx*vs)
}

// FetchRow writes the columns of rowId into row resultIdx of result.
func (rg *RowGroup) FetchRow(
	txn TxnData,
	state *ColumnScanState,
	columnIds []IdxType,
	rowId RowType,
	result *chunk.Chunk,
	resultIdx int) error {
	for i, colIdx := range columnIds {
		if colIdx == COLUMN_IDENTIFIER_ROW_ID {
			result.Data[i].SetValue(resultIdx, chunk.NewBigintValue(int64(rowId)))
			continue
		}
		col, err := rg.GetColumn(colIdx)
		if err != nil {
			return err
		}
		err = col.FetchRow(txn, state, rowId, result.Data[i], resultIdx)
		if err != nil {
			return err
		}
	}
	return nil
}
