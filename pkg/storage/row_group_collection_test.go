package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xlab/treeprint"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/util"
)

var testLayout = Layout{VectorSize: 4, VectorCount: 2, SegmentSize: 4}

func testTypes() []common.LType {
	return []common.LType{common.BigintType(), common.VarcharType()}
}

func newTestCollection(blockMgr BlockMgr, txnMgr TxnManager) *RowGroupCollection {
	info := NewDataTableInfo("main", "items", testLayout, []*ColumnDefinition{
		{Name: "id", Type: common.BigintType()},
		{Name: "name", Type: common.VarcharType()},
	})
	return NewRowGroupCollection(blockMgr, info, txnMgr, 0, 0)
}

// makeChunk holds the ids [from, from+count) named n<id>.
func makeChunk(from, count int) *chunk.Chunk {
	data := chunk.NewChunk(testTypes(), max(count, 4))
	for i := 0; i < count; i++ {
		data.Data[0].SetValue(i, chunk.NewBigintValue(int64(from+i)))
		data.Data[1].SetValue(i, chunk.NewVarcharValue(fmt.Sprintf("n%d", from+i)))
	}
	data.SetCard(count)
	return data
}

func appendCommitted(t *testing.T, c *RowGroupCollection, txnMgr *TxnMgr, from, count int) {
	txn, err := txnMgr.NewTxn("append")
	require.NoError(t, err)
	require.NoError(t, c.AppendData(txn.Data(), makeChunk(from, count)))
	require.NoError(t, txnMgr.Commit(txn))
}

func newTxn(t *testing.T, txnMgr *TxnMgr) *Txn {
	txn, err := txnMgr.NewTxn(t.Name())
	require.NoError(t, err)
	return txn
}

func scanTypes(c *RowGroupCollection, columnIds []IdxType) []common.LType {
	types := make([]common.LType, len(columnIds))
	for i, colIdx := range columnIds {
		if colIdx == COLUMN_IDENTIFIER_ROW_ID {
			types[i] = common.BigintType()
		} else {
			types[i] = c.Types()[colIdx]
		}
	}
	return types
}

// scanRows returns the rows visible to txn, one slice per row.
func scanRows(
	t *testing.T,
	c *RowGroupCollection,
	txn TxnData,
	columnIds []IdxType,
	filters *TableFilterSet) [][]*chunk.Value {
	state := NewCollectionScanState(columnIds, filters)
	require.NoError(t, c.InitScan(state))
	result := chunk.NewChunk(scanTypes(c, columnIds), int(c.Layout().VectorSize))
	var rows [][]*chunk.Value
	for {
		result.Reset()
		require.NoError(t, c.Scan(txn, state, result))
		if result.Card() == 0 {
			break
		}
		for i := 0; i < result.Card(); i++ {
			rows = append(rows, result.Row(i))
		}
	}
	return rows
}

// scanIds returns the id column and the row ids visible to txn.
func scanIds(t *testing.T, c *RowGroupCollection, txn TxnData, filters *TableFilterSet) ([]int64, []int64) {
	var ids, rowIds []int64
	for _, row := range scanRows(t, c, txn, []IdxType{0, COLUMN_IDENTIFIER_ROW_ID}, filters) {
		ids = append(ids, row[0].I64)
		rowIds = append(rowIds, row[1].I64)
	}
	return ids, rowIds
}

func scanNames(t *testing.T, c *RowGroupCollection, txn TxnData) []string {
	var names []string
	for _, row := range scanRows(t, c, txn, []IdxType{1}, nil) {
		names = append(names, row[0].Str)
	}
	return names
}

func seq(from, to int) []int64 {
	var ret []int64
	for i := from; i < to; i++ {
		ret = append(ret, int64(i))
	}
	return ret
}

func Test_appendVisibility(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)

	writer := newTxn(t, txnMgr)
	require.NoError(t, c.AppendData(writer.Data(), makeChunk(0, 10)))
	assert.Equal(t, IdxType(10), c.TotalRows())
	assert.Equal(t, IdxType(2), c.RowGroupCount())
	assert.Equal(t, IdxType(8), c.RowGroups()[0].Count())
	assert.Equal(t, IdxType(8), c.RowGroups()[1].Start())

	before := newTxn(t, txnMgr)
	ids, rowIds := scanIds(t, c, writer.Data(), nil)
	assert.Equal(t, seq(0, 10), ids)
	assert.Equal(t, seq(0, 10), rowIds)
	ids, _ = scanIds(t, c, before.Data(), nil)
	assert.Empty(t, ids)

	require.NoError(t, txnMgr.Commit(writer))
	ids, _ = scanIds(t, c, before.Data(), nil)
	assert.Empty(t, ids)
	after := newTxn(t, txnMgr)
	ids, _ = scanIds(t, c, after.Data(), nil)
	assert.Equal(t, seq(0, 10), ids)

	minVal, has := c.GetStats(0).Min()
	require.True(t, has)
	assert.Equal(t, int64(0), minVal.I64)
	maxVal, _ := c.GetStats(0).Max()
	assert.Equal(t, int64(9), maxVal.I64)
	assert.InDelta(t, 10, float64(c.DistinctCount(0)), 1)
}

func Test_appendAcrossCalls(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	txn := newTxn(t, txnMgr)
	state := &TableAppendState{}
	require.NoError(t, c.InitAppend(state))
	assert.Equal(t, RowType(0), state.RowStart())
	require.NoError(t, c.Append(makeChunk(0, 3), state))
	require.NoError(t, c.Append(makeChunk(3, 7), state))
	assert.Equal(t, RowType(10), state.CurrentRow())
	c.FinalizeAppend(txn.Data(), state)
	require.NoError(t, txnMgr.Commit(txn))

	ids, _ := scanIds(t, c, newTxn(t, txnMgr).Data(), nil)
	assert.Equal(t, seq(0, 10), ids)
}

func Test_deleteVisibility(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 8)

	txnA := newTxn(t, txnMgr)
	txnB := newTxn(t, txnMgr)
	cnt, err := c.Delete(txnA.Data(), []RowType{1, 5}, 2)
	require.NoError(t, err)
	assert.Equal(t, IdxType(2), cnt)

	ids, _ := scanIds(t, c, txnA.Data(), nil)
	assert.Equal(t, []int64{0, 2, 3, 4, 6, 7}, ids)
	ids, _ = scanIds(t, c, txnB.Data(), nil)
	assert.Equal(t, seq(0, 8), ids)

	//deleting again is a no-op
	cnt, err = c.Delete(txnA.Data(), []RowType{1}, 1)
	require.NoError(t, err)
	assert.Equal(t, IdxType(0), cnt)

	_, err = c.Delete(txnB.Data(), []RowType{5}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeleteConflict))
	txnMgr.Rollback(txnB)

	require.NoError(t, txnMgr.Commit(txnA))
	ids, _ = scanIds(t, c, newTxn(t, txnMgr).Data(), nil)
	assert.Equal(t, []int64{0, 2, 3, 4, 6, 7}, ids)

	_, err = c.Delete(newTxn(t, txnMgr).Data(), []RowType{20}, 1)
	assert.Error(t, err)
}

func Test_versionSlots(t *testing.T) {
	txnMgr := NewTxnMgr()
	layout := Layout{VectorSize: 2, VectorCount: 4, SegmentSize: 8}
	info := NewDataTableInfo("main", "items", layout, []*ColumnDefinition{
		{Name: "id", Type: common.BigintType()},
		{Name: "name", Type: common.VarcharType()},
	})
	c := NewRowGroupCollection(NewMemoryBlockMgr(testBlockSize), info, txnMgr, 0, 0)

	writer := newTxn(t, txnMgr)
	require.NoError(t, c.AppendData(writer.Data(), makeChunk(0, 4)))
	require.NoError(t, txnMgr.Commit(writer))
	deleter := newTxn(t, txnMgr)
	cnt, err := c.Delete(deleter.Data(), []RowType{1}, 1)
	require.NoError(t, err)
	assert.Equal(t, IdxType(1), cnt)
	require.NoError(t, txnMgr.Commit(deleter))
	require.Greater(t, deleter.CommitId(), writer.CommitId())

	require.Len(t, c.RowGroups(), 1)
	versions := c.RowGroups()[0].GetVersionInfo()
	require.NotNil(t, versions)
	assert.Equal(t, VECTOR_INFO, versions.Get(0).Type())
	assert.Equal(t, CONSTANT_INFO, versions.Get(1).Type())
	assert.Nil(t, versions.Get(2))
	assert.Nil(t, versions.Get(3))

	reader := TxnIdStart + 1000
	ids, _ := scanIds(t, c, NewTxnData(reader, deleter.CommitId()), nil)
	assert.Equal(t, []int64{0, 2, 3}, ids)
	ids, _ = scanIds(t, c, NewTxnData(reader, deleter.CommitId()-1), nil)
	assert.Equal(t, []int64{0, 1, 2, 3}, ids)
	ids, _ = scanIds(t, c, NewTxnData(reader, writer.CommitId()-1), nil)
	assert.Empty(t, ids)
}

func Test_deleteRollback(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 10)

	txn := newTxn(t, txnMgr)
	cnt, err := c.Delete(txn.Data(), []RowType{0, 3, 9}, 3)
	require.NoError(t, err)
	assert.Equal(t, IdxType(3), cnt)
	txnMgr.Rollback(txn)

	other := newTxn(t, txnMgr)
	ids, _ := scanIds(t, c, other.Data(), nil)
	assert.Equal(t, seq(0, 10), ids)
	cnt, err = c.Delete(other.Data(), []RowType{3}, 1)
	require.NoError(t, err)
	assert.Equal(t, IdxType(1), cnt)
}

func Test_appendRollback(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)

	txn := newTxn(t, txnMgr)
	require.NoError(t, c.AppendData(txn.Data(), makeChunk(0, 10)))
	txnMgr.Rollback(txn)
	assert.Equal(t, IdxType(0), c.TotalRows())
	assert.Equal(t, IdxType(1), c.RowGroupCount())

	appendCommitted(t, c, txnMgr, 100, 3)
	ids, rowIds := scanIds(t, c, newTxn(t, txnMgr).Data(), nil)
	assert.Equal(t, seq(100, 103), ids)
	assert.Equal(t, seq(0, 3), rowIds)
}

func Test_appendRollbackInterleaved(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)

	txnA := newTxn(t, txnMgr)
	txnB := newTxn(t, txnMgr)
	require.NoError(t, c.AppendData(txnA.Data(), makeChunk(0, 4)))
	require.NoError(t, c.AppendData(txnB.Data(), makeChunk(4, 4)))

	//not the tail, the rows stay but nobody sees them
	txnMgr.Rollback(txnA)
	assert.Equal(t, IdxType(8), c.TotalRows())
	require.NoError(t, txnMgr.Commit(txnB))
	ids, _ := scanIds(t, c, newTxn(t, txnMgr).Data(), nil)
	assert.Equal(t, seq(4, 8), ids)

	//the tail is dropped
	txnC := newTxn(t, txnMgr)
	txnD := newTxn(t, txnMgr)
	require.NoError(t, c.AppendData(txnC.Data(), makeChunk(8, 2)))
	require.NoError(t, c.AppendData(txnD.Data(), makeChunk(10, 2)))
	txnMgr.Rollback(txnD)
	assert.Equal(t, IdxType(10), c.TotalRows())
	require.NoError(t, txnMgr.Commit(txnC))
	ids, _ = scanIds(t, c, newTxn(t, txnMgr).Data(), nil)
	assert.Equal(t, seq(4, 10), ids)
}

func nameUpdate(names ...string) *chunk.Chunk {
	data := chunk.NewChunk([]common.LType{common.VarcharType()}, max(len(names), 4))
	for i, name := range names {
		data.Data[0].SetValue(i, chunk.NewVarcharValue(name))
	}
	data.SetCard(len(names))
	return data
}

func Test_updateVisibility(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 8)

	txnA := newTxn(t, txnMgr)
	txnB := newTxn(t, txnMgr)
	require.NoError(t, c.Update(txnA.Data(), []RowType{2, 6}, []IdxType{1}, nameUpdate("two", "six")))

	names := scanNames(t, c, txnA.Data())
	assert.Equal(t, "two", names[2])
	assert.Equal(t, "six", names[6])
	names = scanNames(t, c, txnB.Data())
	assert.Equal(t, "n2", names[2])

	err := c.Update(txnB.Data(), []RowType{2}, []IdxType{1}, nameUpdate("conflict"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpdateConflict))
	txnMgr.Rollback(txnB)

	require.NoError(t, txnMgr.Commit(txnA))
	names = scanNames(t, c, newTxn(t, txnMgr).Data())
	assert.Equal(t, []string{"n0", "n1", "two", "n3", "n4", "n5", "six", "n7"}, names)

	maxVal, _ := c.GetStats(1).Max()
	assert.Equal(t, "two", maxVal.Str)

	txnC := newTxn(t, txnMgr)
	require.NoError(t, c.Update(txnC.Data(), []RowType{3}, []IdxType{1}, nameUpdate("gone")))
	txnMgr.Rollback(txnC)
	names = scanNames(t, c, newTxn(t, txnMgr).Data())
	assert.Equal(t, "n3", names[3])
}

func Test_updateColumn(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 4)

	txn := newTxn(t, txnMgr)
	require.NoError(t, c.UpdateColumn(txn.Data(), []RowType{1}, []IdxType{1}, nameUpdate("one")))
	assert.Equal(t, "one", scanNames(t, c, txn.Data())[1])

	err := c.UpdateColumn(txn.Data(), []RowType{1}, []IdxType{1, 0}, nameUpdate("nested"))
	assert.Error(t, err)
	require.NoError(t, txnMgr.Commit(txn))
	assert.Equal(t, "one", scanNames(t, c, newTxn(t, txnMgr).Data())[1])
}

func Test_zonemapPruning(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 16)

	filters := NewTableFilterSet()
	filters.PushFilter(0, NewConstantFilter(COMPARE_GREATER_EQUAL, chunk.NewBigintValue(12)))
	ids, rowIds := scanIds(t, c, newTxn(t, txnMgr).Data(), filters)
	assert.Equal(t, seq(12, 16), ids)
	assert.Equal(t, seq(12, 16), rowIds)

	rgs := c.RowGroups()
	require.Len(t, rgs, 2)
	col, err := rgs[0].GetColumn(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), col.DecodeCount())
	col, err = rgs[1].GetColumn(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), col.DecodeCount())
}

func Test_filterStopsAtEmptySelection(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 16)
	deleter := newTxn(t, txnMgr)
	_, err := c.Delete(deleter.Data(), []RowType{3}, 1)
	require.NoError(t, err)
	require.NoError(t, txnMgr.Commit(deleter))

	//nothing of vector 0 passes the id filter, the name column is not decoded there
	filters := NewTableFilterSet()
	filters.PushFilter(0, NewConstantFilter(COMPARE_GREATER_EQUAL, chunk.NewBigintValue(3)))
	filters.PushFilter(1, NewConstantFilter(COMPARE_GREATER_EQUAL, chunk.NewVarcharValue("n")))
	rows := scanRows(t, c, newTxn(t, txnMgr).Data(), []IdxType{0, 1}, filters)
	require.Len(t, rows, 12)
	for i, row := range rows {
		assert.Equal(t, int64(i+4), row[0].I64)
		assert.Equal(t, fmt.Sprintf("n%d", i+4), row[1].Str)
	}

	rg := c.RowGroups()[0]
	col, err := rg.GetColumn(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), col.DecodeCount())
	col, err = rg.GetColumn(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), col.DecodeCount())
}

func Test_rowIdFilter(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 100, 16)

	filters := NewTableFilterSet()
	filters.PushFilter(1, NewConstantFilter(COMPARE_GREATER_EQUAL, chunk.NewBigintValue(10)))
	ids, rowIds := scanIds(t, c, newTxn(t, txnMgr).Data(), filters)
	assert.Equal(t, seq(10, 16), rowIds)
	assert.Equal(t, seq(110, 116), ids)

	col, err := c.RowGroups()[0].GetColumn(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), col.DecodeCount())
}

func Test_filterNoMatch(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 10)

	filters := NewTableFilterSet()
	filters.PushFilter(0, NewConstantFilter(COMPARE_EQUAL, chunk.NewBigintValue(3)))
	ids, rowIds := scanIds(t, c, newTxn(t, txnMgr).Data(), filters)
	assert.Equal(t, []int64{3}, ids)
	assert.Equal(t, []int64{3}, rowIds)

	bad := NewTableFilterSet()
	bad.PushFilter(0, NewConstantFilter(COMPARE_EQUAL, chunk.NewVarcharValue("x")))
	state := NewCollectionScanState([]IdxType{0}, bad)
	assert.Error(t, c.InitScan(state))
}

func Test_initScanWithOffset(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 16)

	state := NewCollectionScanState([]IdxType{0}, nil)
	require.NoError(t, c.InitScanWithOffset(state, 6))
	result := chunk.NewChunk([]common.LType{common.BigintType()}, 4)
	txn := newTxn(t, txnMgr).Data()
	var ids []int64
	for {
		result.Reset()
		require.NoError(t, c.Scan(txn, state, result))
		if result.Card() == 0 {
			break
		}
		for i := 0; i < result.Card(); i++ {
			ids = append(ids, result.Data[0].GetValue(i).I64)
		}
	}
	assert.Equal(t, seq(4, 16), ids)
}

func Test_fetch(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 10)
	deleter := newTxn(t, txnMgr)
	_, err := c.Delete(deleter.Data(), []RowType{3}, 1)
	require.NoError(t, err)
	require.NoError(t, txnMgr.Commit(deleter))

	result := chunk.NewChunk(testTypes(), 4)
	err = c.Fetch(newTxn(t, txnMgr).Data(), result, []IdxType{0, 1}, []RowType{1, 3, 9}, 3, &ColumnScanState{})
	require.NoError(t, err)
	require.Equal(t, 2, result.Card())
	assert.Equal(t, int64(1), result.Data[0].GetValue(0).I64)
	assert.Equal(t, "n9", result.Data[1].GetValue(1).Str)

	err = c.Fetch(newTxn(t, txnMgr).Data(), result, []IdxType{0}, []RowType{42}, 1, &ColumnScanState{})
	assert.Error(t, err)
}

func Test_alterTable(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 10)

	added, err := c.AddColumn(
		&ColumnDefinition{Name: "score", Type: common.BigintType()},
		NewExprExec(ConstExpr(chunk.NewBigintValue(7))))
	require.NoError(t, err)
	require.Len(t, added.Types(), 3)
	rows := scanRows(t, added, newTxn(t, txnMgr).Data(), []IdxType{0, 2}, nil)
	require.Len(t, rows, 10)
	for i, row := range rows {
		assert.Equal(t, int64(i), row[0].I64)
		assert.Equal(t, int64(7), row[1].I64)
	}

	nulls, err := c.AddColumn(&ColumnDefinition{Name: "note", Type: common.VarcharType()}, nil)
	require.NoError(t, err)
	for _, row := range scanRows(t, nulls, newTxn(t, txnMgr).Data(), []IdxType{2}, nil) {
		assert.True(t, row[0].IsNull)
	}

	restored, err := added.RemoveColumn(2)
	require.NoError(t, err)
	require.Len(t, restored.Types(), 2)
	assert.Equal(t, c.TotalRows(), restored.TotalRows())
	origGroups := c.RowGroups()
	restoredGroups := restored.RowGroups()
	require.Len(t, restoredGroups, len(origGroups))
	for i, rg := range origGroups {
		for j := range c.Types() {
			want, err := rg.GetColumn(IdxType(j))
			require.NoError(t, err)
			got, err := restoredGroups[i].GetColumn(IdxType(j))
			require.NoError(t, err)
			assert.Same(t, want, got)
		}
		require.NotNil(t, rg.GetVersionInfo())
		assert.Same(t, rg.GetVersionInfo(), restoredGroups[i].GetVersionInfo())
	}
	ids, _ := scanIds(t, restored, newTxn(t, txnMgr).Data(), nil)
	assert.Equal(t, seq(0, 10), ids)

	removed, err := added.RemoveColumn(0)
	require.NoError(t, err)
	require.Len(t, removed.Types(), 2)
	rows = scanRows(t, removed, newTxn(t, txnMgr).Data(), []IdxType{0, 1}, nil)
	require.Len(t, rows, 10)
	assert.Equal(t, "n4", rows[4][0].Str)
	assert.Equal(t, int64(7), rows[4][1].I64)

	altered, err := c.AlterType(0, common.VarcharType(),
		NewExprExec(CastExpr(ColumnExpr(0, common.BigintType()), common.VarcharType())))
	require.NoError(t, err)
	assert.True(t, altered.Types()[0].Equal(common.VarcharType()))
	rows = scanRows(t, altered, newTxn(t, txnMgr).Data(), []IdxType{0}, nil)
	require.Len(t, rows, 10)
	assert.Equal(t, "9", rows[9][0].Str)

	//the source is untouched
	ids, _ = scanIds(t, c, newTxn(t, txnMgr).Data(), nil)
	assert.Equal(t, seq(0, 10), ids)

	_, err = c.AlterType(1, common.BigintType(),
		NewExprExec(CastExpr(ColumnExpr(1, common.VarcharType()), common.BigintType())))
	assert.Error(t, err)
}

func Test_mergeStorage(t *testing.T) {
	txnMgr := NewTxnMgr()
	mgr := NewMemoryBlockMgr(testBlockSize)
	c := newTestCollection(mgr, txnMgr)
	appendCommitted(t, c, txnMgr, 0, 10)
	other := newTestCollection(mgr, txnMgr)
	appendCommitted(t, other, txnMgr, 100, 5)

	require.NoError(t, c.MergeStorage(other))
	assert.Equal(t, IdxType(15), c.TotalRows())
	assert.Equal(t, IdxType(0), other.TotalRows())
	assert.True(t, other.IsEmpty())

	ids, rowIds := scanIds(t, c, newTxn(t, txnMgr).Data(), nil)
	assert.Equal(t, append(seq(0, 10), seq(100, 105)...), ids)
	assert.Equal(t, seq(0, 15), rowIds)
	maxVal, _ := c.GetStats(0).Max()
	assert.Equal(t, int64(104), maxVal.I64)

	deleter := newTxn(t, txnMgr)
	_, err := c.Delete(deleter.Data(), []RowType{12}, 1)
	require.NoError(t, err)
	require.NoError(t, txnMgr.Commit(deleter))
	ids, _ = scanIds(t, c, newTxn(t, txnMgr).Data(), nil)
	assert.NotContains(t, ids, int64(102))
}

func Test_checkpointLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.db")
	mgr, err := NewFileBlockMgr(path, 4096, true)
	require.NoError(t, err)
	txnMgr := NewTxnMgr()
	c := newTestCollection(mgr, txnMgr)
	appendCommitted(t, c, txnMgr, 0, 10)
	txn := newTxn(t, txnMgr)
	_, err = c.Delete(txn.Data(), []RowType{4}, 1)
	require.NoError(t, err)
	require.NoError(t, c.Update(txn.Data(), []RowType{6}, []IdxType{1}, nameUpdate("six")))
	require.NoError(t, txnMgr.Commit(txn))

	require.NoError(t, c.Checkpoint())
	require.NoError(t, mgr.Close())

	mgr, err = NewFileBlockMgr(path, 0, false)
	require.NoError(t, err)
	defer mgr.Close()
	loadedMgr := NewTxnMgr()
	loaded, err := LoadRowGroupCollection(mgr, loadedMgr)
	require.NoError(t, err)
	assert.Equal(t, IdxType(10), loaded.TotalRows())
	assert.Equal(t, IdxType(2), loaded.RowGroupCount())
	assert.Equal(t, testLayout, loaded.Layout())
	assert.Equal(t, "items", loaded.Info().Table())
	rgs := loaded.RowGroups()
	assert.False(t, rgs[0].IsLoaded(0))
	assert.False(t, rgs[1].IsLoaded(1))

	reader := newTxn(t, loadedMgr)
	ids, _ := scanIds(t, loaded, reader.Data(), nil)
	assert.Equal(t, []int64{0, 1, 2, 3, 5, 6, 7, 8, 9}, ids)
	names := scanNames(t, loaded, reader.Data())
	assert.Equal(t, "six", names[5])
	assert.True(t, rgs[0].IsLoaded(0))

	minVal, has := loaded.GetStats(0).Min()
	require.True(t, has)
	assert.Equal(t, int64(0), minVal.I64)
	assert.InDelta(t, 10, float64(loaded.DistinctCount(0)), 1)

	//the loaded table takes new writes
	appendCommitted(t, loaded, loadedMgr, 10, 2)
	ids, _ = scanIds(t, loaded, newTxn(t, loadedMgr).Data(), nil)
	assert.Equal(t, []int64{0, 1, 2, 3, 5, 6, 7, 8, 9, 10, 11}, ids)
}

func Test_checkpointFreesBlocks(t *testing.T) {
	mgr := NewMemoryBlockMgr(256)
	txnMgr := NewTxnMgr()
	c := newTestCollection(mgr, txnMgr)
	appendCommitted(t, c, txnMgr, 0, 10)

	require.NoError(t, c.Checkpoint())
	assert.Equal(t, uint64(0), mgr.FreeBlocks())
	first := mgr.GetMetaBlock()
	require.NoError(t, c.Checkpoint())
	assert.NotEqual(t, first, mgr.GetMetaBlock())
	assert.Greater(t, mgr.FreeBlocks(), uint64(0))

	loaded, err := LoadRowGroupCollection(mgr, NewTxnMgr())
	require.NoError(t, err)
	assert.Equal(t, IdxType(10), loaded.TotalRows())

	freed := mgr.FreeBlocks()
	require.NoError(t, loaded.CommitDrop())
	assert.Greater(t, mgr.FreeBlocks(), freed)

	_, err = LoadRowGroupCollection(NewMemoryBlockMgr(256), NewTxnMgr())
	assert.Error(t, err)
}

func Test_lazyLoadFault(t *testing.T) {
	mgr := NewMemoryBlockMgr(256)
	txnMgr := NewTxnMgr()
	c := newTestCollection(mgr, txnMgr)
	appendCommitted(t, c, txnMgr, 0, 6)
	require.NoError(t, c.Checkpoint())

	loadedMgr := NewTxnMgr()
	loaded, err := LoadRowGroupCollection(mgr, loadedMgr)
	require.NoError(t, err)

	util.Open(util.FAULTS_SCOPE_STORAGE)
	defer util.Close(util.FAULTS_SCOPE_STORAGE)
	errInjected := errors.New("injected read error")
	util.Register(util.FAULTS_SCOPE_STORAGE, "block_read", nil, func([]string) error {
		return errInjected
	})
	state := NewCollectionScanState([]IdxType{0}, nil)
	err = loaded.InitScan(state)
	assert.ErrorIs(t, err, errInjected)
	assert.False(t, loaded.RowGroups()[0].IsLoaded(0))

	util.Unregister(util.FAULTS_SCOPE_STORAGE, "block_read")
	ids, _ := scanIds(t, loaded, newTxn(t, loadedMgr).Data(), nil)
	assert.Equal(t, seq(0, 6), ids)
	assert.True(t, loaded.RowGroups()[0].IsLoaded(0))
}

func scanCommitted(c *RowGroupCollection, columnIds []IdxType, scanType TableScanType) ([][]*chunk.Value, error) {
	state := NewCollectionScanState(columnIds, nil)
	err := c.InitScan(state)
	if err != nil {
		return nil, err
	}
	result := chunk.NewChunk(scanTypes(c, columnIds), int(c.Layout().VectorSize))
	var rows [][]*chunk.Value
	for {
		result.Reset()
		err = c.ScanCommitted(state, result, scanType)
		if err != nil {
			return nil, err
		}
		if result.Card() == 0 {
			return rows, nil
		}
		for i := 0; i < result.Card(); i++ {
			rows = append(rows, result.Row(i))
		}
	}
}

func Test_scanCommitted(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 8)

	txn := newTxn(t, txnMgr)
	_, err := c.Delete(txn.Data(), []RowType{1}, 1)
	require.NoError(t, err)
	require.NoError(t, c.Update(txn.Data(), []RowType{2}, []IdxType{1}, nameUpdate("two")))

	rows, err := scanCommitted(c, []IdxType{0, 1}, TableScanTypeCommittedRows)
	require.NoError(t, err)
	require.Len(t, rows, 8)
	assert.Equal(t, "n2", rows[2][1].Str)

	_, err = scanCommitted(c, []IdxType{1}, TableScanTypeCommittedRowsDisallowUpdates)
	assert.True(t, errors.Is(err, ErrUncommittedUpdates))
	_, err = scanCommitted(c, []IdxType{1}, TableScanTypeRegular)
	assert.True(t, errors.Is(err, ErrUnknownScanType))

	require.NoError(t, txnMgr.Commit(txn))
	rows, err = scanCommitted(c, []IdxType{0, 1}, TableScanTypeCommittedRowsOmitPermanentlyDeleted)
	require.NoError(t, err)
	require.Len(t, rows, 7)
	assert.Equal(t, int64(2), rows[1][0].I64)
	assert.Equal(t, "two", rows[1][1].Str)
}

func Test_concurrentScanDelete(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 16)

	eg := errgroup.Group{}
	eg.Go(func() error {
		for i := 0; i < 8; i++ {
			txn, err := txnMgr.NewTxn("deleter")
			if err != nil {
				return err
			}
			_, err = c.Delete(txn.Data(), []RowType{RowType(i)}, 1)
			if err != nil {
				txnMgr.Rollback(txn)
				return err
			}
			err = txnMgr.Commit(txn)
			if err != nil {
				return err
			}
		}
		return nil
	})
	for i := 0; i < 4; i++ {
		eg.Go(func() error {
			for j := 0; j < 10; j++ {
				txn, err := txnMgr.NewTxn("scanner")
				if err != nil {
					return err
				}
				state := NewCollectionScanState([]IdxType{0}, nil)
				err = c.InitScan(state)
				if err != nil {
					return err
				}
				result := chunk.NewChunk([]common.LType{common.BigintType()}, 4)
				total := 0
				for {
					result.Reset()
					err = c.Scan(txn.Data(), state, result)
					if err != nil {
						return err
					}
					if result.Card() == 0 {
						break
					}
					total += result.Card()
				}
				txnMgr.Rollback(txn)
				if total < 8 || total > 16 {
					return fmt.Errorf("scanned %d rows", total)
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	ids, _ := scanIds(t, c, newTxn(t, txnMgr).Data(), nil)
	assert.Equal(t, seq(8, 16), ids)
}

func Test_collectionPrint(t *testing.T) {
	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	appendCommitted(t, c, txnMgr, 0, 10)

	tree := treeprint.New()
	c.Print(tree)
	assert.Contains(t, tree.String(), "rows 10")
	assert.Contains(t, c.String(), "row group [8, 10)")

	info, err := c.GetStorageInfo()
	require.NoError(t, err)
	assert.Len(t, info.ColumnSegments, 6)
	assert.False(t, info.ColumnSegments[0].Persistent)
	assert.NotEmpty(t, info.String())

	require.NoError(t, c.CommitDropColumn(1))
	ids, _ := scanIds(t, c, newTxn(t, txnMgr).Data(), nil)
	assert.Equal(t, seq(0, 10), ids)
}
