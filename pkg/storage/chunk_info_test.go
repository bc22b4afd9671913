package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/util"
)

func selected(sel *chunk.SelectVector, cnt IdxType) []int {
	ret := make([]int, cnt)
	for i := range ret {
		ret[i] = sel.GetIndex(i)
	}
	return ret
}

func Test_chunkInfoVisibility(t *testing.T) {
	txnA := TxnIdStart + 1
	txnB := TxnIdStart + 2
	info := NewVectorInfo(0, 4)
	info.Append(0, 4, txnA)

	//uncommitted insert is visible to its own transaction only
	sel := chunk.NewSelectVector(4)
	assert.Equal(t, IdxType(4), info.GetSelVector(NewTxnData(txnA, 3), sel, 4))
	assert.Equal(t, IdxType(0), info.GetSelVector(NewTxnData(TxnIdStart+9, 100), sel, 4))

	info.CommitAppend(10, 0, 4)
	rows := []RowType{1}
	cnt, err := info.Delete(txnB, rows, 1)
	require.NoError(t, err)
	assert.Equal(t, IdxType(1), cnt)
	info.CommitDelete(20, []RowType{1}, 1)

	sel = chunk.NewSelectVector(4)
	cnt = info.GetSelVector(NewTxnData(TxnIdStart+5, 20), sel, 4)
	assert.Equal(t, []int{0, 2, 3}, selected(sel, cnt))

	sel = chunk.NewSelectVector(4)
	cnt = info.GetSelVector(NewTxnData(TxnIdStart+5, 15), sel, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, selected(sel, cnt))

	sel = chunk.NewSelectVector(4)
	assert.Equal(t, IdxType(0), info.GetSelVector(NewTxnData(TxnIdStart+5, 5), sel, 4))

	assert.True(t, info.Fetch(NewTxnData(TxnIdStart+5, 15), 1))
	assert.False(t, info.Fetch(NewTxnData(TxnIdStart+5, 25), 1))
	assert.True(t, info.Fetch(NewTxnData(TxnIdStart+5, 25), 2))
	assert.True(t, info.HasDeletes())
}

func Test_chunkInfoCommittedSelVector(t *testing.T) {
	info := NewVectorInfo(0, 4)
	info.Append(0, 4, TxnIdStart+1)
	info.CommitAppend(10, 0, 4)
	_, err := info.Delete(TxnIdStart+2, []RowType{1}, 1)
	require.NoError(t, err)

	//uncommitted delete keeps the row
	sel := chunk.NewSelectVector(4)
	assert.Equal(t, IdxType(4), info.GetCommittedSelVector(15, TxnIdStart+1, sel, 4))

	info.CommitDelete(20, []RowType{1}, 1)
	//oldest snapshot before the delete still needs the row
	sel = chunk.NewSelectVector(4)
	assert.Equal(t, IdxType(4), info.GetCommittedSelVector(15, TxnIdStart+5, sel, 4))

	sel = chunk.NewSelectVector(4)
	cnt := info.GetCommittedSelVector(25, TxnIdStart+5, sel, 4)
	assert.Equal(t, []int{0, 2, 3}, selected(sel, cnt))
}

func Test_chunkInfoPartialAppend(t *testing.T) {
	info := NewVectorInfo(4, 4)
	info.Append(0, 2, TxnIdStart+1)
	info.Append(2, 4, TxnIdStart+2)
	info.CommitAppend(10, 0, 2)

	sel := chunk.NewSelectVector(4)
	cnt := info.GetSelVector(NewTxnData(TxnIdStart+3, 12), sel, 4)
	assert.Equal(t, []int{0, 1}, selected(sel, cnt))

	sel = chunk.NewSelectVector(4)
	cnt = info.GetSelVector(NewTxnData(TxnIdStart+2, 12), sel, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, selected(sel, cnt))

	commit, txn := info.maxIds()
	assert.Equal(t, TxnType(10), commit)
	assert.Equal(t, TxnIdStart+2, txn)
}

func Test_chunkInfoToVectorInfo(t *testing.T) {
	info := NewConstantInfo(8, 4)
	info._insertId.Store(10)
	assert.False(t, info.HasDeletes())

	vinfo := info.ToVectorInfo()
	assert.Equal(t, VECTOR_INFO, vinfo.Type())
	assert.Equal(t, IdxType(8), vinfo.Start())
	assert.False(t, vinfo.HasDeletes())
	for _, start := range []TxnType{5, 15} {
		txn := NewTxnData(TxnIdStart+1, start)
		assert.Equal(t,
			info.GetSelVector(txn, chunk.NewSelectVector(4), 4),
			vinfo.GetSelVector(txn, chunk.NewSelectVector(4), 4))
	}

	deleted := NewConstantInfo(0, 4)
	deleted._insertId.Store(10)
	deleted._deleteId.Store(20)
	assert.True(t, deleted.HasDeletes())
	vinfo = deleted.ToVectorInfo()
	assert.True(t, vinfo.HasDeletes())
	assert.Equal(t, IdxType(0), vinfo.GetSelVector(NewTxnData(TxnIdStart+1, 25), chunk.NewSelectVector(4), 4))
	assert.Equal(t, IdxType(4), vinfo.GetSelVector(NewTxnData(TxnIdStart+1, 15), chunk.NewSelectVector(4), 4))
}

func Test_chunkInfoDelete(t *testing.T) {
	info := NewVectorInfo(0, 4)
	info.Append(0, 4, TxnIdStart+1)
	info.CommitAppend(10, 0, 4)
	txnB := TxnIdStart + 2
	txnC := TxnIdStart + 3

	cnt, err := info.Delete(txnB, []RowType{1}, 1)
	require.NoError(t, err)
	assert.Equal(t, IdxType(1), cnt)

	//same transaction again
	rows := []RowType{1, 3}
	cnt, err = info.Delete(txnB, rows, 2)
	require.NoError(t, err)
	assert.Equal(t, IdxType(1), cnt)
	assert.Equal(t, RowType(3), rows[0])

	//row 2 is marked before the conflict on row 1 and must be undone
	cnt, err = info.Delete(txnC, []RowType{2, 1}, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeleteConflict))
	assert.Equal(t, IdxType(0), cnt)
	assert.Equal(t, uint64(NotDeletedId), info._deleted[2].Load())
	assert.Equal(t, uint64(txnB), info._deleted[1].Load())

	//rollback of txnB
	info.CommitDelete(NotDeletedId, []RowType{1, 3}, 2)
	assert.False(t, info.HasDeletes())
	cnt, err = info.Delete(txnC, []RowType{2, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, IdxType(2), cnt)
}

func Test_versionNodeSerialize(t *testing.T) {
	layout := Layout{VectorSize: 4, VectorCount: 2, SegmentSize: 4}
	node := NewVersionNode(layout.VectorCount)
	constant := NewConstantInfo(16, 4)
	constant._insertId.Store(7)
	node.Set(0, constant)
	vinfo := NewVectorInfo(20, 4)
	vinfo.Append(0, 3, TxnIdStart+4)
	vinfo.CommitAppend(9, 0, 3)
	_, err := vinfo.Delete(TxnIdStart+5, []RowType{2}, 1)
	require.NoError(t, err)
	vinfo.CommitDelete(11, []RowType{2}, 1)
	node.Set(1, vinfo)

	serial := NewBufferedSerialize(nil)
	require.NoError(t, CheckpointDeletes(node, serial))
	data := serial.Bytes()

	got, err := DeserializeDeletes(NewBufferedDeserializer(data), 16, layout)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, CONSTANT_INFO, got.Get(0).Type())
	assert.Equal(t, IdxType(16), got.Get(0).Start())
	assert.Equal(t, VECTOR_INFO, got.Get(1).Type())
	assert.Equal(t, IdxType(20), got.Get(1).Start())

	txn := NewTxnData(TxnIdStart+9, 12)
	sel := chunk.NewSelectVector(4)
	cnt := got.Get(1).GetSelVector(txn, sel, 3)
	assert.Equal(t, []int{0, 1}, selected(sel, cnt))

	again := NewBufferedSerialize(nil)
	require.NoError(t, CheckpointDeletes(got, again))
	assert.Equal(t, data, again.Bytes())

	commit, maxTxn := got.MaxIds()
	assert.Equal(t, TxnType(11), commit)
	assert.Equal(t, TxnType(0), maxTxn)
}

func Test_versionNodeSerializeEmpty(t *testing.T) {
	layout := Layout{VectorSize: 4, VectorCount: 2, SegmentSize: 4}
	serial := NewBufferedSerialize(nil)
	require.NoError(t, CheckpointDeletes(nil, serial))
	got, err := DeserializeDeletes(NewBufferedDeserializer(serial.Bytes()), 0, layout)
	require.NoError(t, err)
	assert.Nil(t, got)

	var node *VersionNode
	commit, txn := node.MaxIds()
	assert.Zero(t, commit)
	assert.Zero(t, txn)
}

func Test_versionNodeCorrupted(t *testing.T) {
	layout := Layout{VectorSize: 4, VectorCount: 2, SegmentSize: 4}
	build := func(write func(serial util.Serialize)) []byte {
		serial := NewBufferedSerialize(nil)
		write(serial)
		return serial.Bytes()
	}

	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "too many slots",
			data: build(func(serial util.Serialize) {
				_ = util.Write[uint64](3, serial)
			}),
		},
		{
			name: "slot out of range",
			data: build(func(serial util.Serialize) {
				_ = util.Write[uint64](1, serial)
				_ = util.Write[uint64](5, serial)
			}),
		},
		{
			name: "unknown tag",
			data: build(func(serial util.Serialize) {
				_ = util.Write[uint64](1, serial)
				_ = util.Write[uint64](0, serial)
				_ = util.Write[uint8](7, serial)
			}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializeDeletes(NewBufferedDeserializer(tt.data), 0, layout)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorrupted))
		})
	}
}
