package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/colstore/pkg/util"
)

func Test_txnMgrLowest(t *testing.T) {
	txnMgr := NewTxnMgr()
	id, start := txnMgr.Lowest()
	assert.Equal(t, TxnIdStart, id)
	assert.Equal(t, TxnType(2), start)

	a, err := txnMgr.NewTxn("a")
	require.NoError(t, err)
	b, err := txnMgr.NewTxn("b")
	require.NoError(t, err)
	assert.Equal(t, TxnIdStart, a.Id())
	assert.Equal(t, TxnType(2), a.StartTime())
	assert.Equal(t, TxnIdStart+1, b.Id())
	assert.Equal(t, TxnType(3), b.StartTime())
	assert.Equal(t, 2, txnMgr.ActiveCount())

	id, start = txnMgr.Lowest()
	assert.Equal(t, a.Id(), id)
	assert.Equal(t, a.StartTime(), start)

	require.NoError(t, txnMgr.Commit(a))
	assert.Equal(t, TxnType(4), a.CommitId())
	id, start = txnMgr.Lowest()
	assert.Equal(t, b.Id(), id)
	assert.Equal(t, b.StartTime(), start)

	txnMgr.Rollback(b)
	assert.Equal(t, 0, txnMgr.ActiveCount())
	id, start = txnMgr.Lowest()
	assert.Equal(t, TxnIdStart+2, id)
	assert.Equal(t, TxnType(5), start)
}

func Test_txnMgrAdvance(t *testing.T) {
	txnMgr := NewTxnMgr()
	txnMgr.Advance(100, TxnIdStart+50)
	txn, err := txnMgr.NewTxn("after load")
	require.NoError(t, err)
	assert.Equal(t, TxnType(101), txn.StartTime())
	assert.Equal(t, TxnIdStart+51, txn.Id())

	//never moves back
	txnMgr.Advance(3, TxnIdStart)
	next, err := txnMgr.NewTxn("next")
	require.NoError(t, err)
	assert.Equal(t, TxnType(102), next.StartTime())
	assert.Equal(t, TxnIdStart+52, next.Id())
}

func Test_txnCommitFault(t *testing.T) {
	util.Open(util.FAULTS_SCOPE_TXN)
	defer util.Close(util.FAULTS_SCOPE_TXN)

	txnMgr := NewTxnMgr()
	c := newTestCollection(NewMemoryBlockMgr(testBlockSize), txnMgr)
	txn, err := txnMgr.NewTxn("faulty")
	require.NoError(t, err)
	require.NoError(t, c.AppendData(txn.Data(), makeChunk(0, 4)))
	assert.True(t, txn.Changed())
	assert.Equal(t, IdxType(4), c.TotalRows())

	errInjected := errors.New("injected commit error")
	util.Register(util.FAULTS_SCOPE_TXN, "commit", nil, func([]string) error {
		return errInjected
	})
	err = txnMgr.Commit(txn)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, TxnType(0), txn.CommitId())
	assert.False(t, txn.Changed())
	assert.Equal(t, 0, txnMgr.ActiveCount())
	assert.Equal(t, IdxType(0), c.TotalRows())

	util.Unregister(util.FAULTS_SCOPE_TXN, "commit")
	reader, err := txnMgr.NewTxn("reader")
	require.NoError(t, err)
	ids, _ := scanIds(t, c, reader.Data(), nil)
	assert.Empty(t, ids)
}
