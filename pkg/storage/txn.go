package storage

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/util"
)

// TxnData is the snapshot a transaction reads with.
type TxnData struct {
	_undo      UndoRecorder
	_id        TxnType
	_startTime TxnType
}

func NewTxnData(id, startTime TxnType) TxnData {
	return TxnData{
		_id:        id,
		_startTime: startTime,
	}
}

func (data TxnData) Id() TxnType {
	return data._id
}

func (data TxnData) StartTime() TxnType {
	return data._startTime
}

func (data TxnData) String() string {
	return fmt.Sprintf("[%d : %d]", data._id, data._startTime)
}

// TxnManager reports the oldest active transaction.
type TxnManager interface {
	// Lowest returns the id and the start time of the oldest
	// active transaction.
	Lowest() (TxnType, TxnType)
	// Advance makes later timestamps greater than commitId and later
	// transaction ids greater than txnId.
	Advance(commitId TxnType, txnId TxnType)
}

// UndoRecorder collects what a transaction changed so it can be
// committed or rolled back.
type UndoRecorder interface {
	PushAppend(collection *RowGroupCollection, rowStart IdxType, rowCount IdxType)
	PushDelete(rowGroup *RowGroup, info *ChunkInfo, rows []RowType, count IdxType, baseRow IdxType)
	PushUpdate(info *UpdateInfo)
}

var _ TxnManager = &TxnMgr{}
var _ UndoRecorder = &Txn{}

type TxnMgr struct {
	_curStartTs        TxnType
	_curTxnId          TxnType
	_lowestActiveId    TxnType
	_lowestActiveStart TxnType
	_activeTxns        []*Txn
	_lock              *util.ReentryLock
}

func NewTxnMgr() *TxnMgr {
	return &TxnMgr{
		_curStartTs:        2,
		_curTxnId:          TxnIdStart,
		_lowestActiveId:    TxnIdStart,
		_lowestActiveStart: 2,
		_lock:              util.NewReentryLock(),
	}
}

func (txnMgr *TxnMgr) NewTxn(name string) (*Txn, error) {
	txnMgr._lock.Lock()
	defer txnMgr._lock.Unlock()
	if txnMgr._curStartTs >= TxnIdStart {
		return nil, fmt.Errorf("invalid txn id")
	}
	startTime := txnMgr._curStartTs
	txnMgr._curStartTs++
	txnId := txnMgr._curTxnId
	txnMgr._curTxnId++
	if len(txnMgr._activeTxns) == 0 {
		txnMgr._lowestActiveId = txnId
		txnMgr._lowestActiveStart = startTime
	}
	txn := &Txn{
		_txnMgr:    txnMgr,
		_name:      name,
		_startTime: startTime,
		_id:        txnId,
	}
	txnMgr._activeTxns = append(txnMgr._activeTxns, txn)
	return txn, nil
}

// Commit publishes the changes of txn. The manager lock is held while
// the markers are rewritten, so no new snapshot sees half a commit.
func (txnMgr *TxnMgr) Commit(txn *Txn) error {
	txnMgr._lock.Lock()
	defer txnMgr._lock.Unlock()
	commitId := txnMgr._curStartTs
	txnMgr._curStartTs++
	err := txn.Commit(commitId)
	if err != nil {
		util.Warn("commit failed, rollback",
			zap.String("txn", txn.String()),
			zap.Error(err))
		txn._commitId = 0
		txn.Rollback()
	}
	txnMgr.removeUnsafe(txn)
	return err
}

func (txnMgr *TxnMgr) Rollback(txn *Txn) {
	txnMgr._lock.Lock()
	defer txnMgr._lock.Unlock()
	txn.Rollback()
	txnMgr.removeUnsafe(txn)
}

func (txnMgr *TxnMgr) removeUnsafe(txn *Txn) {
	lStartTime := txnMgr._curStartTs
	lTxnId := txnMgr._curTxnId
	txnMgr._activeTxns = util.RemoveIf(txnMgr._activeTxns, func(t *Txn) bool {
		return t._id == txn._id
	})
	for _, act := range txnMgr._activeTxns {
		lStartTime = min(lStartTime, act._startTime)
		lTxnId = min(lTxnId, act._id)
	}
	txnMgr._lowestActiveStart = lStartTime
	txnMgr._lowestActiveId = lTxnId
}

// Lowest returns id, start. Without active transactions these are the
// values the next transaction will get.
func (txnMgr *TxnMgr) Lowest() (TxnType, TxnType) {
	txnMgr._lock.Lock()
	defer txnMgr._lock.Unlock()
	if len(txnMgr._activeTxns) == 0 {
		return txnMgr._curTxnId, txnMgr._curStartTs
	}
	return txnMgr._lowestActiveId, txnMgr._lowestActiveStart
}

// Advance moves the clocks past the ids of a loaded checkpoint.
func (txnMgr *TxnMgr) Advance(commitId TxnType, txnId TxnType) {
	txnMgr._lock.Lock()
	defer txnMgr._lock.Unlock()
	if commitId >= txnMgr._curStartTs {
		txnMgr._curStartTs = commitId + 1
	}
	if txnId >= txnMgr._curTxnId {
		txnMgr._curTxnId = txnId + 1
	}
}

func (txnMgr *TxnMgr) ActiveCount() int {
	txnMgr._lock.Lock()
	defer txnMgr._lock.Unlock()
	return len(txnMgr._activeTxns)
}

type Txn struct {
	_name      string
	_txnMgr    *TxnMgr
	_startTime TxnType
	_id        TxnType
	_commitId  TxnType
	_undo      []undoEntry
}

func (txn *Txn) String() string {
	return fmt.Sprintf("[%s %d : %d %d]", txn._name, txn._id, txn._startTime, txn._commitId)
}

// Data is the snapshot of txn. Changes made through it are recorded
// in the undo log of txn.
func (txn *Txn) Data() TxnData {
	return TxnData{
		_undo:      txn,
		_id:        txn._id,
		_startTime: txn._startTime,
	}
}

func (txn *Txn) Id() TxnType {
	return txn._id
}

func (txn *Txn) StartTime() TxnType {
	return txn._startTime
}

func (txn *Txn) CommitId() TxnType {
	return txn._commitId
}

func (txn *Txn) Changed() bool {
	return len(txn._undo) != 0
}

func (txn *Txn) Commit(commitId TxnType) error {
	txn._commitId = commitId
	if action := util.Check(util.FAULTS_SCOPE_TXN, "commit"); action != nil {
		if err := action.Run(); err != nil {
			return err
		}
	}
	for _, entry := range txn._undo {
		entry.commit(commitId)
	}
	return nil
}

// Rollback undoes the changes in reverse order.
func (txn *Txn) Rollback() {
	for i := len(txn._undo) - 1; i >= 0; i-- {
		txn._undo[i].rollback()
	}
	txn._undo = nil
}

func (txn *Txn) PushDelete(
	rowGroup *RowGroup,
	info *ChunkInfo,
	rows []RowType,
	count IdxType,
	baseRow IdxType,
) {
	entry := &DeleteInfo{
		_rowGroup: rowGroup,
		_vinfo:    info,
		_baseRow:  baseRow,
		_rows:     roaring.New(),
	}
	for i := IdxType(0); i < count; i++ {
		entry._rows.Add(uint32(rows[i]))
	}
	txn._undo = append(txn._undo, entry)
}

func (txn *Txn) PushAppend(
	collection *RowGroupCollection,
	rowStart IdxType,
	rowCount IdxType,
) {
	txn._undo = append(txn._undo, &AppendInfo{
		_collection: collection,
		_startRow:   rowStart,
		_count:      rowCount,
	})
}

func (txn *Txn) PushUpdate(info *UpdateInfo) {
	txn._undo = append(txn._undo, info)
}

type undoEntry interface {
	commit(commitId TxnType)
	rollback()
}

type AppendInfo struct {
	_collection *RowGroupCollection
	_startRow   IdxType
	_count      IdxType
}

func (info *AppendInfo) commit(commitId TxnType) {
	info._collection.CommitAppend(commitId, info._startRow, info._count)
}

func (info *AppendInfo) rollback() {
	info._collection.RevertAppendInternal(info._startRow, info._count)
}

// DeleteInfo holds the rows of one vector a transaction deleted,
// relative to the first row of the vector.
type DeleteInfo struct {
	_rowGroup *RowGroup
	_vinfo    *ChunkInfo
	_baseRow  IdxType
	_rows     *roaring.Bitmap
}

func (info *DeleteInfo) rowList() []RowType {
	rows := make([]RowType, 0, info._rows.GetCardinality())
	it := info._rows.Iterator()
	for it.HasNext() {
		rows = append(rows, RowType(it.Next()))
	}
	return rows
}

func (info *DeleteInfo) commit(commitId TxnType) {
	rows := info.rowList()
	info._vinfo.CommitDelete(commitId, rows, IdxType(len(rows)))
}

func (info *DeleteInfo) rollback() {
	rows := info.rowList()
	info._vinfo.CommitDelete(NotDeletedId, rows, IdxType(len(rows)))
}

func (info *UpdateInfo) commit(commitId TxnType) {
	info._segment.CommitUpdate(info, commitId)
}

func (info *UpdateInfo) rollback() {
	info._segment.RollbackUpdate(info)
}
