package storage

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/util"
)

type ChunkInfoType uint8

const (
	CONSTANT_INFO ChunkInfoType = 0
	VECTOR_INFO   ChunkInfoType = 1
)

func (typ ChunkInfoType) String() string {
	switch typ {
	case CONSTANT_INFO:
		return "constant"
	case VECTOR_INFO:
		return "vector"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(typ))
	}
}

// ChunkInfo holds the insert and delete markers of one vector slot.
// A CONSTANT_INFO covers a full vector with a single insert id and
// a single delete id. A VECTOR_INFO has one marker pair per row.
type ChunkInfo struct {
	_type  ChunkInfoType
	_start IdxType
	_size  IdxType
	//constant info
	_insertId atomic.Uint64
	_deleteId atomic.Uint64
	//vector info
	_sameInsertedId atomic.Bool
	_anyDeleted     atomic.Bool
	_inserted       []atomic.Uint64
	_deleted        []atomic.Uint64
}

func NewConstantInfo(start IdxType, size IdxType) *ChunkInfo {
	ret := &ChunkInfo{
		_type:  CONSTANT_INFO,
		_start: start,
		_size:  size,
	}
	ret._deleteId.Store(uint64(NotDeletedId))
	return ret
}

func NewVectorInfo(start IdxType, size IdxType) *ChunkInfo {
	ret := &ChunkInfo{
		_type:     VECTOR_INFO,
		_start:    start,
		_size:     size,
		_inserted: make([]atomic.Uint64, size),
		_deleted:  make([]atomic.Uint64, size),
	}
	ret._sameInsertedId.Store(true)
	ret._deleteId.Store(uint64(NotDeletedId))
	for i := IdxType(0); i < size; i++ {
		ret._deleted[i].Store(uint64(NotDeletedId))
	}
	return ret
}

func (info *ChunkInfo) Type() ChunkInfoType {
	return info._type
}

func (info *ChunkInfo) Start() IdxType {
	return info._start
}

func (info *ChunkInfo) SetStart(start IdxType) {
	info._start = start
}

// ToVectorInfo converts a constant info into an equivalent per-row
// info. Every row keeps the insert id and the delete id.
func (info *ChunkInfo) ToVectorInfo() *ChunkInfo {
	util.AssertFunc(info._type == CONSTANT_INFO)
	ret := NewVectorInfo(info._start, info._size)
	insertId := info._insertId.Load()
	deleteId := info._deleteId.Load()
	ret._insertId.Store(insertId)
	for i := IdxType(0); i < info._size; i++ {
		ret._inserted[i].Store(insertId)
		ret._deleted[i].Store(deleteId)
	}
	ret._anyDeleted.Store(deleteId != uint64(NotDeletedId))
	return ret
}

func (info *ChunkInfo) Append(start IdxType, end IdxType, commitId TxnType) {
	util.AssertFunc(info._type == VECTOR_INFO)
	if start == 0 {
		info._insertId.Store(uint64(commitId))
	} else if info._insertId.Load() != uint64(commitId) {
		info._sameInsertedId.Store(false)
		info._insertId.Store(uint64(NotDeletedId))
	}
	for i := start; i < end; i++ {
		info._inserted[i].Store(uint64(commitId))
	}
}

func (info *ChunkInfo) CommitAppend(
	commitId TxnType,
	start IdxType, end IdxType) {
	switch info._type {
	case CONSTANT_INFO:
		util.AssertFunc(start == 0 && end == info._size)
		info._insertId.Store(uint64(commitId))
	case VECTOR_INFO:
		if info._sameInsertedId.Load() {
			info._insertId.Store(uint64(commitId))
		}
		for i := start; i < end; i++ {
			info._inserted[i].Store(uint64(commitId))
		}
	}
}

// Delete marks rows as deleted by txnId. Rows already deleted by the
// same transaction are dropped from rows. The deleted rows are moved
// to the front of rows and their count is returned.
func (info *ChunkInfo) Delete(
	txnId TxnType,
	rows []RowType,
	count IdxType) (IdxType, error) {
	util.AssertFunc(info._type == VECTOR_INFO)
	deleteTuples := IdxType(0)
	for i := IdxType(0); i < count; i++ {
		old := TxnType(info._deleted[rows[i]].Load())
		if old == txnId {
			continue
		}
		if old != NotDeletedId {
			//undo the rows marked in this call
			for j := IdxType(0); j < deleteTuples; j++ {
				info._deleted[rows[j]].Store(uint64(NotDeletedId))
			}
			util.Warn("delete conflict",
				zap.Uint64("txn", uint64(txnId)),
				zap.Uint64("deletedBy", uint64(old)),
				zap.Uint64("row", uint64(info._start)+uint64(rows[i])))
			return 0, fmt.Errorf("%w: row %d already deleted by %d",
				ErrDeleteConflict, uint64(info._start)+uint64(rows[i]), old)
		}
		info._deleted[rows[i]].Store(uint64(txnId))
		rows[deleteTuples] = rows[i]
		deleteTuples++
	}
	if deleteTuples > 0 {
		info._anyDeleted.Store(true)
	}
	return deleteTuples, nil
}

// CommitDelete rewrites the delete markers of rows.
// Rollback passes NotDeletedId.
func (info *ChunkInfo) CommitDelete(
	commitId TxnType,
	rows []RowType,
	count IdxType) {
	if info._type == VECTOR_INFO {
		for i := IdxType(0); i < count; i++ {
			info._deleted[rows[i]].Store(uint64(commitId))
		}
	}
}

func (info *ChunkInfo) HasDeletes() bool {
	switch info._type {
	case CONSTANT_INFO:
		return info._deleteId.Load() != uint64(NotDeletedId)
	default:
		if !info._anyDeleted.Load() {
			return false
		}
		for i := IdxType(0); i < info._size; i++ {
			if info._deleted[i].Load() != uint64(NotDeletedId) {
				return true
			}
		}
		return false
	}
}

func (info *ChunkInfo) GetSelVector(
	txn TxnData,
	sel *chunk.SelectVector,
	maxCount IdxType) IdxType {
	return info.templatedGetSelVector(txn._startTime, txn._id, sel, maxCount, TxnVersionOp{})
}

func (info *ChunkInfo) GetCommittedSelVector(
	minStartTime TxnType,
	minTxnId TxnType,
	sel *chunk.SelectVector,
	maxCount IdxType) IdxType {
	return info.templatedGetSelVector(minStartTime, minTxnId, sel, maxCount, CommittedVersionOp{})
}

// Fetch reports whether row is visible to txn.
func (info *ChunkInfo) Fetch(txn TxnData, row IdxType) bool {
	op := TxnVersionOp{}
	switch info._type {
	case CONSTANT_INFO:
		return op.UseInsertedVersion(txn._startTime, txn._id, TxnType(info._insertId.Load())) &&
			op.UseDeletedVersion(txn._startTime, txn._id, TxnType(info._deleteId.Load()))
	default:
		return op.UseInsertedVersion(txn._startTime, txn._id, TxnType(info._inserted[row].Load())) &&
			op.UseDeletedVersion(txn._startTime, txn._id, TxnType(info._deleted[row].Load()))
	}
}

func (info *ChunkInfo) templatedGetSelVector(
	startTime TxnType,
	txnId TxnType,
	sel *chunk.SelectVector,
	maxCount IdxType,
	op VersionOp,
) IdxType {
	if info._type == CONSTANT_INFO {
		if op.UseInsertedVersion(startTime, txnId, TxnType(info._insertId.Load())) &&
			op.UseDeletedVersion(startTime, txnId, TxnType(info._deleteId.Load())) {
			return maxCount
		}
		return 0
	}
	count := IdxType(0)
	if info._sameInsertedId.Load() && !info._anyDeleted.Load() {
		if op.UseInsertedVersion(startTime, txnId, TxnType(info._insertId.Load())) {
			return maxCount
		}
		return 0
	} else if info._sameInsertedId.Load() {
		if !op.UseInsertedVersion(startTime, txnId, TxnType(info._insertId.Load())) {
			return 0
		}
		for i := IdxType(0); i < maxCount; i++ {
			if op.UseDeletedVersion(startTime, txnId, TxnType(info._deleted[i].Load())) {
				sel.SetIndex(int(count), int(i))
				count++
			}
		}
	} else if !info._anyDeleted.Load() {
		for i := IdxType(0); i < maxCount; i++ {
			if op.UseInsertedVersion(startTime, txnId, TxnType(info._inserted[i].Load())) {
				sel.SetIndex(int(count), int(i))
				count++
			}
		}
	} else {
		for i := IdxType(0); i < maxCount; i++ {
			if op.UseInsertedVersion(startTime, txnId, TxnType(info._inserted[i].Load())) &&
				op.UseDeletedVersion(startTime, txnId, TxnType(info._deleted[i].Load())) {
				sel.SetIndex(int(count), int(i))
				count++
			}
		}
	}
	return count
}

func (info *ChunkInfo) Serialize(serial util.Serialize) error {
	err := util.Write[uint8](uint8(info._type), serial)
	if err != nil {
		return err
	}
	switch info._type {
	case CONSTANT_INFO:
		err = util.Write[uint64](info._insertId.Load(), serial)
		if err != nil {
			return err
		}
		return util.Write[uint64](info._deleteId.Load(), serial)
	case VECTOR_INFO:
		err = util.Write[uint64](info._insertId.Load(), serial)
		if err != nil {
			return err
		}
		err = util.Write[bool](info._sameInsertedId.Load(), serial)
		if err != nil {
			return err
		}
		err = util.Write[bool](info._anyDeleted.Load(), serial)
		if err != nil {
			return err
		}
		for i := IdxType(0); i < info._size; i++ {
			err = util.Write[uint64](info._inserted[i].Load(), serial)
			if err != nil {
				return err
			}
		}
		for i := IdxType(0); i < info._size; i++ {
			err = util.Write[uint64](info._deleted[i].Load(), serial)
			if err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: chunk info type %v", ErrCorrupted, info._type)
	}
}

func DeserializeChunkInfo(deserial util.Deserialize, start IdxType, size IdxType) (*ChunkInfo, error) {
	var tag uint8
	err := util.Read[uint8](&tag, deserial)
	if err != nil {
		return nil, err
	}
	var val uint64
	switch ChunkInfoType(tag) {
	case CONSTANT_INFO:
		ret := NewConstantInfo(start, size)
		if err = util.Read[uint64](&val, deserial); err != nil {
			return nil, err
		}
		ret._insertId.Store(val)
		if err = util.Read[uint64](&val, deserial); err != nil {
			return nil, err
		}
		ret._deleteId.Store(val)
		return ret, nil
	case VECTOR_INFO:
		ret := NewVectorInfo(start, size)
		if err = util.Read[uint64](&val, deserial); err != nil {
			return nil, err
		}
		ret._insertId.Store(val)
		var flag bool
		if err = util.Read[bool](&flag, deserial); err != nil {
			return nil, err
		}
		ret._sameInsertedId.Store(flag)
		if err = util.Read[bool](&flag, deserial); err != nil {
			return nil, err
		}
		ret._anyDeleted.Store(flag)
		for i := IdxType(0); i < size; i++ {
			if err = util.Read[uint64](&val, deserial); err != nil {
				return nil, err
			}
			ret._inserted[i].Store(val)
		}
		for i := IdxType(0); i < size; i++ {
			if err = util.Read[uint64](&val, deserial); err != nil {
				return nil, err
			}
			ret._deleted[i].Store(val)
		}
		return ret, nil
	default:
		util.Error("unknown chunk info tag", zap.Uint8("tag", tag))
		return nil, fmt.Errorf("%w: unknown chunk info tag %d", ErrCorrupted, tag)
	}
}

// maxIds returns the greatest commit id and the greatest transaction
// id among the markers.
func (info *ChunkInfo) maxIds() (TxnType, TxnType) {
	var maxCommit, maxTxn TxnType
	see := func(raw uint64) {
		id := TxnType(raw)
		switch {
		case id == NotDeletedId:
		case id >= TxnIdStart:
			maxTxn = max(maxTxn, id)
		default:
			maxCommit = max(maxCommit, id)
		}
	}
	switch info._type {
	case CONSTANT_INFO:
		see(info._insertId.Load())
		see(info._deleteId.Load())
	default:
		for i := IdxType(0); i < info._size; i++ {
			see(info._inserted[i].Load())
			see(info._deleted[i].Load())
		}
	}
	return maxCommit, maxTxn
}

func (info *ChunkInfo) String() string {
	switch info._type {
	case CONSTANT_INFO:
		return fmt.Sprintf("constant start %d insert %d delete %d",
			info._start, info._insertId.Load(), info._deleteId.Load())
	default:
		return fmt.Sprintf("vector start %d same %v anyDeleted %v",
			info._start, info._sameInsertedId.Load(), info._anyDeleted.Load())
	}
}

type VersionOp interface {
	UseInsertedVersion(startTime, txnId, id TxnType) bool
	UseDeletedVersion(startTime, txnId, id TxnType) bool
}

var _ VersionOp = &TxnVersionOp{}
var _ VersionOp = &CommittedVersionOp{}

type TxnVersionOp struct {
}

func (op TxnVersionOp) UseInsertedVersion(
	startTime, txnId, id TxnType) bool {
	return id <= startTime || id == txnId
}

func (op TxnVersionOp) UseDeletedVersion(
	startTime, txnId, id TxnType) bool {
	return !op.UseInsertedVersion(startTime, txnId, id)
}

// CommittedVersionOp keeps rows whose delete is not yet visible to
// the oldest active transaction.
type CommittedVersionOp struct {
}

func (op CommittedVersionOp) UseInsertedVersion(
	startTime, txnId, id TxnType) bool {
	return true
}

func (op CommittedVersionOp) UseDeletedVersion(
	minStartTime, minTxnId, id TxnType) bool {
	return id >= minStartTime && id < TxnIdStart || id >= minTxnId
}
