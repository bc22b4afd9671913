package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/util"
)

// updateVersion is one value of a row. Versions of a row are linked
// newest first. The version number is the transaction id until the
// commit rewrites it to the commit id.
type updateVersion struct {
	_versionNumber atomic.Uint64
	_value         chunk.Value
	_next          *updateVersion
}

func (version *updateVersion) committed() bool {
	return TxnType(version._versionNumber.Load()) < TxnIdStart
}

// UpdateInfo is the undo entry of one Update call.
type UpdateInfo struct {
	_segment  *UpdateSegment
	_txnId    TxnType
	_rows     []IdxType
	_versions []*updateVersion
}

// UpdateSegment keeps the updated values of a column over the base
// values of its segments. Rows are relative to the column start.
type UpdateSegment struct {
	_lock       sync.Mutex
	_vectorSize IdxType
	_rows       map[IdxType]*updateVersion
	//updated rows per vector
	_vectors map[IdxType]int
	_stats   BaseStats
}

func NewUpdateSegment(column *StandardColumnData) *UpdateSegment {
	return &UpdateSegment{
		_vectorSize: column._info.Layout().VectorSize,
		_rows:       make(map[IdxType]*updateVersion),
		_vectors:    make(map[IdxType]int),
		_stats:      NewEmptyBaseStats(column._typ),
	}
}

// Update installs the values of update as new versions of rows.
// A row changed by another open transaction, or committed after the
// start of txn, is a conflict and nothing is changed.
func (seg *UpdateSegment) Update(
	txn TxnData,
	update *chunk.Vector,
	rows []IdxType,
	count IdxType,
) (*UpdateInfo, error) {
	seg._lock.Lock()
	defer seg._lock.Unlock()
	for i := IdxType(0); i < count; i++ {
		head := seg._rows[rows[i]]
		if head == nil {
			continue
		}
		version := TxnType(head._versionNumber.Load())
		if version == txn._id {
			continue
		}
		if version >= TxnIdStart || version > txn._startTime {
			util.Warn("update conflict",
				zap.Uint64("txn", uint64(txn._id)),
				zap.Uint64("version", uint64(version)),
				zap.Uint64("row", uint64(rows[i])))
			return nil, fmt.Errorf("%w: row %d changed by version %d",
				ErrUpdateConflict, rows[i], version)
		}
	}
	info := &UpdateInfo{
		_segment: seg,
		_txnId:   txn._id,
	}
	for i := IdxType(0); i < count; i++ {
		row := rows[i]
		val := update.GetValue(int(i))
		seg._stats.Update(val)
		head := seg._rows[row]
		if head != nil && TxnType(head._versionNumber.Load()) == txn._id {
			head._value = *val
			continue
		}
		version := &updateVersion{
			_value: *val,
			_next:  head,
		}
		version._versionNumber.Store(uint64(txn._id))
		if head == nil {
			seg._vectors[row/seg._vectorSize]++
		}
		seg._rows[row] = version
		info._rows = append(info._rows, row)
		info._versions = append(info._versions, version)
	}
	return info, nil
}

func (seg *UpdateSegment) CommitUpdate(info *UpdateInfo, commitId TxnType) {
	seg._lock.Lock()
	defer seg._lock.Unlock()
	for _, version := range info._versions {
		version._versionNumber.Store(uint64(commitId))
	}
}

func (seg *UpdateSegment) RollbackUpdate(info *UpdateInfo) {
	seg._lock.Lock()
	defer seg._lock.Unlock()
	for i, row := range info._rows {
		seg.unlinkUnsafe(row, info._versions[i])
	}
}

func (seg *UpdateSegment) unlinkUnsafe(row IdxType, version *updateVersion) {
	head := seg._rows[row]
	if head == version {
		if version._next == nil {
			delete(seg._rows, row)
			seg.decVectorUnsafe(row)
		} else {
			seg._rows[row] = version._next
		}
		return
	}
	for prev := head; prev != nil; prev = prev._next {
		if prev._next == version {
			prev._next = version._next
			return
		}
	}
}

func (seg *UpdateSegment) decVectorUnsafe(row IdxType) {
	vectorIdx := row / seg._vectorSize
	seg._vectors[vectorIdx]--
	if seg._vectors[vectorIdx] <= 0 {
		delete(seg._vectors, vectorIdx)
	}
}

// FetchUpdates overwrites the rows of vector vectorIdx in result with
// the versions txn sees.
func (seg *UpdateSegment) FetchUpdates(
	txn TxnData,
	vectorIdx IdxType,
	count IdxType,
	result *chunk.Vector) {
	seg.fetch(vectorIdx, count, result, func(version *updateVersion) bool {
		id := TxnType(version._versionNumber.Load())
		return id == txn._id || id <= txn._startTime
	})
}

// FetchCommitted overwrites the rows of vector vectorIdx in result with
// their latest committed versions.
func (seg *UpdateSegment) FetchCommitted(
	vectorIdx IdxType,
	count IdxType,
	result *chunk.Vector) {
	seg.fetch(vectorIdx, count, result, (*updateVersion).committed)
}

func (seg *UpdateSegment) fetch(
	vectorIdx IdxType,
	count IdxType,
	result *chunk.Vector,
	visible func(*updateVersion) bool) {
	seg._lock.Lock()
	defer seg._lock.Unlock()
	if seg._vectors[vectorIdx] == 0 {
		return
	}
	base := vectorIdx * seg._vectorSize
	for i := IdxType(0); i < count; i++ {
		for version := seg._rows[base+i]; version != nil; version = version._next {
			if visible(version) {
				result.SetValue(int(i), &version._value)
				break
			}
		}
	}
}

// FetchRow returns the version of row txn sees, or nil for the base value.
func (seg *UpdateSegment) FetchRow(txn TxnData, row IdxType) *chunk.Value {
	seg._lock.Lock()
	defer seg._lock.Unlock()
	for version := seg._rows[row]; version != nil; version = version._next {
		id := TxnType(version._versionNumber.Load())
		if id == txn._id || id <= txn._startTime {
			return version._value.Copy()
		}
	}
	return nil
}

// FetchCommittedRow returns the latest committed version of row, or nil.
func (seg *UpdateSegment) FetchCommittedRow(row IdxType) *chunk.Value {
	seg._lock.Lock()
	defer seg._lock.Unlock()
	for version := seg._rows[row]; version != nil; version = version._next {
		if version.committed() {
			return version._value.Copy()
		}
	}
	return nil
}

func (seg *UpdateSegment) HasUpdates() bool {
	seg._lock.Lock()
	defer seg._lock.Unlock()
	return len(seg._rows) != 0
}

func (seg *UpdateSegment) HasUncommittedUpdates(vectorIdx IdxType) bool {
	seg._lock.Lock()
	defer seg._lock.Unlock()
	if seg._vectors[vectorIdx] == 0 {
		return false
	}
	base := vectorIdx * seg._vectorSize
	for i := IdxType(0); i < seg._vectorSize; i++ {
		head := seg._rows[base+i]
		if head != nil && !head.committed() {
			return true
		}
	}
	return false
}

// CleanupCommitted drops the committed versions once they are part
// of the base values. Uncommitted heads stay.
func (seg *UpdateSegment) CleanupCommitted() {
	seg._lock.Lock()
	defer seg._lock.Unlock()
	for row, head := range seg._rows {
		if head.committed() {
			delete(seg._rows, row)
			seg.decVectorUnsafe(row)
		} else {
			head._next = nil
		}
	}
}

func (seg *UpdateSegment) GetStats() BaseStats {
	seg._lock.Lock()
	defer seg._lock.Unlock()
	return seg._stats.Copy()
}
