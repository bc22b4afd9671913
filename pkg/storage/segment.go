package storage

import (
	"sort"

	"github.com/tidwall/btree"

	"github.com/daviszhen/colstore/pkg/util"
)

// SegmentBase is a contiguous row range stored in a SegmentTree.
type SegmentBase interface {
	Start() IdxType
	Count() IdxType
	SetStart(IdxType)
}

type segmentNode[T SegmentBase] struct {
	_rowStart IdxType
	_node     T
}

func segmentNodeLess[T SegmentBase](a, b *segmentNode[T]) bool {
	return a._rowStart < b._rowStart
}

// SegmentTree is an ordered index of segments keyed by their first row.
// Lookups by row number descend to the segment with the greatest start
// not beyond the row.
type SegmentTree[T SegmentBase] struct {
	_lock  *util.ReentryLock
	_nodes *btree.BTreeG[*segmentNode[T]]
}

func NewSegmentTree[T SegmentBase]() *SegmentTree[T] {
	ret := &SegmentTree[T]{
		_lock:  util.NewReentryLock(),
		_nodes: btree.NewBTreeG[*segmentNode[T]](segmentNodeLess[T]),
	}
	return ret
}

// Lock holds the tree across several calls by the same goroutine.
func (tree *SegmentTree[T]) Lock() {
	tree._lock.Lock()
}

func (tree *SegmentTree[T]) Unlock() {
	tree._lock.Unlock()
}

func (tree *SegmentTree[T]) IsEmpty() bool {
	tree._lock.Lock()
	defer tree._lock.Unlock()
	return tree._nodes.Len() == 0
}

func (tree *SegmentTree[T]) SegmentCount() IdxType {
	tree._lock.Lock()
	defer tree._lock.Unlock()
	return IdxType(tree._nodes.Len())
}

func (tree *SegmentTree[T]) GetRootSegment() (T, bool) {
	return tree.GetSegmentByIndex(0)
}

func (tree *SegmentTree[T]) GetLastSegment() (T, bool) {
	tree._lock.Lock()
	defer tree._lock.Unlock()
	var zero T
	node, has := tree._nodes.Max()
	if !has {
		return zero, false
	}
	return node._node, true
}

func (tree *SegmentTree[T]) GetSegmentByIndex(idx IdxType) (T, bool) {
	tree._lock.Lock()
	defer tree._lock.Unlock()
	var zero T
	node, has := tree._nodes.GetAt(int(idx))
	if !has {
		return zero, false
	}
	return node._node, true
}

// GetSegment returns the segment that holds rowNumber.
func (tree *SegmentTree[T]) GetSegment(rowNumber IdxType) (T, bool) {
	tree._lock.Lock()
	defer tree._lock.Unlock()
	var ret T
	found := false
	pivot := &segmentNode[T]{_rowStart: rowNumber}
	tree._nodes.Descend(pivot, func(node *segmentNode[T]) bool {
		if rowNumber < node._rowStart+node._node.Count() {
			ret = node._node
			found = true
		}
		return false
	})
	return ret, found
}

// GetSegmentIdx returns the position of the segment that holds rowNumber.
func (tree *SegmentTree[T]) GetSegmentIdx(rowNumber IdxType) (IdxType, bool) {
	tree._lock.Lock()
	defer tree._lock.Unlock()
	cnt := tree._nodes.Len()
	idx := sort.Search(cnt, func(i int) bool {
		node, _ := tree._nodes.GetAt(i)
		return node._rowStart > rowNumber
	}) - 1
	if idx < 0 {
		return 0, false
	}
	node, _ := tree._nodes.GetAt(idx)
	if rowNumber >= node._rowStart+node._node.Count() {
		return 0, false
	}
	return IdxType(idx), true
}

func (tree *SegmentTree[T]) GetNextSegment(current T) (T, bool) {
	tree._lock.Lock()
	defer tree._lock.Unlock()
	var ret T
	found := false
	pivot := &segmentNode[T]{_rowStart: current.Start() + 1}
	tree._nodes.Ascend(pivot, func(node *segmentNode[T]) bool {
		ret = node._node
		found = true
		return false
	})
	return ret, found
}

func (tree *SegmentTree[T]) AppendSegment(seg T) {
	tree._lock.Lock()
	defer tree._lock.Unlock()
	if last, has := tree._nodes.Max(); has {
		util.AssertFunc(last._rowStart+last._node.Count() <= seg.Start())
	}
	tree._nodes.Set(&segmentNode[T]{
		_rowStart: seg.Start(),
		_node:     seg,
	})
}

// EraseSegments drops the segments from position segStart on.
func (tree *SegmentTree[T]) EraseSegments(segStart IdxType) {
	tree._lock.Lock()
	defer tree._lock.Unlock()
	for tree._nodes.Len() > int(segStart) {
		tree._nodes.DeleteAt(tree._nodes.Len() - 1)
	}
}

// Segments lists the segments in row order.
func (tree *SegmentTree[T]) Segments() []T {
	tree._lock.Lock()
	defer tree._lock.Unlock()
	ret := make([]T, 0, tree._nodes.Len())
	tree._nodes.Scan(func(node *segmentNode[T]) bool {
		ret = append(ret, node._node)
		return true
	})
	return ret
}

// MoveSegments empties the tree and returns what it held.
func (tree *SegmentTree[T]) MoveSegments() []T {
	tree._lock.Lock()
	defer tree._lock.Unlock()
	ret := tree.Segments()
	tree._nodes.Clear()
	return ret
}

// Reinitialize rekeys the tree after segment starts have changed.
// The segments must stay contiguous.
func (tree *SegmentTree[T]) Reinitialize() {
	tree._lock.Lock()
	defer tree._lock.Unlock()
	segs := tree.Segments()
	tree._nodes.Clear()
	for i, seg := range segs {
		if i > 0 {
			prev := segs[i-1]
			util.AssertFunc(prev.Start()+prev.Count() == seg.Start())
		}
		tree._nodes.Set(&segmentNode[T]{
			_rowStart: seg.Start(),
			_node:     seg,
		})
	}
}
