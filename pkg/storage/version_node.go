package storage

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/util"
)

// VersionNode has one optional ChunkInfo per vector slot of a row group.
// It is shared by pointer between row groups that have the same rows.
type VersionNode struct {
	_info []*ChunkInfo
}

func NewVersionNode(vectorCount IdxType) *VersionNode {
	return &VersionNode{
		_info: make([]*ChunkInfo, vectorCount),
	}
}

func (node *VersionNode) Len() IdxType {
	return IdxType(len(node._info))
}

func (node *VersionNode) Get(vectorIdx IdxType) *ChunkInfo {
	return node._info[vectorIdx]
}

func (node *VersionNode) Set(vectorIdx IdxType, info *ChunkInfo) {
	node._info[vectorIdx] = info
}

// SetStart rebases every slot to a row group starting at start.
func (node *VersionNode) SetStart(start IdxType, vectorSize IdxType) {
	cur := start
	for _, info := range node._info {
		if info != nil {
			info.SetStart(cur)
		}
		cur += vectorSize
	}
}

func (node *VersionNode) infoCount() uint64 {
	cnt := uint64(0)
	for _, info := range node._info {
		if info != nil {
			cnt++
		}
	}
	return cnt
}

// MaxIds returns the greatest commit id and the greatest transaction
// id of the slots. A nil node has none.
func (node *VersionNode) MaxIds() (TxnType, TxnType) {
	var maxCommit, maxTxn TxnType
	if node == nil {
		return 0, 0
	}
	for _, info := range node._info {
		if info == nil {
			continue
		}
		commit, txn := info.maxIds()
		maxCommit = max(maxCommit, commit)
		maxTxn = max(maxTxn, txn)
	}
	return maxCommit, maxTxn
}

// CheckpointDeletes writes the slot count and then every present slot
// as (slot index, chunk info). A nil node is written as zero slots.
func CheckpointDeletes(node *VersionNode, serial util.Serialize) error {
	if node == nil {
		return util.Write[uint64](0, serial)
	}
	err := util.Write[uint64](node.infoCount(), serial)
	if err != nil {
		return err
	}
	for i, info := range node._info {
		if info == nil {
			continue
		}
		err = util.Write[uint64](uint64(i), serial)
		if err != nil {
			return err
		}
		err = info.Serialize(serial)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeserializeDeletes reads what CheckpointDeletes wrote.
// Zero slots gives a nil node.
func DeserializeDeletes(
	deserial util.Deserialize,
	rowStart IdxType,
	layout Layout) (*VersionNode, error) {
	var cnt uint64
	err := util.Read[uint64](&cnt, deserial)
	if err != nil {
		return nil, err
	}
	if cnt == 0 {
		return nil, nil
	}
	if cnt > uint64(layout.VectorCount) {
		util.Error("too many chunk infos", zap.Uint64("count", cnt))
		return nil, fmt.Errorf("%w: %d chunk infos in a row group of %d vectors",
			ErrCorrupted, cnt, layout.VectorCount)
	}
	node := NewVersionNode(layout.VectorCount)
	for i := uint64(0); i < cnt; i++ {
		var vectorIdx uint64
		err = util.Read[uint64](&vectorIdx, deserial)
		if err != nil {
			return nil, err
		}
		if vectorIdx >= uint64(layout.VectorCount) {
			util.Error("vector index out of range",
				zap.Uint64("vectorIdx", vectorIdx),
				zap.Uint64("vectorCount", uint64(layout.VectorCount)))
			return nil, fmt.Errorf("%w: vector index %d is out of range for the row group",
				ErrCorrupted, vectorIdx)
		}
		info, err := DeserializeChunkInfo(
			deserial,
			rowStart+IdxType(vectorIdx)*layout.VectorSize,
			layout.VectorSize)
		if err != nil {
			return nil, err
		}
		node._info[vectorIdx] = info
	}
	return node, nil
}
