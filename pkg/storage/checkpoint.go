package storage

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/util"
)

// DataPointer locates one persistent segment of a column.
type DataPointer struct {
	_rowStart   IdxType
	_tupleCount IdxType
	_blockPtr   BlockPointer
	_stats      BaseStats
}

func (ptr *DataPointer) Serialize(serial util.Serialize) error {
	err := util.Write[uint64](uint64(ptr._rowStart), serial)
	if err != nil {
		return err
	}
	err = util.Write[uint64](uint64(ptr._tupleCount), serial)
	if err != nil {
		return err
	}
	err = util.Write[BlockID](ptr._blockPtr._blockId, serial)
	if err != nil {
		return err
	}
	err = util.Write[uint64](ptr._blockPtr._offset, serial)
	if err != nil {
		return err
	}
	return ptr._stats.Serialize(serial)
}

func (ptr *DataPointer) Deserialize(deserial util.Deserialize, typ common.LType) error {
	var val uint64
	err := util.Read[uint64](&val, deserial)
	if err != nil {
		return err
	}
	ptr._rowStart = IdxType(val)
	err = util.Read[uint64](&val, deserial)
	if err != nil {
		return err
	}
	ptr._tupleCount = IdxType(val)
	err = util.Read[BlockID](&ptr._blockPtr._blockId, deserial)
	if err != nil {
		return err
	}
	err = util.Read[uint64](&ptr._blockPtr._offset, deserial)
	if err != nil {
		return err
	}
	return ptr._stats.Deserialize(deserial, typ)
}

func (ptr *DataPointer) String() string {
	return fmt.Sprintf("[row start %d tuple count %d %s]", ptr._rowStart, ptr._tupleCount, ptr._blockPtr)
}

// ColumnCheckpointState is what a column produced in a checkpoint.
type ColumnCheckpointState struct {
	_column       ColumnData
	_dataPointers []*DataPointer
	_globalStats  BaseStats
}

func NewColumnCheckpointState(column ColumnData) *ColumnCheckpointState {
	return &ColumnCheckpointState{
		_column:      column,
		_globalStats: NewEmptyBaseStats(column.Type()),
	}
}

func (state *ColumnCheckpointState) AddDataPointer(ptr *DataPointer) {
	state._globalStats.Merge(&ptr._stats)
	state._dataPointers = append(state._dataPointers, ptr)
}

func (state *ColumnCheckpointState) GetStats() *BaseStats {
	return &state._globalStats
}

func (state *ColumnCheckpointState) WriteDataPointers(writer *RowGroupWriter) error {
	return writer.WriteColumnDataPointers(state)
}

// RowGroupWriter receives the checkpoint of the row groups of a table.
// Segment payloads go to the partial block manager, column data
// pointers go to the payload writer.
type RowGroupWriter struct {
	_lock            sync.Mutex
	_payloadWriter   *MetaBlockWriter
	_partialBlockMgr *PartialBlockMgr
}

func NewRowGroupWriter(payload *MetaBlockWriter, partial *PartialBlockMgr) *RowGroupWriter {
	return &RowGroupWriter{
		_payloadWriter:   payload,
		_partialBlockMgr: partial,
	}
}

func (writer *RowGroupWriter) GetPayloadWriter() *MetaBlockWriter {
	return writer._payloadWriter
}

func (writer *RowGroupWriter) GetPartialBlockMgr() *PartialBlockMgr {
	return writer._partialBlockMgr
}

// WriteColumnDataPointers writes count:u64 and every data pointer.
func (writer *RowGroupWriter) WriteColumnDataPointers(state *ColumnCheckpointState) error {
	writer._lock.Lock()
	defer writer._lock.Unlock()
	err := util.Write[uint64](uint64(len(state._dataPointers)), writer._payloadWriter)
	if err != nil {
		return err
	}
	for _, ptr := range state._dataPointers {
		err = ptr.Serialize(writer._payloadWriter)
		if err != nil {
			return err
		}
	}
	return nil
}

type RowGroupWriteData struct {
	_states []*ColumnCheckpointState
	_stats  []BaseStats
}

// RowGroupPointer is the persisted form of a row group.
type RowGroupPointer struct {
	_rowStart     uint64
	_tupleCount   uint64
	_dataPointers []BlockPointer
	_versions     *VersionNode
}

func NewRowGroupPointer(rowStart, tupleCount uint64, ptrs []BlockPointer, versions *VersionNode) *RowGroupPointer {
	return &RowGroupPointer{
		_rowStart:     rowStart,
		_tupleCount:   tupleCount,
		_dataPointers: ptrs,
		_versions:     versions,
	}
}

func (ptr *RowGroupPointer) RowStart() uint64 {
	return ptr._rowStart
}

func (ptr *RowGroupPointer) DataPointers() []BlockPointer {
	return ptr._dataPointers
}

func (ptr *RowGroupPointer) Versions() *VersionNode {
	return ptr._versions
}

func (ptr *RowGroupPointer) String() string {
	return fmt.Sprintf("row group [%d, %d) columns %v",
		ptr._rowStart, ptr._rowStart+ptr._tupleCount, ptr._dataPointers)
}

// RowGroupSerialize writes row_start and tuple_count as fields, then
// the column pointers and the version section.
func RowGroupSerialize(ptr *RowGroupPointer, serial util.Serialize) error {
	writer := NewFieldWriter(serial)
	err := WriteField[uint64](ptr._rowStart, writer)
	if err != nil {
		return err
	}
	err = WriteField[uint64](ptr._tupleCount, writer)
	if err != nil {
		return err
	}
	bufSerial := writer.GetSerializer()
	for _, dPtr := range ptr._dataPointers {
		err = util.Write[BlockID](dPtr._blockId, bufSerial)
		if err != nil {
			return err
		}
		err = util.Write[uint64](dPtr._offset, bufSerial)
		if err != nil {
			return err
		}
	}
	err = CheckpointDeletes(ptr._versions, bufSerial)
	if err != nil {
		return err
	}
	return writer.Finalize()
}

func RowGroupDeserialize(
	src util.Deserialize,
	typs []common.LType,
	layout Layout) (*RowGroupPointer, error) {
	result := &RowGroupPointer{}
	reader, err := NewFieldReader(src)
	if err != nil {
		return nil, err
	}
	err = ReadRequired[uint64](&result._rowStart, reader)
	if err != nil {
		return nil, err
	}
	err = ReadRequired[uint64](&result._tupleCount, reader)
	if err != nil {
		return nil, err
	}
	if result._tupleCount > uint64(layout.RowGroupSize()) {
		util.Error("row group too large",
			zap.Uint64("tupleCount", result._tupleCount))
		return nil, fmt.Errorf("%w: row group of %d rows exceeds %d",
			ErrCorrupted, result._tupleCount, layout.RowGroupSize())
	}
	for i := 0; i < len(typs); i++ {
		ptr := BlockPointer{}
		err = util.Read[BlockID](&ptr._blockId, src)
		if err != nil {
			return nil, err
		}
		err = util.Read[uint64](&ptr._offset, src)
		if err != nil {
			return nil, err
		}
		result._dataPointers = append(result._dataPointers, ptr)
	}
	result._versions, err = DeserializeDeletes(src, IdxType(result._rowStart), layout)
	if err != nil {
		return nil, err
	}
	reader.Finalize()
	return result, nil
}

// ColumnSegmentInfo describes one column segment for storage listings.
type ColumnSegmentInfo struct {
	RowGroupIndex IdxType
	ColumnId      IdxType
	ColumnPath    string
	SegmentIdx    IdxType
	SegmentType   string
	SegmentStart  IdxType
	SegmentCount  IdxType
	SegmentStats  string
	HasUpdates    bool
	Persistent    bool
	BlockId       BlockID
	BlockOffset   uint64
	SegmentLoaded bool
}

func (info *ColumnSegmentInfo) String() string {
	return fmt.Sprintf("rg %d col %s seg %d %s [%d, %+d) persistent %v block (%d,%d) loaded %v updates %v %s",
		info.RowGroupIndex,
		info.ColumnPath,
		info.SegmentIdx,
		info.SegmentType,
		info.SegmentStart,
		info.SegmentCount,
		info.Persistent,
		info.BlockId,
		info.BlockOffset,
		info.SegmentLoaded,
		info.HasUpdates,
		info.SegmentStats,
	)
}

type TableStorageInfo struct {
	ColumnSegments []*ColumnSegmentInfo
}

func (info *TableStorageInfo) AddColumnSegment(seg *ColumnSegmentInfo) {
	info.ColumnSegments = append(info.ColumnSegments, seg)
}

func (info *TableStorageInfo) String() string {
	sb := strings.Builder{}
	for _, seg := range info.ColumnSegments {
		sb.WriteString(seg.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
