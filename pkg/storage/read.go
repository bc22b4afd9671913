package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/daviszhen/colstore/pkg/util"
)

var _ util.Deserialize = new(MetaBlockReader)

// MetaBlockReader reads what a MetaBlockWriter wrote, starting at a
// block pointer.
type MetaBlockReader struct {
	_blockMgr   BlockMgr
	_blockId    BlockID
	_buffer     []byte
	_offset     uint64
	_nextBlock  BlockID
	_readBlocks []BlockID
}

func NewMetaBlockReader(
	blockMgr BlockMgr,
	ptr BlockPointer) (*MetaBlockReader, error) {
	reader := &MetaBlockReader{
		_blockMgr:  blockMgr,
		_nextBlock: INVALID_BLOCK,
	}
	err := reader.ReadNewBlock(ptr._blockId)
	if err != nil {
		return nil, err
	}
	if ptr._offset > reader._offset {
		if ptr._offset > uint64(len(reader._buffer)) {
			return nil, fmt.Errorf("%w: offset %d beyond block %d",
				ErrCorrupted, ptr._offset, ptr._blockId)
		}
		reader._offset = ptr._offset
	}
	return reader, nil
}

func (reader *MetaBlockReader) ReadNewBlock(id BlockID) error {
	data, err := reader._blockMgr.Read(id)
	if err != nil {
		return err
	}
	reader._blockId = id
	reader._buffer = data
	reader._readBlocks = append(reader._readBlocks, id)
	reader._nextBlock = BlockID(binary.LittleEndian.Uint64(data))
	if reader._nextBlock < INVALID_BLOCK {
		return fmt.Errorf("%w: invalid next block %d in block %d",
			ErrCorrupted, reader._nextBlock, id)
	}
	reader._offset = BLOCK_HEADER_SIZE
	return nil
}

func (reader *MetaBlockReader) ReadData(buffer []byte, readSize int) error {
	pos := 0
	blockSize := uint64(len(reader._buffer))
	for reader._offset+uint64(readSize) > blockSize {
		toRead := int(blockSize - reader._offset)
		if toRead > 0 {
			copy(buffer[pos:], reader._buffer[reader._offset:])
			readSize -= toRead
			pos += toRead
		}
		if reader._nextBlock == INVALID_BLOCK {
			return fmt.Errorf("%w: read past the end of block chain at block %d",
				ErrCorrupted, reader._blockId)
		}
		err := reader.ReadNewBlock(reader._nextBlock)
		if err != nil {
			return err
		}
	}
	copy(buffer[pos:pos+readSize], reader._buffer[reader._offset:])
	reader._offset += uint64(readSize)
	return nil
}

// ReadBlocks lists the blocks of the chain visited so far.
func (reader *MetaBlockReader) ReadBlocks() []BlockID {
	return reader._readBlocks
}

func (reader *MetaBlockReader) Close() error {
	reader._buffer = nil
	return nil
}

func ReadRequired[T any](value *T, reader *FieldReader) error {
	if reader._fieldCount >= reader._maxFieldCount {
		return fmt.Errorf("%w: field_count >= max_field_count", ErrCorrupted)
	}
	reader.AddField()
	return util.Read[T](value, reader._source)
}

func ReadString(reader *FieldReader) (string, error) {
	if reader._fieldCount >= reader._maxFieldCount {
		return "", fmt.Errorf("%w: field_count >= max_field_count", ErrCorrupted)
	}
	reader.AddField()
	return util.ReadString(reader._source)
}

func ReadBlob(data []byte, reader *FieldReader) error {
	if reader._fieldCount >= reader._maxFieldCount {
		return fmt.Errorf("%w: field_count >= max_field_count", ErrCorrupted)
	}
	reader.AddField()
	return reader._source.ReadData(data, len(data))
}

// FieldReader reads what a FieldWriter wrote.
type FieldReader struct {
	_source        util.Deserialize
	_fieldCount    uint64
	_maxFieldCount uint64
	_totalSize     uint64
	_finalized     bool
}

func NewFieldReader(source util.Deserialize) (*FieldReader, error) {
	ret := &FieldReader{
		_source: source,
	}
	err := util.Read[uint64](&ret._maxFieldCount, source)
	if err != nil {
		return nil, err
	}
	err = util.Read[uint64](&ret._totalSize, source)
	if err != nil {
		return nil, err
	}
	if ret._maxFieldCount == 0 {
		return nil, fmt.Errorf("%w: zero field count", ErrCorrupted)
	}
	return ret, err
}

func (reader *FieldReader) GetSource() util.Deserialize {
	return reader._source
}

func (reader *FieldReader) Finalize() {
	util.AssertFunc(!reader._finalized)
	reader._finalized = true
}

func (reader *FieldReader) AddField() {
	reader._fieldCount++
}

var _ util.Deserialize = new(BufferedDeserializer)

type BufferedDeserializer struct {
	_data *bytes.Buffer
}

func NewBufferedDeserializer(buf []byte) *BufferedDeserializer {
	return &BufferedDeserializer{
		_data: bytes.NewBuffer(buf),
	}
}

func (deserial *BufferedDeserializer) ReadData(buffer []byte, len int) error {
	_, err := io.ReadFull(deserial._data, buffer[:len])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return nil
}

func (deserial *BufferedDeserializer) Close() error {
	deserial._data.Reset()
	deserial._data = nil
	return nil
}
