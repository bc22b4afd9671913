package storage

import (
	"bytes"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/daviszhen/colstore/pkg/util"
)

var _ util.Serialize = new(MetaBlockWriter)

// MetaBlockWriter writes a byte stream over a chain of blocks.
type MetaBlockWriter struct {
	_blockMgr      BlockMgr
	_blockId       BlockID
	_buffer        []byte
	_writtenBlocks []BlockID
	_offset        uint64
}

func NewMetaBlockWriter(blockMgr BlockMgr, initBlockId BlockID) *MetaBlockWriter {
	ret := &MetaBlockWriter{
		_blockMgr: blockMgr,
	}
	if initBlockId == INVALID_BLOCK {
		initBlockId = ret.GetNextBlockId()
	}
	ret.startBlock(initBlockId)
	return ret
}

func (writer *MetaBlockWriter) startBlock(id BlockID) {
	writer._blockId = id
	writer._buffer = make([]byte, writer._blockMgr.BlockSize())
	binary.LittleEndian.PutUint64(writer._buffer, math.MaxUint64)
	writer._offset = BLOCK_HEADER_SIZE
}

func (writer *MetaBlockWriter) GetBlockPointer() BlockPointer {
	return BlockPointer{
		_blockId: writer._blockId,
		_offset:  writer._offset,
	}
}

func (writer *MetaBlockWriter) WriteData(buffer []byte, sz int) error {
	blockSize := uint64(len(writer._buffer))
	for writer._offset+uint64(sz) > blockSize {
		copyCnt := blockSize - writer._offset
		if copyCnt > 0 {
			copy(writer._buffer[writer._offset:], buffer[:copyCnt])
			buffer = buffer[copyCnt:]
			writer._offset += copyCnt
			sz -= int(copyCnt)
		}
		newBlockId := writer.GetNextBlockId()
		binary.LittleEndian.PutUint64(writer._buffer, uint64(newBlockId))
		err := writer.AdvanceBlock()
		if err != nil {
			return err
		}
		writer.startBlock(newBlockId)
	}
	copy(writer._buffer[writer._offset:], buffer[:sz])
	writer._offset += uint64(sz)
	return nil
}

func (writer *MetaBlockWriter) Close() error {
	util.AssertFunc(writer._buffer == nil)
	return nil
}

// Flush writes the last block. The writer can not be used afterwards.
func (writer *MetaBlockWriter) Flush() error {
	if writer._buffer == nil {
		return nil
	}
	err := writer.AdvanceBlock()
	if err != nil {
		return err
	}
	writer._buffer = nil
	return nil
}

func (writer *MetaBlockWriter) AdvanceBlock() error {
	writer._writtenBlocks = append(writer._writtenBlocks, writer._blockId)
	return writer._blockMgr.Write(writer._blockId, writer._buffer)
}

func (writer *MetaBlockWriter) GetNextBlockId() BlockID {
	return writer._blockMgr.GetFreeBlockId()
}

func (writer *MetaBlockWriter) WrittenBlocks() []BlockID {
	return writer._writtenBlocks
}

// FieldWriter buffers fields and writes them prefixed with the field
// count and the byte size.
type FieldWriter struct {
	_serial     util.Serialize
	_buffer     *BufferedSerialize
	_fieldCount uint64
	_finalized  bool
}

func NewFieldWriter(serial util.Serialize) *FieldWriter {
	return &FieldWriter{
		_serial: serial,
		_buffer: NewBufferedSerialize(nil),
	}
}

func (writer *FieldWriter) AddField() {
	writer._fieldCount++
}

func (writer *FieldWriter) WriteData(buf []byte) error {
	return writer._buffer.WriteData(buf, len(buf))
}

// GetSerializer gives raw access to the field buffer. Data written
// there is not counted as a field.
func (writer *FieldWriter) GetSerializer() util.Serialize {
	return writer._buffer
}

func (writer *FieldWriter) Finalize() error {
	util.AssertFunc(!writer._finalized)
	writer._finalized = true
	util.AssertFunc(writer._fieldCount > 0)
	err := util.Write[uint64](writer._fieldCount, writer._serial)
	if err != nil {
		return err
	}
	err = util.Write[uint64](uint64(writer._buffer._data.Len()), writer._serial)
	if err != nil {
		return err
	}
	err = writer._serial.WriteData(
		writer._buffer._data.Bytes(),
		writer._buffer._data.Len())
	if err != nil {
		return err
	}
	err = writer._buffer.Close()
	writer._buffer = nil
	return err
}

func WriteField[T any](value T, writer *FieldWriter) error {
	writer.AddField()
	cnt := int(unsafe.Sizeof(value))
	buf := util.PointerToSlice[byte](unsafe.Pointer(&value), cnt)
	return writer.WriteData(buf)
}

func WriteString(value string, writer *FieldWriter) error {
	writer.AddField()
	return util.WriteString(value, writer._buffer)
}

func WriteBlob(data []byte, writer *FieldWriter) error {
	writer.AddField()
	if len(data) > 0 {
		return writer.WriteData(data)
	}
	return nil
}

var _ util.Serialize = new(BufferedSerialize)

type BufferedSerialize struct {
	_data *bytes.Buffer
}

func NewBufferedSerialize(buf []byte) *BufferedSerialize {
	return &BufferedSerialize{
		_data: bytes.NewBuffer(buf),
	}
}

func (serial *BufferedSerialize) WriteData(buffer []byte, len int) error {
	_, err := serial._data.Write(buffer[:len])
	return err
}

func (serial *BufferedSerialize) Bytes() []byte {
	return serial._data.Bytes()
}

func (serial *BufferedSerialize) Close() error {
	serial._data.Reset()
	serial._data = nil
	return nil
}
