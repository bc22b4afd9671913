package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	metro "github.com/dgryski/go-metro"
	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/util"
)

const (
	BLOCK_HEADER_SIZE  uint64 = 8
	FILE_HEADER_SIZE   uint64 = 4096
	DEFAULT_BLOCK_SIZE uint64 = 1 << 18
	MAGIC_NUMBER       uint64 = 0x45524f5453434f4c
	VERSION_NUMBER     uint64 = 1

	checksumSeed        uint64 = 0
	maxHeaderFreeBlocks uint64 = (FILE_HEADER_SIZE - 6*8) / 8
)

// BlockMgr stores fixed size blocks. Every block starts with the
// id of the next block of its chain.
type BlockMgr interface {
	BlockSize() uint64
	GetFreeBlockId() BlockID
	Read(id BlockID) ([]byte, error)
	Write(id BlockID, data []byte) error
	MarkBlockAsFree(id BlockID)
	GetMetaBlock() BlockID
	WriteHeader(metaBlock BlockID) error
	TotalBlocks() uint64
	FreeBlocks() uint64
	Close() error
}

var _ BlockMgr = new(MemoryBlockMgr)
var _ BlockMgr = new(FileBlockMgr)

type MemoryBlockMgr struct {
	_lock      sync.Mutex
	_blockSize uint64
	_blocks    map[BlockID][]byte
	_nextId    BlockID
	_freeList  []BlockID
	_metaBlock BlockID
}

func NewMemoryBlockMgr(blockSize uint64) *MemoryBlockMgr {
	return &MemoryBlockMgr{
		_blockSize: blockSize,
		_blocks:    make(map[BlockID][]byte),
		_metaBlock: INVALID_BLOCK,
	}
}

func (mgr *MemoryBlockMgr) BlockSize() uint64 {
	return mgr._blockSize
}

func (mgr *MemoryBlockMgr) GetFreeBlockId() BlockID {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	if len(mgr._freeList) > 0 {
		id := util.Back(mgr._freeList)
		mgr._freeList = mgr._freeList[:len(mgr._freeList)-1]
		return id
	}
	id := mgr._nextId
	mgr._nextId++
	return id
}

func (mgr *MemoryBlockMgr) Read(id BlockID) ([]byte, error) {
	if err := util.Inject(util.FAULTS_SCOPE_STORAGE, "block_read"); err != nil {
		return nil, err
	}
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	data, ok := mgr._blocks[id]
	if !ok {
		return nil, fmt.Errorf("%w: block %d does not exist", ErrCorrupted, id)
	}
	return util.CopyTo(data), nil
}

func (mgr *MemoryBlockMgr) Write(id BlockID, data []byte) error {
	util.AssertFunc(uint64(len(data)) == mgr._blockSize)
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	mgr._blocks[id] = util.CopyTo(data)
	return nil
}

func (mgr *MemoryBlockMgr) MarkBlockAsFree(id BlockID) {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	delete(mgr._blocks, id)
	mgr._freeList = append(mgr._freeList, id)
}

func (mgr *MemoryBlockMgr) GetMetaBlock() BlockID {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	return mgr._metaBlock
}

func (mgr *MemoryBlockMgr) WriteHeader(metaBlock BlockID) error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	mgr._metaBlock = metaBlock
	return nil
}

func (mgr *MemoryBlockMgr) TotalBlocks() uint64 {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	return uint64(mgr._nextId)
}

func (mgr *MemoryBlockMgr) FreeBlocks() uint64 {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	return uint64(len(mgr._freeList))
}

func (mgr *MemoryBlockMgr) Close() error {
	return nil
}

// FileBlockMgr keeps blocks in a single file. The file starts with a
// header of FILE_HEADER_SIZE bytes. Every block on disk is prefixed with
// the checksum of its content.
type FileBlockMgr struct {
	_lock       sync.Mutex
	_path       string
	_file       *os.File
	_blockSize  uint64
	_blockCount BlockID
	_metaBlock  BlockID
	_freeList   []BlockID
}

func NewFileBlockMgr(path string, blockSize uint64, createNew bool) (*FileBlockMgr, error) {
	mgr := &FileBlockMgr{
		_path:      path,
		_blockSize: blockSize,
		_metaBlock: INVALID_BLOCK,
	}
	var err error
	if createNew {
		err = mgr.CreateNewDatabase()
	} else {
		err = mgr.LoadExistingDatabase()
	}
	if err != nil {
		return nil, err
	}
	return mgr, nil
}

func (mgr *FileBlockMgr) CreateNewDatabase() error {
	var err error
	mgr._file, err = os.OpenFile(mgr._path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	util.Info("create database file",
		zap.String("path", mgr._path),
		zap.Uint64("blockSize", mgr._blockSize))
	return mgr.WriteHeader(INVALID_BLOCK)
}

func (mgr *FileBlockMgr) LoadExistingDatabase() error {
	var err error
	mgr._file, err = os.OpenFile(mgr._path, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	header := make([]byte, FILE_HEADER_SIZE)
	if _, err = io.ReadFull(mgr._file, header); err != nil {
		return errors.Join(fmt.Errorf("%w: read header", ErrCorrupted), err, mgr._file.Close())
	}
	fields := func(i int) uint64 {
		return binary.LittleEndian.Uint64(header[i*8:])
	}
	if fields(0) != MAGIC_NUMBER {
		_ = mgr._file.Close()
		return fmt.Errorf("%w: %s is not a database file", ErrCorrupted, mgr._path)
	}
	if fields(1) != VERSION_NUMBER {
		_ = mgr._file.Close()
		return fmt.Errorf("%w: version %d is not supported", ErrCorrupted, fields(1))
	}
	mgr._blockSize = fields(2)
	mgr._blockCount = BlockID(fields(3))
	mgr._metaBlock = BlockID(fields(4))
	freeCnt := fields(5)
	if freeCnt > maxHeaderFreeBlocks {
		_ = mgr._file.Close()
		return fmt.Errorf("%w: free list size %d", ErrCorrupted, freeCnt)
	}
	for i := uint64(0); i < freeCnt; i++ {
		mgr._freeList = append(mgr._freeList, BlockID(fields(6+int(i))))
	}
	util.Info("load database file",
		zap.String("path", mgr._path),
		zap.Int64("blocks", int64(mgr._blockCount)),
		zap.Int64("metaBlock", int64(mgr._metaBlock)))
	return nil
}

func (mgr *FileBlockMgr) BlockSize() uint64 {
	return mgr._blockSize
}

func (mgr *FileBlockMgr) blockOffset(id BlockID) int64 {
	return int64(FILE_HEADER_SIZE) + int64(id)*int64(mgr._blockSize+BLOCK_HEADER_SIZE)
}

func (mgr *FileBlockMgr) GetFreeBlockId() BlockID {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	if len(mgr._freeList) > 0 {
		id := util.Back(mgr._freeList)
		mgr._freeList = mgr._freeList[:len(mgr._freeList)-1]
		return id
	}
	id := mgr._blockCount
	mgr._blockCount++
	return id
}

func (mgr *FileBlockMgr) Read(id BlockID) ([]byte, error) {
	if err := util.Inject(util.FAULTS_SCOPE_STORAGE, "block_read"); err != nil {
		return nil, err
	}
	mgr._lock.Lock()
	cnt := mgr._blockCount
	mgr._lock.Unlock()
	if id < 0 || id >= cnt {
		return nil, fmt.Errorf("%w: block %d out of range", ErrCorrupted, id)
	}
	buf := make([]byte, mgr._blockSize+BLOCK_HEADER_SIZE)
	_, err := mgr._file.ReadAt(buf, mgr.blockOffset(id))
	if err != nil {
		return nil, err
	}
	stored := binary.LittleEndian.Uint64(buf)
	computed := metro.Hash64(buf[BLOCK_HEADER_SIZE:], checksumSeed)
	if stored != computed {
		util.Error("block checksum mismatch",
			zap.Int64("block", int64(id)),
			zap.Uint64("stored", stored),
			zap.Uint64("computed", computed))
		return nil, fmt.Errorf("%w: checksum mismatch in block %d", ErrCorrupted, id)
	}
	return buf[BLOCK_HEADER_SIZE:], nil
}

func (mgr *FileBlockMgr) Write(id BlockID, data []byte) error {
	util.AssertFunc(uint64(len(data)) == mgr._blockSize)
	buf := make([]byte, mgr._blockSize+BLOCK_HEADER_SIZE)
	binary.LittleEndian.PutUint64(buf, metro.Hash64(data, checksumSeed))
	copy(buf[BLOCK_HEADER_SIZE:], data)
	_, err := mgr._file.WriteAt(buf, mgr.blockOffset(id))
	return err
}

func (mgr *FileBlockMgr) MarkBlockAsFree(id BlockID) {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	mgr._freeList = append(mgr._freeList, id)
}

func (mgr *FileBlockMgr) GetMetaBlock() BlockID {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	return mgr._metaBlock
}

// WriteHeader makes metaBlock the root of the database and syncs.
func (mgr *FileBlockMgr) WriteHeader(metaBlock BlockID) error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	header := make([]byte, FILE_HEADER_SIZE)
	put := func(i int, v uint64) {
		binary.LittleEndian.PutUint64(header[i*8:], v)
	}
	freeList := mgr._freeList
	if uint64(len(freeList)) > maxHeaderFreeBlocks {
		//the rest are leaked
		freeList = freeList[:maxHeaderFreeBlocks]
	}
	put(0, MAGIC_NUMBER)
	put(1, VERSION_NUMBER)
	put(2, mgr._blockSize)
	put(3, uint64(mgr._blockCount))
	put(4, uint64(metaBlock))
	put(5, uint64(len(freeList)))
	for i, id := range freeList {
		put(6+i, uint64(id))
	}
	if err := mgr._file.Sync(); err != nil {
		return err
	}
	if _, err := mgr._file.WriteAt(header, 0); err != nil {
		return err
	}
	mgr._metaBlock = metaBlock
	return mgr._file.Sync()
}

func (mgr *FileBlockMgr) TotalBlocks() uint64 {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	return uint64(mgr._blockCount)
}

func (mgr *FileBlockMgr) FreeBlocks() uint64 {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	return uint64(len(mgr._freeList))
}

func (mgr *FileBlockMgr) Close() error {
	if mgr._file == nil {
		return nil
	}
	err := mgr._file.Close()
	mgr._file = nil
	return err
}

// PartialBlockMgr packs the segment payloads of one checkpoint into
// shared blocks. Columns may write concurrently.
type PartialBlockMgr struct {
	_lock     sync.Mutex
	_blockMgr BlockMgr
	_writer   *MetaBlockWriter
}

func NewPartialBlockMgr(blockMgr BlockMgr) *PartialBlockMgr {
	return &PartialBlockMgr{
		_blockMgr: blockMgr,
		_writer:   NewMetaBlockWriter(blockMgr, INVALID_BLOCK),
	}
}

// WriteSegment runs write on the shared writer and returns where the
// payload starts.
func (partial *PartialBlockMgr) WriteSegment(write func(serial util.Serialize) error) (BlockPointer, error) {
	partial._lock.Lock()
	defer partial._lock.Unlock()
	ptr := partial._writer.GetBlockPointer()
	return ptr, write(partial._writer)
}

func (partial *PartialBlockMgr) Flush() error {
	partial._lock.Lock()
	defer partial._lock.Unlock()
	return partial._writer.Flush()
}

func (partial *PartialBlockMgr) WrittenBlocks() []BlockID {
	return partial._writer.WrittenBlocks()
}
