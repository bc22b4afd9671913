// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"math"

	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/util"
)

type IdxType uint64
type RowType int64
type TxnType uint64
type BlockID int64

const (
	STANDARD_VECTOR_SIZE   IdxType = util.DefaultVectorSize
	ROW_GROUP_VECTOR_COUNT IdxType = 60
	ROW_GROUP_SIZE                 = STANDARD_VECTOR_SIZE * ROW_GROUP_VECTOR_COUNT

	COLUMN_IDENTIFIER_ROW_ID IdxType = math.MaxUint64
	MAX_ROW_ID               RowType = 1 << 62

	INVALID_BLOCK BlockID = -1
)

const (
	TxnIdStart   TxnType = 1 << 62
	MaxTxnId     TxnType = math.MaxUint64
	NotDeletedId TxnType = math.MaxUint64
)

// Layout fixes the vector width and the number of vector slots of
// every row group of a table.
type Layout struct {
	VectorSize  IdxType
	VectorCount IdxType
	// rows per column segment
	SegmentSize IdxType
}

func DefaultLayout() Layout {
	return Layout{
		VectorSize:  STANDARD_VECTOR_SIZE,
		VectorCount: ROW_GROUP_VECTOR_COUNT,
		SegmentSize: ROW_GROUP_SIZE,
	}
}

func NewLayout(opts util.StorageOptions) Layout {
	ret := Layout{
		VectorSize:  IdxType(opts.VectorSize),
		VectorCount: IdxType(opts.RowGroupVectors),
		SegmentSize: IdxType(opts.SegmentSize),
	}
	if ret.SegmentSize == 0 || ret.SegmentSize > ret.RowGroupSize() {
		ret.SegmentSize = ret.RowGroupSize()
	}
	return ret
}

func (layout Layout) RowGroupSize() IdxType {
	return layout.VectorSize * layout.VectorCount
}

func (layout Layout) String() string {
	return fmt.Sprintf("vector %d x %d, segment %d",
		layout.VectorSize, layout.VectorCount, layout.SegmentSize)
}

type BlockPointer struct {
	_blockId BlockID
	_offset  uint64
}

func NewBlockPointer(id BlockID, offset uint64) BlockPointer {
	return BlockPointer{_blockId: id, _offset: offset}
}

func (ptr BlockPointer) BlockId() BlockID {
	return ptr._blockId
}

func (ptr BlockPointer) Offset() uint64 {
	return ptr._offset
}

func (ptr BlockPointer) IsValid() bool {
	return ptr._blockId != INVALID_BLOCK
}

func (ptr BlockPointer) String() string {
	return fmt.Sprintf("(%d,%d)", ptr._blockId, ptr._offset)
}

type ColumnDefinition struct {
	Name string
	Type common.LType
}

type DataTableInfo struct {
	_schema  string
	_table   string
	_layout  Layout
	_colDefs []*ColumnDefinition
}

func NewDataTableInfo(schema, table string, layout Layout, defs []*ColumnDefinition) *DataTableInfo {
	return &DataTableInfo{
		_schema:  schema,
		_table:   table,
		_layout:  layout,
		_colDefs: defs,
	}
}

func (info *DataTableInfo) Schema() string {
	return info._schema
}

func (info *DataTableInfo) Table() string {
	return info._table
}

func (info *DataTableInfo) ColumnDefinitions() []*ColumnDefinition {
	return info._colDefs
}

// WithColumns gives the info of the same table with other columns.
func (info *DataTableInfo) WithColumns(defs []*ColumnDefinition) *DataTableInfo {
	return NewDataTableInfo(info._schema, info._table, info._layout, defs)
}

func (info *DataTableInfo) Layout() Layout {
	return info._layout
}

func (info *DataTableInfo) Types() []common.LType {
	ret := make([]common.LType, len(info._colDefs))
	for i, def := range info._colDefs {
		ret[i] = def.Type
	}
	return ret
}

func (info *DataTableInfo) String() string {
	return fmt.Sprintf("%s.%s", info._schema, info._table)
}
