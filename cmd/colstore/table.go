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

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/storage"
	"github.com/daviszhen/colstore/pkg/util"
)

func itemColumns() []*storage.ColumnDefinition {
	return []*storage.ColumnDefinition{
		{Name: "id", Type: common.BigintType()},
		{Name: "name", Type: common.VarcharType()},
		{Name: "price", Type: common.DecimalType(10, 2)},
	}
}

// fillItems writes the rows [from, from+count) into data.
func fillItems(data *chunk.Chunk, from, count int) error {
	data.Reset()
	for i := 0; i < count; i++ {
		id := from + i
		data.Data[0].SetValue(i, chunk.NewBigintValue(int64(id)))
		data.Data[1].SetValue(i, chunk.NewVarcharValue(fmt.Sprintf("item-%06d", id)))
		price, err := chunk.NewDecimalValue(fmt.Sprintf("%d.%02d", id%1000, id%100), 10, 2)
		if err != nil {
			return err
		}
		data.Data[2].SetValue(i, price)
	}
	data.SetCard(count)
	return nil
}

// runBuild creates the table file, appends the generated rows,
// deletes every deleteEvery-th row and checkpoints.
func runBuild(cfg *util.Config, rows int, deleteEvery int) (err error) {
	blockMgr, err := storage.NewFileBlockMgr(cfg.Storage.Path, cfg.Storage.BlockSize, true)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, blockMgr.Close())
	}()
	layout := storage.NewLayout(cfg.Storage)
	txnMgr := storage.NewTxnMgr()
	info := storage.NewDataTableInfo("main", "items", layout, itemColumns())
	table := storage.NewRowGroupCollection(blockMgr, info, txnMgr, 0, 0)

	txn, err := txnMgr.NewTxn("build")
	if err != nil {
		return err
	}
	vs := int(layout.VectorSize)
	data := chunk.NewChunk(info.Types(), vs)
	for from := 0; from < rows; from += vs {
		err = fillItems(data, from, min(vs, rows-from))
		if err == nil {
			err = table.AppendData(txn.Data(), data)
		}
		if err != nil {
			txnMgr.Rollback(txn)
			return err
		}
	}
	err = txnMgr.Commit(txn)
	if err != nil {
		return err
	}

	if deleteEvery > 0 {
		txn, err = txnMgr.NewTxn("delete")
		if err != nil {
			return err
		}
		var ids []storage.RowType
		for row := deleteEvery - 1; row < rows; row += deleteEvery {
			ids = append(ids, storage.RowType(row))
		}
		var cnt storage.IdxType
		cnt, err = table.Delete(txn.Data(), ids, storage.IdxType(len(ids)))
		if err != nil {
			txnMgr.Rollback(txn)
			return err
		}
		err = txnMgr.Commit(txn)
		if err != nil {
			return err
		}
		util.Info("delete rows", zap.Uint64("count", uint64(cnt)))
	}

	err = table.Checkpoint()
	if err != nil {
		return err
	}
	util.Info("build table",
		zap.String("path", cfg.Storage.Path),
		zap.String("layout", layout.String()),
		zap.Uint64("rows", uint64(table.TotalRows())),
		zap.Uint64("rowGroups", uint64(table.RowGroupCount())),
		zap.Uint64("blocks", blockMgr.TotalBlocks()))
	return nil
}

// runInspect loads the table file and prints the rows with id >= minId.
func runInspect(cfg *util.Config, minId int64, out io.Writer) (err error) {
	blockMgr, err := storage.NewFileBlockMgr(cfg.Storage.Path, 0, false)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, blockMgr.Close())
	}()
	txnMgr := storage.NewTxnMgr()
	table, err := storage.LoadRowGroupCollection(blockMgr, txnMgr)
	if err != nil {
		return err
	}
	if cfg.Debug.PrintTree {
		tree := treeprint.New()
		table.Print(tree)
		fmt.Fprintln(out, tree.String())
	}

	txn, err := txnMgr.NewTxn("inspect")
	if err != nil {
		return err
	}
	defer txnMgr.Rollback(txn)

	types := table.Types()
	columnIds := make([]storage.IdxType, 0, len(types)+1)
	for i := range types {
		columnIds = append(columnIds, storage.IdxType(i))
	}
	columnIds = append(columnIds, storage.COLUMN_IDENTIFIER_ROW_ID)
	filters := storage.NewTableFilterSet()
	filters.PushFilter(0, storage.NewConstantFilter(storage.COMPARE_GREATER_EQUAL, chunk.NewBigintValue(minId)))
	scanState := storage.NewCollectionScanState(columnIds, filters)
	err = table.InitScan(scanState)
	if err != nil {
		return err
	}

	resultTypes := append(util.CopyTo(types), common.BigintType())
	result := chunk.NewChunk(resultTypes, int(table.Layout().VectorSize))
	total := 0
	for {
		result.Reset()
		err = table.Scan(txn.Data(), scanState, result)
		if err != nil {
			return err
		}
		if result.Card() == 0 {
			break
		}
		if cfg.Debug.PrintResult {
			for i := 0; i < result.Card() && total+i < cfg.Debug.MaxPrintRow; i++ {
				vals := result.Row(i)
				strs := make([]string, len(vals))
				for j, val := range vals {
					strs[j] = val.String()
				}
				fmt.Fprintln(out, strings.Join(strs, "\t"))
			}
		}
		total += result.Card()
	}

	fmt.Fprintf(out, "table %s rows %d visible %d (id >= %d)\n",
		table.Info(), table.TotalRows(), total, minId)
	for i := range types {
		fmt.Fprintf(out, "column %d %v stats %s distinct ~%d\n",
			i, types[i], table.GetStats(storage.IdxType(i)).String(), table.DistinctCount(storage.IdxType(i)))
	}
	storageInfo, err := table.GetStorageInfo()
	if err != nil {
		return err
	}
	fmt.Fprint(out, storageInfo.String())
	return nil
}
