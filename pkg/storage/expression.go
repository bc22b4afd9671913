package storage

import (
	"fmt"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/common"
)

type ET int

const (
	ET_Column ET = iota //column of the input chunk
	ET_Const
	ET_Cast
)

// Expr computes the values of a new column from a scanned chunk.
type Expr struct {
	Typ      ET
	DataTyp  common.LType
	ColIdx   IdxType
	Value    *chunk.Value
	Children []*Expr
}

func ColumnExpr(idx IdxType, typ common.LType) *Expr {
	return &Expr{
		Typ:     ET_Column,
		DataTyp: typ,
		ColIdx:  idx,
	}
}

func ConstExpr(val *chunk.Value) *Expr {
	return &Expr{
		Typ:     ET_Const,
		DataTyp: val.Typ,
		Value:   val,
	}
}

func CastExpr(child *Expr, target common.LType) *Expr {
	return &Expr{
		Typ:      ET_Cast,
		DataTyp:  target,
		Children: []*Expr{child},
	}
}

func (e *Expr) String() string {
	switch e.Typ {
	case ET_Column:
		return fmt.Sprintf("#%d", e.ColIdx)
	case ET_Const:
		return e.Value.String()
	case ET_Cast:
		return fmt.Sprintf("cast(%s as %v)", e.Children[0], e.DataTyp)
	default:
		return fmt.Sprintf("unknown expr %d", e.Typ)
	}
}

// ExprExec evaluates one expression over chunks.
type ExprExec struct {
	_expr *Expr
}

func NewExprExec(expr *Expr) *ExprExec {
	return &ExprExec{_expr: expr}
}

// ExecuteExpr writes the value of the expression for every row of
// data into result.
func (exec *ExprExec) ExecuteExpr(data *chunk.Chunk, result *chunk.Vector) error {
	return exec.execute(exec._expr, data, data.Card(), result)
}

func (exec *ExprExec) execute(expr *Expr, data *chunk.Chunk, count int, result *chunk.Vector) error {
	if count == 0 {
		return nil
	}
	switch expr.Typ {
	case ET_Column:
		result.CopyFrom(data.Data[expr.ColIdx], 0, 0, count)
		return nil
	case ET_Const:
		for i := 0; i < count; i++ {
			result.SetValue(i, expr.Value)
		}
		return nil
	case ET_Cast:
		child := expr.Children[0]
		input := chunk.NewVector(child.DataTyp, count)
		err := exec.execute(child, data, count, input)
		if err != nil {
			return err
		}
		for i := 0; i < count; i++ {
			val, err := input.GetValue(i).CastAs(expr.DataTyp)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			result.SetValue(i, val)
		}
		return nil
	default:
		return fmt.Errorf("unsupported expr %v", expr)
	}
}
