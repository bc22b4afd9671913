package chunk

import (
	"fmt"
	"strings"

	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/util"
)

type Chunk struct {
	Data   []*Vector
	_count int
	_cap   int
}

func NewChunk(types []common.LType, cap int) *Chunk {
	c := &Chunk{}
	c.Init(types, cap)
	return c
}

func (c *Chunk) Init(types []common.LType, cap int) {
	c._cap = cap
	c._count = 0
	c.Data = make([]*Vector, len(types))
	for i, lType := range types {
		c.Data[i] = NewVector(lType, cap)
	}
}

func (c *Chunk) Reset() {
	for _, vec := range c.Data {
		vec.Init(c._cap)
	}
	c._count = 0
}

func (c *Chunk) Cap() int {
	return c._cap
}

func (c *Chunk) SetCard(count int) {
	util.AssertFunc(count <= c._cap)
	c._count = count
}

func (c *Chunk) Card() int {
	return c._count
}

func (c *Chunk) ColumnCount() int {
	return len(c.Data)
}

func (c *Chunk) Types() []common.LType {
	ret := make([]common.LType, len(c.Data))
	for i, vec := range c.Data {
		ret[i] = vec.Typ()
	}
	return ret
}

// SliceItself keeps the rows picked by sel in every column.
func (c *Chunk) SliceItself(sel *SelectVector, cnt int) {
	c._count = cnt
	for _, vec := range c.Data {
		vec.Slice(sel, cnt)
	}
}

// Reference makes c share the columns of other.
func (c *Chunk) Reference(other *Chunk) {
	util.AssertFunc(other.ColumnCount() <= c.ColumnCount())
	c.SetCap(other.Cap())
	c.SetCard(other.Card())
	for i := 0; i < other.ColumnCount(); i++ {
		c.Data[i].Reference(other.Data[i])
	}
}

func (c *Chunk) SetCap(cap int) {
	c._cap = cap
}

func (c *Chunk) Row(idx int) []*Value {
	ret := make([]*Value, len(c.Data))
	for i, vec := range c.Data {
		ret[i] = vec.GetValue(idx)
	}
	return ret
}

func (c *Chunk) String() string {
	sb := strings.Builder{}
	for i := 0; i < c.Card(); i++ {
		for j, vec := range c.Data {
			if j > 0 {
				sb.WriteString("\t")
			}
			sb.WriteString(vec.GetValue(i).String())
		}
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("rowCount %d\n", c.Card()))
	return sb.String()
}

func (c *Chunk) Print() {
	fmt.Print(c.String())
}
