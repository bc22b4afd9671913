package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/colstore/pkg/common"
)

func TestSelectVectorIntersect(t *testing.T) {
	a := NewSelectVector3([]int{0, 2, 3, 5, 7})
	b := NewSelectVector3([]int{1, 2, 5, 6, 7})
	cnt := a.Intersect(5, b, 5)
	assert.Equal(t, 3, cnt)
	assert.Equal(t, []int{2, 5, 7}, a.SelVec[:cnt])

	identity := &SelectVector{}
	cnt = identity.Intersect(4, NewSelectVector3([]int{1, 3}), 2)
	assert.Equal(t, 2, cnt)
	assert.Equal(t, []int{1, 3}, identity.SelVec[:cnt])
}

func TestSelectVectorFilter(t *testing.T) {
	sel := &SelectVector{}
	cnt := sel.Filter(6, func(idx int) bool { return idx%2 == 0 })
	assert.Equal(t, 3, cnt)
	assert.Equal(t, []int{0, 2, 4}, sel.SelVec[:cnt])
	cnt = sel.Filter(cnt, func(idx int) bool { return idx > 0 })
	assert.Equal(t, []int{2, 4}, sel.SelVec[:cnt])
}

func TestVectorSliceKeepsNulls(t *testing.T) {
	vec := NewVector(common.BigintType(), 4)
	vec.SetValue(0, NewBigintValue(10))
	vec.SetValue(1, NewNullValue(common.BigintType()))
	vec.SetValue(2, NewBigintValue(30))
	vec.SetValue(3, NewNullValue(common.BigintType()))
	vec.Slice(NewSelectVector3([]int{1, 2}), 2)
	assert.True(t, vec.IsNull(0))
	assert.False(t, vec.IsNull(1))
	assert.Equal(t, int64(30), vec.GetValue(1).I64)
}

func TestVectorSequence(t *testing.T) {
	vec := NewVector(common.RowIdType(), 4)
	vec.Sequence(100, 1, 4)
	for i := 0; i < 4; i++ {
		assert.Equal(t, int64(100+i), vec.GetValue(i).I64)
	}
}

func TestChunkSlice(t *testing.T) {
	c := NewChunk([]common.LType{common.IntegerType(), common.VarcharType()}, 4)
	for i := 0; i < 4; i++ {
		c.Data[0].SetValue(i, NewIntegerValue(int32(i)))
		c.Data[1].SetValue(i, NewVarcharValue(string(rune('a'+i))))
	}
	c.SetCard(4)
	c.SliceItself(NewSelectVector3([]int{1, 3}), 2)
	require.Equal(t, 2, c.Card())
	assert.Equal(t, "b", c.Data[1].GetValue(0).Str)
	assert.Equal(t, int64(3), c.Data[0].GetValue(1).I64)
}

func TestValueCast(t *testing.T) {
	v, err := NewBigintValue(42).CastAs(common.DecimalType(10, 2))
	require.NoError(t, err)
	assert.Equal(t, "42.00", v.String())

	d, err := NewDecimalValue("12.345", 10, 3)
	require.NoError(t, err)
	r, err := d.CastAs(common.DecimalType(10, 1))
	require.NoError(t, err)
	assert.Equal(t, "12.3", r.String())

	i, err := NewVarcharValue("7").CastAs(common.IntegerType())
	require.NoError(t, err)
	assert.Equal(t, int64(7), i.I64)

	_, err = NewBigintValue(1 << 40).CastAs(common.IntegerType())
	require.Error(t, err)

	n, err := NewNullValue(common.BigintType()).CastAs(common.VarcharType())
	require.NoError(t, err)
	assert.True(t, n.IsNull)
}

func TestValueCompare(t *testing.T) {
	a, _ := NewDecimalValue("1.50", 10, 2)
	b, _ := NewDecimalValue("1.5", 10, 2)
	assert.Equal(t, 0, a.Compare(b))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, -1, NewVarcharValue("a").Compare(NewVarcharValue("b")))
	assert.True(t, NewNullValue(common.BigintType()).Equal(NewNullValue(common.BigintType())))

	assert.Equal(t, 1, NewBooleanValue(true).Compare(NewBooleanValue(false)))
	assert.Equal(t, -1, NewDoubleValue(-0.5).Compare(NewDoubleValue(2)))
	assert.Equal(t, 1, NewUbigintValue(1<<63).Compare(NewUbigintValue(1)))
	assert.NotEqual(t, NewUbigintValue(1).Hash(), NewUbigintValue(2).Hash())
}
