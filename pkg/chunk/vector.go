package chunk

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/util"
)

// Vector is a column of values. Null rows are tracked in Mask,
// the IsNull flag of the stored values is not consulted.
type Vector struct {
	_Typ common.LType
	Data []Value
	Mask *roaring.Bitmap
}

func NewVector(lTyp common.LType, cap int) *Vector {
	vec := &Vector{
		_Typ: lTyp,
		Mask: roaring.New(),
	}
	vec.Init(cap)
	return vec
}

// NewConstVector has cap copies of val.
func NewConstVector(val *Value, cap int) *Vector {
	vec := NewVector(val.Typ, cap)
	for i := 0; i < cap; i++ {
		vec.SetValue(i, val)
	}
	return vec
}

func (vec *Vector) Init(cap int) {
	vec.Data = make([]Value, cap)
	vec.Mask.Clear()
}

func (vec *Vector) Typ() common.LType {
	return vec._Typ
}

func (vec *Vector) Cap() int {
	return len(vec.Data)
}

func (vec *Vector) Reference(other *Vector) {
	util.AssertFunc(vec.Typ().Equal(other.Typ()))
	vec.Data = other.Data
	vec.Mask = other.Mask
}

func (vec *Vector) IsNull(idx int) bool {
	return vec.Mask.Contains(uint32(idx))
}

func (vec *Vector) SetNull(idx int, null bool) {
	if null {
		vec.Mask.Add(uint32(idx))
	} else {
		vec.Mask.Remove(uint32(idx))
	}
}

func (vec *Vector) GetValue(idx int) *Value {
	if vec.IsNull(idx) {
		return NewNullValue(vec.Typ())
	}
	ret := vec.Data[idx]
	ret.Typ = vec.Typ()
	ret.IsNull = false
	return &ret
}

func (vec *Vector) SetValue(idx int, val *Value) {
	if val.IsNull {
		vec.Data[idx] = Value{Typ: vec.Typ()}
		vec.SetNull(idx, true)
		return
	}
	vec.Data[idx] = *val
	vec.Data[idx].Typ = vec.Typ()
	vec.SetNull(idx, false)
}

// Sequence fills the first count rows with start, start+incr, ...
func (vec *Vector) Sequence(start int64, incr int64, count int) {
	util.AssertFunc(vec.Typ().IsIntegral())
	vec.Mask.Clear()
	for i := 0; i < count; i++ {
		vec.Data[i] = Value{Typ: vec.Typ(), I64: start + int64(i)*incr}
	}
}

// Slice keeps the rows picked by sel in place.
func (vec *Vector) Slice(sel *SelectVector, count int) {
	data := make([]Value, len(vec.Data))
	mask := roaring.New()
	for i := 0; i < count; i++ {
		idx := sel.GetIndex(i)
		data[i] = vec.Data[idx]
		if vec.IsNull(idx) {
			mask.Add(uint32(i))
		}
	}
	vec.Data = data
	vec.Mask = mask
}

// CopyFrom copies count rows of src starting at srcOffset to dstOffset.
func (vec *Vector) CopyFrom(src *Vector, srcOffset, dstOffset, count int) {
	for i := 0; i < count; i++ {
		vec.SetValue(dstOffset+i, src.GetValue(srcOffset+i))
	}
}

func (vec *Vector) HasNull(count int) bool {
	for i := 0; i < count; i++ {
		if vec.IsNull(i) {
			return true
		}
	}
	return false
}

func (vec *Vector) Reset() {
	for i := range vec.Data {
		vec.Data[i] = Value{}
	}
	vec.Mask.Clear()
}
