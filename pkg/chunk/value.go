package chunk

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	metro "github.com/dgryski/go-metro"
	dec "github.com/govalues/decimal"

	"github.com/daviszhen/colstore/pkg/common"
	"github.com/daviszhen/colstore/pkg/util"
)

const hashSeed uint64 = 1337

type Value struct {
	Typ    common.LType
	IsNull bool
	//value
	Bool bool
	I64  int64
	U64  uint64
	F64  float64
	Str  string
	Dec  dec.Decimal
}

func NewNullValue(typ common.LType) *Value {
	return &Value{Typ: typ, IsNull: true}
}

func NewBooleanValue(b bool) *Value {
	return &Value{Typ: common.BooleanType(), Bool: b}
}

func NewIntegerValue(v int32) *Value {
	return &Value{Typ: common.IntegerType(), I64: int64(v)}
}

func NewBigintValue(v int64) *Value {
	return &Value{Typ: common.BigintType(), I64: v}
}

func NewUbigintValue(v uint64) *Value {
	return &Value{Typ: common.UbigintType(), U64: v}
}

func NewDoubleValue(v float64) *Value {
	return &Value{Typ: common.DoubleType(), F64: v}
}

func NewVarcharValue(s string) *Value {
	return &Value{Typ: common.VarcharType(), Str: s}
}

// NewDecimalValue parses s into a DECIMAL(width,scale) value.
func NewDecimalValue(s string, width, scale int) (*Value, error) {
	d, err := dec.ParseExact(s, scale)
	if err != nil {
		return nil, err
	}
	return &Value{Typ: common.DecimalType(width, scale), Dec: d}, nil
}

func (val Value) String() string {
	if val.IsNull {
		return "NULL"
	}
	switch val.Typ.Id {
	case common.LTID_INTEGER, common.LTID_BIGINT:
		return fmt.Sprintf("%d", val.I64)
	case common.LTID_UBIGINT:
		return fmt.Sprintf("%d", val.U64)
	case common.LTID_BOOLEAN:
		return fmt.Sprintf("%v", val.Bool)
	case common.LTID_VARCHAR:
		return val.Str
	case common.LTID_DECIMAL:
		return val.Dec.String()
	case common.LTID_DOUBLE:
		return fmt.Sprintf("%v", val.F64)
	default:
		panic("usp")
	}
}

func (val *Value) Copy() *Value {
	ret := *val
	return &ret
}

// Compare orders two non-null values of the same type.
func (val *Value) Compare(o *Value) int {
	util.AssertFunc(!val.IsNull && !o.IsNull)
	switch val.Typ.Id {
	case common.LTID_BOOLEAN:
		if val.Bool == o.Bool {
			return 0
		} else if !val.Bool {
			return -1
		}
		return 1
	case common.LTID_INTEGER, common.LTID_BIGINT:
		return cmp.Compare(val.I64, o.I64)
	case common.LTID_UBIGINT:
		return cmp.Compare(val.U64, o.U64)
	case common.LTID_DOUBLE:
		return cmp.Compare(val.F64, o.F64)
	case common.LTID_VARCHAR:
		return cmp.Compare(val.Str, o.Str)
	case common.LTID_DECIMAL:
		return val.Dec.Cmp(o.Dec)
	default:
		panic(fmt.Sprintf("usp compare %v", val.Typ))
	}
}

func (val *Value) Equal(o *Value) bool {
	if val.IsNull || o.IsNull {
		return val.IsNull == o.IsNull
	}
	return val.Typ.Equal(o.Typ) && val.Compare(o) == 0
}

// Hash of a non-null value. Used by distinct statistics.
func (val *Value) Hash() uint64 {
	var buf [8]byte
	switch val.Typ.Id {
	case common.LTID_BOOLEAN:
		if val.Bool {
			buf[0] = 1
		}
		return metro.Hash64(buf[:1], hashSeed)
	case common.LTID_INTEGER, common.LTID_BIGINT:
		binary.LittleEndian.PutUint64(buf[:], uint64(val.I64))
	case common.LTID_UBIGINT:
		binary.LittleEndian.PutUint64(buf[:], val.U64)
	case common.LTID_DOUBLE:
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(val.F64))
	case common.LTID_VARCHAR:
		return metro.Hash64([]byte(val.Str), hashSeed)
	case common.LTID_DECIMAL:
		return metro.Hash64([]byte(val.Dec.String()), hashSeed)
	default:
		panic(fmt.Sprintf("usp hash %v", val.Typ))
	}
	return metro.Hash64(buf[:], hashSeed)
}

// CastAs converts the value to typ.
func (val *Value) CastAs(typ common.LType) (*Value, error) {
	if val.IsNull {
		return NewNullValue(typ), nil
	}
	if val.Typ.Equal(typ) {
		return val.Copy(), nil
	}
	ret := &Value{Typ: typ}
	switch typ.Id {
	case common.LTID_VARCHAR:
		ret.Str = val.String()
		return ret, nil
	case common.LTID_INTEGER, common.LTID_BIGINT:
		var i int64
		switch val.Typ.Id {
		case common.LTID_INTEGER, common.LTID_BIGINT:
			i = val.I64
		case common.LTID_UBIGINT:
			if val.U64 > math.MaxInt64 {
				return nil, fmt.Errorf("cast %d to %v overflows", val.U64, typ)
			}
			i = int64(val.U64)
		case common.LTID_BOOLEAN:
			if val.Bool {
				i = 1
			}
		case common.LTID_DOUBLE:
			i = int64(math.Round(val.F64))
		case common.LTID_DECIMAL:
			whole, _, ok := val.Dec.Round(0).Int64(0)
			if !ok {
				return nil, fmt.Errorf("cast %v to %v overflows", val.Dec, typ)
			}
			i = whole
		case common.LTID_VARCHAR:
			parsed, err := strconv.ParseInt(val.Str, 10, 64)
			if err != nil {
				return nil, err
			}
			i = parsed
		default:
			return nil, fmt.Errorf("cast %v to %v unsupported", val.Typ, typ)
		}
		if typ.Id == common.LTID_INTEGER && (i > math.MaxInt32 || i < math.MinInt32) {
			return nil, fmt.Errorf("cast %d to %v overflows", i, typ)
		}
		ret.I64 = i
		return ret, nil
	case common.LTID_DOUBLE:
		switch val.Typ.Id {
		case common.LTID_INTEGER, common.LTID_BIGINT:
			ret.F64 = float64(val.I64)
		case common.LTID_UBIGINT:
			ret.F64 = float64(val.U64)
		case common.LTID_DECIMAL:
			f, _ := val.Dec.Float64()
			ret.F64 = f
		case common.LTID_VARCHAR:
			f, err := strconv.ParseFloat(val.Str, 64)
			if err != nil {
				return nil, err
			}
			ret.F64 = f
		default:
			return nil, fmt.Errorf("cast %v to %v unsupported", val.Typ, typ)
		}
		return ret, nil
	case common.LTID_DECIMAL:
		var s string
		switch val.Typ.Id {
		case common.LTID_INTEGER, common.LTID_BIGINT:
			s = strconv.FormatInt(val.I64, 10)
		case common.LTID_UBIGINT:
			s = strconv.FormatUint(val.U64, 10)
		case common.LTID_DECIMAL:
			s = val.Dec.Round(typ.Scale).String()
		case common.LTID_DOUBLE:
			d, err := dec.NewFromFloat64(val.F64)
			if err != nil {
				return nil, err
			}
			s = d.Round(typ.Scale).String()
		case common.LTID_VARCHAR:
			s = val.Str
		default:
			return nil, fmt.Errorf("cast %v to %v unsupported", val.Typ, typ)
		}
		d, err := dec.ParseExact(s, typ.Scale)
		if err != nil {
			return nil, err
		}
		ret.Dec = d
		return ret, nil
	case common.LTID_BOOLEAN:
		switch val.Typ.Id {
		case common.LTID_INTEGER, common.LTID_BIGINT:
			ret.Bool = val.I64 != 0
		case common.LTID_VARCHAR:
			b, err := strconv.ParseBool(val.Str)
			if err != nil {
				return nil, err
			}
			ret.Bool = b
		default:
			return nil, fmt.Errorf("cast %v to %v unsupported", val.Typ, typ)
		}
		return ret, nil
	default:
		return nil, fmt.Errorf("cast %v to %v unsupported", val.Typ, typ)
	}
}

// Serialize writes the payload of the value. The type is not written.
func (val *Value) Serialize(serial util.Serialize) error {
	err := util.Write[bool](val.IsNull, serial)
	if err != nil || val.IsNull {
		return err
	}
	switch val.Typ.Id {
	case common.LTID_BOOLEAN:
		return util.Write[bool](val.Bool, serial)
	case common.LTID_INTEGER, common.LTID_BIGINT:
		return util.Write[int64](val.I64, serial)
	case common.LTID_UBIGINT:
		return util.Write[uint64](val.U64, serial)
	case common.LTID_DOUBLE:
		return util.Write[float64](val.F64, serial)
	case common.LTID_VARCHAR:
		return util.WriteString(val.Str, serial)
	case common.LTID_DECIMAL:
		return util.WriteString(val.Dec.String(), serial)
	default:
		return fmt.Errorf("usp serialize %v", val.Typ)
	}
}

func DeserializeValue(typ common.LType, deserial util.Deserialize) (*Value, error) {
	ret := &Value{Typ: typ}
	err := util.Read[bool](&ret.IsNull, deserial)
	if err != nil || ret.IsNull {
		return ret, err
	}
	switch typ.Id {
	case common.LTID_BOOLEAN:
		err = util.Read[bool](&ret.Bool, deserial)
	case common.LTID_INTEGER, common.LTID_BIGINT:
		err = util.Read[int64](&ret.I64, deserial)
	case common.LTID_UBIGINT:
		err = util.Read[uint64](&ret.U64, deserial)
	case common.LTID_DOUBLE:
		err = util.Read[float64](&ret.F64, deserial)
	case common.LTID_VARCHAR:
		ret.Str, err = util.ReadString(deserial)
	case common.LTID_DECIMAL:
		var s string
		s, err = util.ReadString(deserial)
		if err != nil {
			return nil, err
		}
		ret.Dec, err = dec.ParseExact(s, typ.Scale)
	default:
		err = fmt.Errorf("usp deserialize %v", typ)
	}
	if err != nil {
		return nil, err
	}
	return ret, nil
}
