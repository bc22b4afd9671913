package common

import (
	"fmt"

	"github.com/daviszhen/colstore/pkg/util"
)

// LType is the logical type of a column.
type LType struct {
	Id    LTypeId
	PTyp  PhyType
	Width int
	Scale int
}

func (lt LType) Serialize(serial util.Serialize) error {
	err := util.Write[int](int(lt.Id), serial)
	if err != nil {
		return err
	}
	err = util.Write[int](lt.Width, serial)
	if err != nil {
		return err
	}
	return util.Write[int](lt.Scale, serial)
}

func DeserializeLType(deserial util.Deserialize) (LType, error) {
	id := 0
	width := 0
	scale := 0
	err := util.Read[int](&id, deserial)
	if err != nil {
		return LType{}, err
	}
	err = util.Read[int](&width, deserial)
	if err != nil {
		return LType{}, err
	}
	err = util.Read[int](&scale, deserial)
	if err != nil {
		return LType{}, err
	}
	if _, has := lTypeIdToStr[LTypeId(id)]; !has {
		return LType{}, fmt.Errorf("unknown logical type id %d", id)
	}
	ret := LType{
		Id:    LTypeId(id),
		Width: width,
		Scale: scale,
	}
	ret.PTyp = ret.GetInternalType()
	return ret, nil
}

func MakeLType(id LTypeId) LType {
	ret := LType{Id: id}
	ret.PTyp = ret.GetInternalType()
	return ret
}

func Null() LType {
	return MakeLType(LTID_NULL)
}

func DecimalType(width, scale int) LType {
	ret := MakeLType(LTID_DECIMAL)
	ret.Width = width
	ret.Scale = scale
	return ret
}

func BigintType() LType {
	return MakeLType(LTID_BIGINT)
}

func IntegerType() LType {
	return MakeLType(LTID_INTEGER)
}

func DoubleType() LType {
	return MakeLType(LTID_DOUBLE)
}

func VarcharType() LType {
	return MakeLType(LTID_VARCHAR)
}

func BooleanType() LType {
	return MakeLType(LTID_BOOLEAN)
}

func UbigintType() LType {
	return MakeLType(LTID_UBIGINT)
}

// RowIdType is the type of the synthesized row id column.
func RowIdType() LType {
	return BigintType()
}

func (lt LType) IsNumeric() bool {
	switch lt.Id {
	case LTID_INTEGER, LTID_BIGINT, LTID_UBIGINT, LTID_DOUBLE, LTID_DECIMAL:
		return true
	default:
		return false
	}
}

func (lt LType) IsIntegral() bool {
	switch lt.Id {
	case LTID_INTEGER, LTID_BIGINT, LTID_UBIGINT:
		return true
	default:
		return false
	}
}

func (lt LType) Equal(o LType) bool {
	if lt.Id != o.Id {
		return false
	}
	switch lt.Id {
	case LTID_DECIMAL:
		return lt.Width == o.Width && lt.Scale == o.Scale
	default:
	}
	return true
}

func (lt LType) GetInternalType() PhyType {
	switch lt.Id {
	case LTID_BOOLEAN:
		return BOOL
	case LTID_NULL, LTID_INTEGER:
		return INT32
	case LTID_BIGINT:
		return INT64
	case LTID_UBIGINT:
		return UINT64
	case LTID_DOUBLE:
		return DOUBLE
	case LTID_DECIMAL:
		return DECIMAL
	case LTID_VARCHAR:
		return VARCHAR
	case LTID_INVALID:
		return INVALID
	default:
		panic(fmt.Sprintf("usp logical type %d", int(lt.Id)))
	}
}

func (lt LType) String() string {
	switch lt.Id {
	case LTID_DECIMAL:
		return fmt.Sprintf("DECIMAL(%d,%d)", lt.Width, lt.Scale)
	case LTID_BOOLEAN:
		return "BOOLEAN"
	case LTID_INTEGER:
		return "INTEGER"
	case LTID_BIGINT:
		return "BIGINT"
	case LTID_UBIGINT:
		return "UBIGINT"
	case LTID_DOUBLE:
		return "DOUBLE"
	case LTID_VARCHAR:
		return "VARCHAR"
	case LTID_NULL:
		return "NULL"
	default:
		return lt.Id.String()
	}
}
