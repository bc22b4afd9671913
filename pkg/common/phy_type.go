package common

import "fmt"

type PhyType int

const (
	NA      PhyType = 0
	BOOL    PhyType = 1
	INT32   PhyType = 7
	UINT64  PhyType = 8
	INT64   PhyType = 9
	DOUBLE  PhyType = 12
	VARCHAR PhyType = 200
	DECIMAL PhyType = 209

	INVALID PhyType = 255
)

var pTypeToStr = map[PhyType]string{
	NA:      "NA",
	BOOL:    "BOOL",
	INT32:   "INT32",
	UINT64:  "UINT64",
	INT64:   "INT64",
	DOUBLE:  "DOUBLE",
	VARCHAR: "VARCHAR",
	DECIMAL: "DECIMAL",
	INVALID: "INVALID",
}

func (pt PhyType) String() string {
	if s, has := pTypeToStr[pt]; has {
		return s
	}
	panic(fmt.Sprintf("usp %d", int(pt)))
}

// Size is the fixed width of the type in a segment.
// VARCHAR is variable and returns 0.
func (pt PhyType) Size() int {
	switch pt {
	case BOOL:
		return 1
	case INT32:
		return 4
	case INT64, UINT64, DOUBLE:
		return 8
	case DECIMAL:
		return 16
	case VARCHAR, NA:
		return 0
	default:
		panic(fmt.Sprintf("usp %v", pt))
	}
}

func (pt PhyType) IsVarchar() bool {
	return pt == VARCHAR
}
