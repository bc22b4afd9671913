package storage

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/huandu/go-clone"

	"github.com/daviszhen/colstore/pkg/chunk"
	"github.com/daviszhen/colstore/pkg/common"
)

type FilterPropagateResult int

const (
	NO_PRUNING_POSSIBLE FilterPropagateResult = iota
	FILTER_ALWAYS_TRUE
	FILTER_ALWAYS_FALSE
)

func (res FilterPropagateResult) String() string {
	switch res {
	case FILTER_ALWAYS_TRUE:
		return "always_true"
	case FILTER_ALWAYS_FALSE:
		return "always_false"
	default:
		return "no_pruning"
	}
}

type CompareType int

const (
	COMPARE_EQUAL CompareType = iota
	COMPARE_NOT_EQUAL
	COMPARE_LESS
	COMPARE_LESS_EQUAL
	COMPARE_GREATER
	COMPARE_GREATER_EQUAL
)

func (typ CompareType) String() string {
	switch typ {
	case COMPARE_EQUAL:
		return "="
	case COMPARE_NOT_EQUAL:
		return "!="
	case COMPARE_LESS:
		return "<"
	case COMPARE_LESS_EQUAL:
		return "<="
	case COMPARE_GREATER:
		return ">"
	case COMPARE_GREATER_EQUAL:
		return ">="
	default:
		return "?"
	}
}

func (typ CompareType) apply(cmp int) bool {
	switch typ {
	case COMPARE_EQUAL:
		return cmp == 0
	case COMPARE_NOT_EQUAL:
		return cmp != 0
	case COMPARE_LESS:
		return cmp < 0
	case COMPARE_LESS_EQUAL:
		return cmp <= 0
	case COMPARE_GREATER:
		return cmp > 0
	case COMPARE_GREATER_EQUAL:
		return cmp >= 0
	default:
		panic(fmt.Sprintf("usp compare type %d", typ))
	}
}

// TableFilter is a predicate on one column pushed into a scan.
type TableFilter interface {
	// Bind converts the filter constants to the column type.
	Bind(typ common.LType) error
	// CheckStatistics decides the filter for a whole zonemap range.
	CheckStatistics(stats *BaseStats) FilterPropagateResult
	// Select narrows the first count entries of sel to the rows
	// of vec passing the filter and returns the new count.
	Select(vec *chunk.Vector, sel *chunk.SelectVector, count int) int
	String() string
}

var _ TableFilter = &ConstantFilter{}
var _ TableFilter = &IsNullFilter{}
var _ TableFilter = &IsNotNullFilter{}
var _ TableFilter = &ConjunctionAndFilter{}
var _ TableFilter = &ConjunctionOrFilter{}

// ConstantFilter is "column <cmp> constant". Nulls never pass.
type ConstantFilter struct {
	Cmp      CompareType
	Constant chunk.Value
}

func NewConstantFilter(cmp CompareType, val *chunk.Value) *ConstantFilter {
	return &ConstantFilter{
		Cmp:      cmp,
		Constant: *val,
	}
}

func (filter *ConstantFilter) Bind(typ common.LType) error {
	if filter.Constant.Typ.Equal(typ) {
		return nil
	}
	val, err := filter.Constant.CastAs(typ)
	if err != nil {
		return err
	}
	filter.Constant = *val
	return nil
}

func (filter *ConstantFilter) CheckStatistics(stats *BaseStats) FilterPropagateResult {
	if filter.Constant.IsNull {
		return FILTER_ALWAYS_FALSE
	}
	minVal, has := stats.Min()
	if !has {
		if !stats.HasNoNull() {
			//all null
			return FILTER_ALWAYS_FALSE
		}
		return NO_PRUNING_POSSIBLE
	}
	maxVal, _ := stats.Max()
	val := &filter.Constant
	minCmp := minVal.Compare(val)
	maxCmp := maxVal.Compare(val)
	res := NO_PRUNING_POSSIBLE
	switch filter.Cmp {
	case COMPARE_EQUAL:
		if minCmp > 0 || maxCmp < 0 {
			return FILTER_ALWAYS_FALSE
		}
		if minCmp == 0 && maxCmp == 0 {
			res = FILTER_ALWAYS_TRUE
		}
	case COMPARE_NOT_EQUAL:
		if minCmp == 0 && maxCmp == 0 {
			return FILTER_ALWAYS_FALSE
		}
		if minCmp > 0 || maxCmp < 0 {
			res = FILTER_ALWAYS_TRUE
		}
	case COMPARE_LESS:
		if minCmp >= 0 {
			return FILTER_ALWAYS_FALSE
		}
		if maxCmp < 0 {
			res = FILTER_ALWAYS_TRUE
		}
	case COMPARE_LESS_EQUAL:
		if minCmp > 0 {
			return FILTER_ALWAYS_FALSE
		}
		if maxCmp <= 0 {
			res = FILTER_ALWAYS_TRUE
		}
	case COMPARE_GREATER:
		if maxCmp <= 0 {
			return FILTER_ALWAYS_FALSE
		}
		if minCmp > 0 {
			res = FILTER_ALWAYS_TRUE
		}
	case COMPARE_GREATER_EQUAL:
		if maxCmp < 0 {
			return FILTER_ALWAYS_FALSE
		}
		if minCmp >= 0 {
			res = FILTER_ALWAYS_TRUE
		}
	}
	if res == FILTER_ALWAYS_TRUE && stats.HasNull() {
		return NO_PRUNING_POSSIBLE
	}
	return res
}

func (filter *ConstantFilter) Select(vec *chunk.Vector, sel *chunk.SelectVector, count int) int {
	if filter.Constant.IsNull {
		return 0
	}
	return sel.Filter(count, func(idx int) bool {
		if vec.IsNull(idx) {
			return false
		}
		return filter.Cmp.apply(vec.GetValue(idx).Compare(&filter.Constant))
	})
}

func (filter *ConstantFilter) String() string {
	return fmt.Sprintf("%s %v", filter.Cmp, filter.Constant)
}

type IsNullFilter struct {
}

func (filter *IsNullFilter) Bind(common.LType) error {
	return nil
}

func (filter *IsNullFilter) CheckStatistics(stats *BaseStats) FilterPropagateResult {
	if !stats.HasNull() {
		return FILTER_ALWAYS_FALSE
	}
	if !stats.HasNoNull() {
		return FILTER_ALWAYS_TRUE
	}
	return NO_PRUNING_POSSIBLE
}

func (filter *IsNullFilter) Select(vec *chunk.Vector, sel *chunk.SelectVector, count int) int {
	return sel.Filter(count, vec.IsNull)
}

func (filter *IsNullFilter) String() string {
	return "IS NULL"
}

type IsNotNullFilter struct {
}

func (filter *IsNotNullFilter) Bind(common.LType) error {
	return nil
}

func (filter *IsNotNullFilter) CheckStatistics(stats *BaseStats) FilterPropagateResult {
	if !stats.HasNoNull() {
		return FILTER_ALWAYS_FALSE
	}
	if !stats.HasNull() {
		return FILTER_ALWAYS_TRUE
	}
	return NO_PRUNING_POSSIBLE
}

func (filter *IsNotNullFilter) Select(vec *chunk.Vector, sel *chunk.SelectVector, count int) int {
	return sel.Filter(count, func(idx int) bool {
		return !vec.IsNull(idx)
	})
}

func (filter *IsNotNullFilter) String() string {
	return "IS NOT NULL"
}

type ConjunctionAndFilter struct {
	Children []TableFilter
}

func (filter *ConjunctionAndFilter) Bind(typ common.LType) error {
	for _, child := range filter.Children {
		if err := child.Bind(typ); err != nil {
			return err
		}
	}
	return nil
}

func (filter *ConjunctionAndFilter) CheckStatistics(stats *BaseStats) FilterPropagateResult {
	res := FILTER_ALWAYS_TRUE
	for _, child := range filter.Children {
		switch child.CheckStatistics(stats) {
		case FILTER_ALWAYS_FALSE:
			return FILTER_ALWAYS_FALSE
		case NO_PRUNING_POSSIBLE:
			res = NO_PRUNING_POSSIBLE
		}
	}
	return res
}

func (filter *ConjunctionAndFilter) Select(vec *chunk.Vector, sel *chunk.SelectVector, count int) int {
	for _, child := range filter.Children {
		count = child.Select(vec, sel, count)
		if count == 0 {
			break
		}
	}
	return count
}

func (filter *ConjunctionAndFilter) String() string {
	return conjunctionString(filter.Children, " AND ")
}

type ConjunctionOrFilter struct {
	Children []TableFilter
}

func (filter *ConjunctionOrFilter) Bind(typ common.LType) error {
	for _, child := range filter.Children {
		if err := child.Bind(typ); err != nil {
			return err
		}
	}
	return nil
}

func (filter *ConjunctionOrFilter) CheckStatistics(stats *BaseStats) FilterPropagateResult {
	res := FILTER_ALWAYS_FALSE
	for _, child := range filter.Children {
		switch child.CheckStatistics(stats) {
		case FILTER_ALWAYS_TRUE:
			return FILTER_ALWAYS_TRUE
		case NO_PRUNING_POSSIBLE:
			res = NO_PRUNING_POSSIBLE
		}
	}
	return res
}

func (filter *ConjunctionOrFilter) Select(vec *chunk.Vector, sel *chunk.SelectVector, count int) int {
	if len(filter.Children) == 0 {
		return 0
	}
	base := chunk.NewSelectVector3(sel.Slice(&chunk.SelectVector{}, count))
	passed := make([]bool, count)
	for _, child := range filter.Children {
		childSel := chunk.NewSelectVector3(append([]int{}, base.SelVec...))
		childCnt := child.Select(vec, childSel, count)
		j := 0
		for i := 0; i < count && j < childCnt; i++ {
			if base.SelVec[i] == childSel.SelVec[j] {
				passed[i] = true
				j++
			}
		}
	}
	if sel.Invalid() {
		sel.Init(count)
	}
	res := 0
	for i := 0; i < count; i++ {
		if passed[i] {
			sel.SetIndex(res, base.SelVec[i])
			res++
		}
	}
	return res
}

func (filter *ConjunctionOrFilter) String() string {
	return conjunctionString(filter.Children, " OR ")
}

func conjunctionString(children []TableFilter, sep string) string {
	parts := make([]string, len(children))
	for i, child := range children {
		parts[i] = child.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// TableFilterSet maps a scanned column index to its filter.
type TableFilterSet struct {
	_filters map[IdxType]TableFilter
}

func NewTableFilterSet() *TableFilterSet {
	return &TableFilterSet{
		_filters: make(map[IdxType]TableFilter),
	}
}

// PushFilter adds filter on column idx. Several filters on the same
// column are combined with AND.
func (set *TableFilterSet) PushFilter(idx IdxType, filter TableFilter) {
	old, has := set._filters[idx]
	if !has {
		set._filters[idx] = filter
		return
	}
	if and, ok := old.(*ConjunctionAndFilter); ok {
		and.Children = append(and.Children, filter)
		return
	}
	set._filters[idx] = &ConjunctionAndFilter{
		Children: []TableFilter{old, filter},
	}
}

func (set *TableFilterSet) Len() int {
	return len(set._filters)
}

// Columns lists the filtered column indexes in ascending order.
func (set *TableFilterSet) Columns() []IdxType {
	ret := make([]IdxType, 0, len(set._filters))
	for idx := range set._filters {
		ret = append(ret, idx)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i] < ret[j]
	})
	return ret
}

func (set *TableFilterSet) Get(idx IdxType) TableFilter {
	return set._filters[idx]
}

// Copy is a deep copy. Binding the copy leaves the original untouched.
func (set *TableFilterSet) Copy() *TableFilterSet {
	return clone.Clone(set).(*TableFilterSet)
}

func (set *TableFilterSet) String() string {
	sb := strings.Builder{}
	for i, idx := range set.Columns() {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(fmt.Sprintf("#%d %s", idx, set._filters[idx]))
	}
	return sb.String()
}

const (
	ADAPTIVE_WARMUP_ITERATIONS   = 5
	ADAPTIVE_OBSERVE_INTERVAL    = 10
	ADAPTIVE_EXECUTE_INTERVAL    = 20
	ADAPTIVE_SWAP_LIKELINESS     = 100
	ADAPTIVE_MIN_SWAP_LIKELINESS = 1
)

// AdaptiveFilter reorders the filters of a scan by measured runtime.
// After a warmup it alternates execute windows, ending in a random
// swap of two adjacent filters, and observe windows that keep the swap
// only when the mean runtime went down.
type AdaptiveFilter struct {
	Permutation []IdxType

	_swapLikeliness []int
	_swapIdx        int
	_iterationCount int
	_runtimeSum     float64
	_prevMean       float64
	_observe        bool
	_warmup         bool
	_rand           *rand.Rand
}

func NewAdaptiveFilter(set *TableFilterSet) *AdaptiveFilter {
	ret := &AdaptiveFilter{
		Permutation: set.Columns(),
		_warmup:     true,
		_rand:       rand.New(rand.NewPCG(uint64(set.Len()), 0x5eed)),
	}
	for i := 1; i < len(ret.Permutation); i++ {
		ret._swapLikeliness = append(ret._swapLikeliness, ADAPTIVE_SWAP_LIKELINESS)
	}
	return ret
}

// AdaptRuntimeStatistics records the runtime of one filtered vector.
func (filter *AdaptiveFilter) AdaptRuntimeStatistics(duration float64) {
	filter._iterationCount++
	filter._runtimeSum += duration
	if filter._warmup {
		if filter._iterationCount == ADAPTIVE_WARMUP_ITERATIONS {
			filter.resetWindow()
			filter._warmup = false
		}
		return
	}
	if len(filter.Permutation) < 2 {
		return
	}
	if filter._observe && filter._iterationCount == ADAPTIVE_OBSERVE_INTERVAL {
		mean := filter._runtimeSum / float64(filter._iterationCount)
		if filter._prevMean-mean <= 0 {
			//undo the swap
			filter.swap(filter._swapIdx)
			if filter._swapLikeliness[filter._swapIdx] > ADAPTIVE_MIN_SWAP_LIKELINESS {
				filter._swapLikeliness[filter._swapIdx] /= 2
			}
		} else {
			filter._swapLikeliness[filter._swapIdx] = ADAPTIVE_SWAP_LIKELINESS
		}
		filter._observe = false
		filter.resetWindow()
	} else if !filter._observe && filter._iterationCount == ADAPTIVE_EXECUTE_INTERVAL {
		filter._prevMean = filter._runtimeSum / float64(filter._iterationCount)
		chance := filter._rand.IntN(ADAPTIVE_SWAP_LIKELINESS) + 1
		filter._swapIdx = filter._rand.IntN(len(filter._swapLikeliness))
		if filter._swapLikeliness[filter._swapIdx] > chance {
			filter.swap(filter._swapIdx)
			filter._observe = true
		}
		filter.resetWindow()
	}
}

func (filter *AdaptiveFilter) swap(idx int) {
	filter.Permutation[idx], filter.Permutation[idx+1] =
		filter.Permutation[idx+1], filter.Permutation[idx]
}

func (filter *AdaptiveFilter) resetWindow() {
	filter._iterationCount = 0
	filter._runtimeSum = 0
}
