package chunk

// SelectVector lists row positions. An uninitialized vector is the
// identity selection.
type SelectVector struct {
	SelVec []int
}

func NewSelectVector(count int) *SelectVector {
	vec := &SelectVector{}
	vec.Init(count)
	return vec
}

// NewSelectVector2 selects count consecutive rows from start.
func NewSelectVector2(start, count int) *SelectVector {
	vec := NewSelectVector(count)
	for i := 0; i < count; i++ {
		vec.SetIndex(i, start+i)
	}
	return vec
}

func NewSelectVector3(tuples []int) *SelectVector {
	return &SelectVector{SelVec: tuples}
}

func (svec *SelectVector) Invalid() bool {
	return len(svec.SelVec) == 0
}

func (svec *SelectVector) Init(cnt int) {
	svec.SelVec = make([]int, cnt)
}

func (svec *SelectVector) GetIndex(idx int) int {
	if svec.Invalid() {
		return idx
	}
	return svec.SelVec[idx]
}

func (svec *SelectVector) SetIndex(idx int, index int) {
	svec.SelVec[idx] = index
}

// Slice composes svec with sel: result[i] = svec[sel[i]].
func (svec *SelectVector) Slice(sel *SelectVector, count int) []int {
	data := make([]int, count)
	for i := 0; i < count; i++ {
		data[i] = svec.GetIndex(sel.GetIndex(i))
	}
	return data
}

// Filter keeps the first count entries for which pred holds and
// returns how many were kept.
func (svec *SelectVector) Filter(count int, pred func(idx int) bool) int {
	svec.materialize(count)
	res := 0
	for i := 0; i < count; i++ {
		idx := svec.SelVec[i]
		if pred(idx) {
			svec.SelVec[res] = idx
			res++
		}
	}
	return res
}

// Intersect keeps the entries also present in the ascending
// selection other. Both selections are ascending.
func (svec *SelectVector) Intersect(count int, other *SelectVector, otherCount int) int {
	svec.materialize(count)
	res := 0
	j := 0
	for i := 0; i < count && j < otherCount; i++ {
		idx := svec.SelVec[i]
		for j < otherCount && other.GetIndex(j) < idx {
			j++
		}
		if j < otherCount && other.GetIndex(j) == idx {
			svec.SelVec[res] = idx
			res++
			j++
		}
	}
	return res
}

func (svec *SelectVector) materialize(count int) {
	if !svec.Invalid() {
		return
	}
	svec.Init(count)
	for i := 0; i < count; i++ {
		svec.SelVec[i] = i
	}
}
