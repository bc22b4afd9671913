package util

func Back[T any](data []T) T {
	l := len(data)
	if l == 0 {
		panic("empty slice")
	}
	return data[l-1]
}

func CopyTo[T any](src []T) []T {
	dst := make([]T, len(src))
	copy(dst, src)
	return dst
}

// Erase removes a[i] keeping the order of the rest.
func Erase[T any](a []T, i int) []T {
	if i < 0 || i >= len(a) {
		return a
	}
	return append(a[:i:i], a[i+1:]...)
}

// RemoveIf removes the ones that pred is true.
func RemoveIf[T any](data []T, pred func(t T) bool) []T {
	res := 0
	for i := 0; i < len(data); i++ {
		if !pred(data[i]) {
			if res != i {
				data[res] = data[i]
			}
			res++
		}
	}
	return data[:res]
}
