package dispatch

// Chunk splits items into exactly n contiguous chunks of ceil(len(items)/n) elements. Trailing
// chunks are shorter or empty when the length does not divide evenly. Concatenating the chunks
// reproduces items. The chunks share items' backing array.
func Chunk(items []int64, n int) [][]int64 {
	if n <= 0 {
		return nil
	}

	size := (len(items) + n - 1) / n
	chunks := make([][]int64, n)

	for i := range chunks {
		lo, hi := i*size, (i+1)*size

		if lo > len(items) {
			lo = len(items)
		}
		if hi > len(items) {
			hi = len(items)
		}
		chunks[i] = items[lo:hi:hi]
	}
	return chunks
}

// Merge merges two sorted sequences into a new sorted sequence. On ties, elements of a come
// first.
func Merge(a, b []int64) []int64 {
	result := make([]int64, 0, len(a)+len(b))
	i, j := 0, 0

	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			result = append(result, a[i])
			i++
		} else {
			result = append(result, b[j])
			j++
		}
	}

	result = append(result, a[i:]...)
	return append(result, b[j:]...)
}

// MergeAll folds Merge over partials from left to right.
func MergeAll(partials [][]int64) []int64 {
	if len(partials) == 0 {
		return []int64{}
	}

	result := append([]int64{}, partials[0]...)
	for _, p := range partials[1:] {
		result = Merge(result, p)
	}
	return result
}

// MergeSort returns a sorted copy of items. It is stable.
func MergeSort(items []int64) []int64 {
	if len(items) <= 1 {
		return append([]int64{}, items...)
	}

	mid := len(items) / 2
	return Merge(MergeSort(items[:mid]), MergeSort(items[mid:]))
}
