package ingest

import "iter"

// Chunk yields consecutive slices of at most size rows together with their
// zero-based chunk index. The sequence can be ranged over more than once.
func Chunk(rows []RawRow, size int) iter.Seq2[int, []RawRow] {
	if size <= 0 {
		size = DefaultMaxBatchSize
	}
	return func(yield func(int, []RawRow) bool) {
		for index, start := 0, 0; start < len(rows); index, start = index+1, start+size {
			end := min(start+size, len(rows))
			if !yield(index, rows[start:end:end]) {
				return
			}
		}
	}
}

// ChunkCount returns how many chunks Chunk yields for n rows.
func ChunkCount(n, size int) int {
	if size <= 0 {
		size = DefaultMaxBatchSize
	}
	if n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
