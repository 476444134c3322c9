package chunking

// window is a half-open [start, end) range of word positions.
type window struct {
	start int
	end   int
}

// slidingWindows covers n words with windows of size words that step by size-overlap.
// The last window always ends at n, so no trailing window repeats covered text.
func slidingWindows(n, size, overlap int) []window {
	if n <= 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	out := make([]window, 0, n/step+1)
	for start := 0; start < n; start += step {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, window{start: start, end: end})
		if end == n {
			break
		}
	}
	return out
}

// fixedPieces cuts n words into consecutive, non-overlapping pieces of at most size words.
func fixedPieces(n, size int) []window {
	return slidingWindows(n, size, 0)
}
