package tether

import "sync"

// chunk is a contiguous index range handled by one goroutine
type chunk struct {
	index      int
	start, end int
}

// chunkRanges splits n items into at most workers contiguous ranges
func chunkRanges(n, workers int) []chunk {
	if workers < 1 {
		workers = 1
	}
	size := (n + workers - 1) / workers
	if size == 0 {
		return nil
	}

	chunks := make([]chunk, 0, workers)
	for start := 0; start < n; start += size {
		chunks = append(chunks, chunk{index: len(chunks), start: start, end: min(start+size, n)})
	}
	return chunks
}

// task runs fn over data on workersCount goroutines, each one owning a
// contiguous slice. fn must only write state owned by its item.
func task[T any](workersCount int, data []T, fn func(data T)) {
	if workersCount <= 1 || len(data) <= 1 {
		for _, d := range data {
			fn(d)
		}
		return
	}

	var wg sync.WaitGroup
	for _, c := range chunkRanges(len(data), workersCount) {
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(data[i])
			}
		}(c.start, c.end)
	}
	wg.Wait()
}
