// ABOUTME: Embedding BLOB encoding and brute-force cosine ranking for todo search
// ABOUTME: Keeps the top-K hits in a min-heap while scanning a user's rows

package store

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector packs a vector as little-endian float64s.
func encodeVector(v []float64) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float64, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 8", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}

// cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector has zero magnitude.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// topK collects the highest-scoring hits.
type topK struct {
	limit int
	h     scoreHeap
}

func newTopK(limit int) *topK {
	return &topK{limit: limit}
}

func (t *topK) offer(hit *ScoredTodo) {
	if t.limit <= 0 {
		return
	}
	if t.h.Len() < t.limit {
		heap.Push(&t.h, hit)
		return
	}
	if hit.Score > t.h[0].Score {
		t.h[0] = hit
		heap.Fix(&t.h, 0)
	}
}

// results drains the heap, best first.
func (t *topK) results() []*ScoredTodo {
	out := make([]*ScoredTodo, t.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.h).(*ScoredTodo)
	}
	return out
}

// scoreHeap is a min-heap on Score.
type scoreHeap []*ScoredTodo

func (h scoreHeap) Len() int           { return len(h) }
func (h scoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h scoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoreHeap) Push(x any)        { *h = append(*h, x.(*ScoredTodo)) }
func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
