// Search trees yield their values in increasing order, so the union of several trees can be streamed
// without materializing any of them.
//
// This module implements a heap-based multi-way iterator that lazily merges multiple increasing sequences.
// Values equal to the last yielded one are discarded, so every distinct value is yielded exactly once;
// among equal values, the one pulled from the earliest sequence wins.

package scan

import (
	"container/heap"
	"errors"
	"iter"

	"github.com/nobletooth/arbor/pkg/utils"
)

// heapElement represents a pulled item from sequences inside iterHeap.
type heapElement[K any] struct {
	value  K
	seqIdx int // The index inside `pull` of the sequence that produced this element.
}

// iterHeap holds the iteration state over multiple iterators.
type iterHeap[K any] struct { // Implements heap.Interface.
	compare  utils.CompareFn[K]
	elements []*heapElement[K] // The latest element pulled from every non-exhausted sequence.
}

var _ heap.Interface = (*iterHeap[int])(nil)

func (ih *iterHeap[K]) Len() int {
	return len(ih.elements)
}

// Less orders elements by value, then by the position of their sequence.
func (ih *iterHeap[K]) Less(i, j int) bool {
	e1, e2 := ih.elements[i], ih.elements[j]
	if c := ih.compare(e1.value, e2.value); c != 0 {
		return c < 0
	}
	return e1.seqIdx < e2.seqIdx
}

func (ih *iterHeap[K]) Swap(i, j int) {
	ih.elements[i], ih.elements[j] = ih.elements[j], ih.elements[i]
}

// Push adds the given element `x` to the heap if it's a non-nil element.
func (ih *iterHeap[K]) Push(x any) {
	element, ok := x.(*heapElement[K])
	if !ok {
		utils.RaiseInvariant("multi_head", "pushed_invalid_type", "An item with invalid type was pushed to heap.")
		return
	}
	if element == nil {
		utils.RaiseInvariant("multi_head", "pushed_nil_element", "A nil element was pushed to iteration heap.")
		return
	}
	ih.elements = append(ih.elements, element)
}

// Pop returns and removes the last element in the heap.
func (ih *iterHeap[K]) Pop() any {
	lastElement := ih.elements[len(ih.elements)-1]
	ih.elements = ih.elements[:len(ih.elements)-1]
	return lastElement
}

// MultiHead merges increasing `sequences` into a single increasing sequence of distinct values.
// Sequences are only pulled while the returned sequence is being consumed.
func MultiHead[K any](compare utils.CompareFn[K], sequences []iter.Seq[K]) (iter.Seq[K], error) {
	if compare == nil {
		return nil, errors.New("expected a non-nil comparison function")
	}
	if len(sequences) == 0 {
		return nil, errors.New("expected a non-empty sequences")
	}

	return func(yield func(K) bool) {
		it := &iterHeap[K]{compare: compare, elements: make([]*heapElement[K], 0, len(sequences))}
		pull := make([]func() (K, bool), 0, len(sequences))
		stops := make([]func(), 0, len(sequences))
		// Stop all underlying sequences once iteration is done.
		defer func() {
			for _, stop := range stops {
				stop()
			}
		}()
		for _, seq := range sequences {
			next, stop := iter.Pull(seq)
			stops = append(stops, stop)
			if first, ok := next(); ok {
				heap.Push(it, &heapElement[K]{value: first, seqIdx: len(pull)})
			}
			pull = append(pull, next)
		}

		var last K
		hasLast := false
		for it.Len() > 0 {
			top := heap.Pop(it).(*heapElement[K])
			if following, ok := pull[top.seqIdx](); ok {
				heap.Push(it, &heapElement[K]{value: following, seqIdx: top.seqIdx})
			}
			if hasLast && compare(last, top.value) == 0 {
				continue // Already yielded from an earlier sequence.
			}
			if hasLast && compare(last, top.value) > 0 {
				utils.RaiseInvariant("multi_head", "decreasing_sequence",
					"A sequence given to multi head iterator is not increasing.", "seqIdx", top.seqIdx)
			}
			last, hasLast = top.value, true
			if !yield(top.value) {
				return
			}
		}
	}, nil
}
