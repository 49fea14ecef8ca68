// Package list implements a pythonic linked list over comparable values.
//
// A single LinkedList type covers three linkages:
//   - Singly  : forward links only; the last node has no next node.
//   - Doubly  : forward and back links; the first node has no previous node.
//   - Circular: forward links only; the last node links back to the first node.
//
// Only the head is tracked, so the size and the tail are recovered by traversal on every call.
// Negative indices count from the end of the list (-1 is the last node), as in Python.
// Lists are not safe for concurrent use.
package list

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/nobletooth/arbor/pkg/compare"
	"github.com/nobletooth/arbor/pkg/utils"
)

var (
	ErrEmptyList          = errors.New("list is empty")
	ErrIndexOutOfRange    = errors.New("list index out of range")
	ErrNegativeMultiplier = errors.New("list multiplier must not be negative")
)

// Linkage selects how the nodes of a LinkedList are chained together.
type Linkage uint8

const (
	Singly Linkage = iota
	Doubly
	Circular
)

func (l Linkage) String() string {
	switch l {
	case Singly:
		return "singly"
	case Doubly:
		return "doubly"
	case Circular:
		return "circular"
	default:
		return fmt.Sprintf("linkage(%d)", uint8(l))
	}
}

// Node holds a single list value.
type Node[V comparable] struct {
	next  *Node[V]
	prev  *Node[V] // Only maintained by Doubly lists.
	Value V
}

// Next returns the next node; on a Circular list the last node returns the first one.
func (n *Node[V]) Next() *Node[V] {
	return n.next
}

// Prev returns the previous node, or nil on non-Doubly lists.
func (n *Node[V]) Prev() *Node[V] {
	return n.prev
}

// LinkedList is a head-only linked list. The zero value is an empty Singly list.
type LinkedList[V comparable] struct {
	head    *Node[V]
	linkage Linkage
}

// New returns a Singly linked list holding the given values in order.
func New[V comparable](values ...V) *LinkedList[V] {
	return fromValues(Singly, values)
}

// NewDoubly returns a Doubly linked list holding the given values in order.
func NewDoubly[V comparable](values ...V) *LinkedList[V] {
	return fromValues(Doubly, values)
}

// NewCircular returns a Circular linked list holding the given values in order.
func NewCircular[V comparable](values ...V) *LinkedList[V] {
	return fromValues(Circular, values)
}

// fromValues builds a list in one pass, keeping a local tail instead of rediscovering it per value.
func fromValues[V comparable](linkage Linkage, values []V) *LinkedList[V] {
	l := &LinkedList[V]{linkage: linkage}
	var tail *Node[V]
	for _, value := range values {
		n := &Node[V]{Value: value}
		if tail == nil {
			l.head = n
		} else {
			tail.next = n
			l.linkBack(n, tail)
		}
		tail = n
	}
	if tail != nil && linkage == Circular {
		tail.next = l.head
	}
	return l
}

// Linkage returns the way this list chains its nodes.
func (l *LinkedList[V]) Linkage() Linkage {
	return l.linkage
}

// following returns the node after `n` or nil when `n` is the last node.
func (l *LinkedList[V]) following(n *Node[V]) *Node[V] {
	if l.linkage == Circular && n.next == l.head {
		return nil
	}
	return n.next
}

// linkBack points the back link of `n` at `prev` on Doubly lists.
func (l *LinkedList[V]) linkBack(n, prev *Node[V]) {
	if l.linkage == Doubly && n != nil {
		n.prev = prev
	}
}

// checkBackLink makes sure `n` still knows its predecessor before it gets relinked.
func (l *LinkedList[V]) checkBackLink(n, prev *Node[V]) {
	if l.linkage == Doubly && n != nil && n.prev != prev {
		utils.RaiseInvariant("list", "broken_back_link",
			"A doubly linked node doesn't point back to its predecessor.", "value", compare.Format(n.Value))
	}
}

// unring opens a Circular list into a linear chain so that mutations can relink nodes the way they
// would on a Singly list. The returned function closes the ring again over the (possibly new) head and tail.
func (l *LinkedList[V]) unring() (closeRing func()) {
	if l.linkage != Circular {
		return func() {}
	}
	if tail := l.tail(); tail != nil {
		tail.next = nil
	}
	return func() {
		if tail := l.tail(); tail != nil {
			tail.next = l.head
		}
	}
}

// nodes yields every node once, from the head to the tail.
func (l *LinkedList[V]) nodes() iter.Seq[*Node[V]] {
	return func(yield func(*Node[V]) bool) {
		for n := l.head; n != nil; n = l.following(n) {
			if !yield(n) {
				return
			}
		}
	}
}

// tail returns the last node or nil if the list is empty.
func (l *LinkedList[V]) tail() *Node[V] {
	var last *Node[V]
	for n := range l.nodes() {
		last = n
	}
	return last
}

// realIndex turns a negative `index` into a position counted from the head.
func realIndex(index, size int) int {
	if index < 0 {
		index += size
	}
	return index
}

// nodeAt returns the node at the (possibly negative) position `index`.
func (l *LinkedList[V]) nodeAt(index int) (*Node[V], error) {
	size := l.Size()
	position := realIndex(index, size)
	if position < 0 || position >= size {
		return nil, fmt.Errorf("%w: index %d on list of size %d", ErrIndexOutOfRange, index, size)
	}
	n := l.head
	for range position {
		n = n.next
	}
	return n, nil
}

// Front returns the first node of the list or nil if the list is empty.
func (l *LinkedList[V]) Front() *Node[V] {
	return l.head
}

// Back returns the last node of the list or nil if the list is empty.
func (l *LinkedList[V]) Back() *Node[V] {
	return l.tail()
}

// Size counts the nodes of the list.
func (l *LinkedList[V]) Size() int {
	count := 0
	for range l.nodes() {
		count++
	}
	return count
}

// IsEmpty returns true iff the list has no nodes.
func (l *LinkedList[V]) IsEmpty() bool {
	return l.head == nil
}

// Append adds `value` after the current last node.
func (l *LinkedList[V]) Append(value V) {
	defer l.unring()()

	n := &Node[V]{Value: value}
	if l.head == nil {
		l.head = n
		return
	}
	tail := l.tail()
	tail.next = n
	l.linkBack(n, tail)
}

// Insert puts `value` before the node currently at `index`. An index at or past the end appends, and a
// negative index that is still negative after adding the size inserts at the head.
func (l *LinkedList[V]) Insert(value V, index int) {
	size := l.Size()
	position := max(realIndex(index, size), 0)
	if position >= size {
		l.Append(value)
		return
	}

	defer l.unring()()
	n := &Node[V]{Value: value}
	if position == 0 {
		n.next = l.head
		l.checkBackLink(l.head, nil)
		l.linkBack(l.head, n)
		l.head = n
		return
	}
	prev := l.head
	for range position - 1 {
		prev = prev.next
	}
	cur := prev.next
	l.checkBackLink(cur, prev)
	prev.next = n
	n.next = cur
	l.linkBack(n, prev)
	l.linkBack(cur, n)
}

// Pop removes and returns the value at `index`.
func (l *LinkedList[V]) Pop(index int) (V, error) {
	var zero V
	if l.head == nil {
		return zero, ErrEmptyList
	}
	size := l.Size()
	position := realIndex(index, size)
	if position < 0 || position >= size {
		return zero, fmt.Errorf("%w: pop index %d on list of size %d", ErrIndexOutOfRange, index, size)
	}

	defer l.unring()()
	var prev *Node[V]
	cur := l.head
	for range position {
		prev, cur = cur, cur.next
	}
	l.checkBackLink(cur, prev)
	next := cur.next
	if prev == nil { // Removing the head.
		l.head = next
	} else {
		prev.next = next
	}
	l.linkBack(next, prev)
	// Detach the removed node from the chain.
	cur.next, cur.prev = nil, nil
	return cur.Value, nil
}

// PopLast removes and returns the last value.
func (l *LinkedList[V]) PopLast() (V, error) {
	return l.Pop(-1)
}

// Get returns the value at `index`.
func (l *LinkedList[V]) Get(index int) (V, error) {
	n, err := l.nodeAt(index)
	if err != nil {
		var zero V
		return zero, err
	}
	return n.Value, nil
}

// Index returns the position of the first value equal to `value` (using ==) and whether it was found.
func (l *LinkedList[V]) Index(value V) (int, bool) {
	position := 0
	for n := range l.nodes() {
		if n.Value == value {
			return position, true
		}
		position++
	}
	return position, false
}

// Contains reports whether any value of the list has the same type and textual form as `value`.
func (l *LinkedList[V]) Contains(value V) bool {
	for n := range l.nodes() {
		if compare.SameValue(value, n.Value) {
			return true
		}
	}
	return false
}

// Copy returns a shallow copy: new nodes holding the same values, with the same linkage.
func (l *LinkedList[V]) Copy() *LinkedList[V] {
	return fromValues(l.linkage, l.Values())
}

// Add returns a new list holding copies of this list's values followed by the `other` list's values.
// The result keeps this list's linkage.
func (l *LinkedList[V]) Add(other *LinkedList[V]) *LinkedList[V] {
	sum := l.Copy()
	otherCopy := fromValues(l.linkage, other.Values())
	if sum.IsEmpty() {
		return otherCopy
	}

	defer sum.unring()()
	otherCopy.unring() // Its ring is closed again through `sum`.
	tail := sum.tail()
	tail.next = otherCopy.head
	sum.linkBack(otherCopy.head, tail)
	return sum
}

// Mul returns a new list holding this list's values repeated `n` times.
func (l *LinkedList[V]) Mul(n int) (*LinkedList[V], error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeMultiplier, n)
	}
	product := &LinkedList[V]{linkage: l.linkage}
	for range n {
		product = product.Add(l)
	}
	return product, nil
}

// SubList returns a copy of the values in [from, to). Both bounds may be negative.
// The slice is cut out of a full copy by unlinking the node before `from` and the link after `to`-1.
func (l *LinkedList[V]) SubList(from, to int) (*LinkedList[V], error) {
	size := l.Size()
	headIndex := realIndex(from, size)
	tailIndex := realIndex(to, size) - 1
	if headIndex < 0 || headIndex > size || tailIndex < -1 || tailIndex >= size {
		return nil, fmt.Errorf("%w: sublist [%d, %d) on list of size %d", ErrIndexOutOfRange, from, to, size)
	}
	if headIndex > tailIndex {
		return &LinkedList[V]{linkage: l.linkage}, nil
	}

	slice := l.Copy()
	defer slice.unring()()
	// Both positions were validated against the same size, so lookups can't fail.
	sliceHead, _ := slice.nodeAt(headIndex)
	sliceTail, _ := slice.nodeAt(tailIndex)
	if headIndex > 0 {
		prevHead, _ := slice.nodeAt(headIndex - 1)
		prevHead.next = nil
	}
	slice.head = sliceHead
	slice.linkBack(sliceHead, nil)
	sliceTail.next = nil
	return slice, nil
}

// SubListFrom returns a copy of the values from `from` to the end of the list.
func (l *LinkedList[V]) SubListFrom(from int) (*LinkedList[V], error) {
	return l.SubList(from, l.Size())
}

// Clear drops every node.
func (l *LinkedList[V]) Clear() {
	l.head = nil
}

// Equal reports whether both lists have the same length and pairwise same values (see compare.SameValue).
func (l *LinkedList[V]) Equal(other *LinkedList[V]) bool {
	if other == nil {
		return false
	}
	return slices.EqualFunc(l.Values(), other.Values(), func(a, b V) bool { return compare.SameValue(a, b) })
}

// All yields the values from head to tail.
func (l *LinkedList[V]) All() iter.Seq[V] {
	return func(yield func(V) bool) {
		for n := range l.nodes() {
			if !yield(n.Value) {
				return
			}
		}
	}
}

// Values returns the values from head to tail.
func (l *LinkedList[V]) Values() []V {
	return slices.Collect(l.All())
}

// String renders the list as [v1, v2, ..., vn].
func (l *LinkedList[V]) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for n := range l.nodes() {
		if n != l.head {
			sb.WriteString(", ")
		}
		sb.WriteString(compare.Format(n.Value))
	}
	sb.WriteByte(']')
	return sb.String()
}
