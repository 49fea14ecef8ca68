package tree

import (
	"cmp"
	"errors"

	"github.com/nobletooth/arbor/pkg/utils"
)

// SearchTree is an unbalanced binary search tree. Every value in a node's left subtree is strictly less
// than the node's value, and every value in its right subtree is greater than or equal to it.
type SearchTree[V any] struct {
	BinaryTree[V]
	compareFn utils.CompareFn[V]
}

// NewSearchTree returns a search tree rooted at `seed` holding the given values, ordered by cmp.Compare.
func NewSearchTree[V cmp.Ordered](seed V, values ...V) *SearchTree[V] {
	return newSearchTree(cmp.Compare[V], seed, values...)
}

// NewSearchTreeFunc returns a search tree rooted at `seed` holding the given values, ordered by `compareFn`.
func NewSearchTreeFunc[V any](compareFn utils.CompareFn[V], seed V, values ...V) (*SearchTree[V], error) {
	if compareFn == nil {
		return nil, errors.New("expected a non-nil comparison function")
	}
	return newSearchTree(compareFn, seed, values...), nil
}

func newSearchTree[V any](compareFn utils.CompareFn[V], seed V, values ...V) *SearchTree[V] {
	t := &SearchTree[V]{
		BinaryTree: BinaryTree[V]{root: &Node[V]{Value: seed}, name: searchTreeName},
		compareFn:  compareFn,
	}
	t.Insert(values...)
	return t
}

// Insert adds each value as a new leaf. Values descend left while strictly less than the visited node and
// right otherwise, so duplicates end up in the right subtree. The tree is never rebalanced.
func (t *SearchTree[V]) Insert(values ...V) {
	for _, value := range values {
		n := t.root
		for {
			if t.compareFn(value, n.Value) < 0 {
				if n.left == nil {
					n.SetLeft(value)
					break
				}
				n = n.left
			} else {
				if n.right == nil {
					n.SetRight(value)
					break
				}
				n = n.right
			}
		}
	}
}

// Contains reports whether a value comparing equal to `value` is in the tree.
func (t *SearchTree[V]) Contains(value V) bool {
	for n := t.root; n != nil; {
		switch c := t.compareFn(value, n.Value); {
		case c == 0:
			return true
		case c < 0:
			n = n.left
		default:
			n = n.right
		}
	}
	return false
}
