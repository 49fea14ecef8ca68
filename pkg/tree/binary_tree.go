// Package tree implements a binary tree and an unbalanced binary search tree.
//
// A tree always has a root; there is no empty tree. Walks over the tree (size, height, traversals and
// rendering) use an explicit stack, so deep trees are bounded by memory rather than by the call stack.
// Trees are not safe for concurrent use.
package tree

import (
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"

	"github.com/nobletooth/arbor/pkg/compare"
)

const (
	binaryTreeName = "BinaryTree"
	searchTreeName = "BinarySearchTree"
)

// Node is a tree node owning its left and right subtrees.
type Node[V any] struct {
	left, right *Node[V]
	Value       V
}

// Left returns the left child or nil.
func (n *Node[V]) Left() *Node[V] {
	return n.left
}

// Right returns the right child or nil.
func (n *Node[V]) Right() *Node[V] {
	return n.right
}

// IsLeaf returns true iff the node has no children.
func (n *Node[V]) IsLeaf() bool {
	return n.left == nil && n.right == nil
}

// SetLeft replaces the left subtree with a new leaf holding `value` and returns that leaf.
func (n *Node[V]) SetLeft(value V) *Node[V] {
	n.left = &Node[V]{Value: value}
	return n.left
}

// SetRight replaces the right subtree with a new leaf holding `value` and returns that leaf.
func (n *Node[V]) SetRight(value V) *Node[V] {
	n.right = &Node[V]{Value: value}
	return n.right
}

// Unlink drops both subtrees.
func (n *Node[V]) Unlink() {
	n.left, n.right = nil, nil
}

// BinaryTree is a rooted, acyclic binary tree.
type BinaryTree[V any] struct {
	root *Node[V]
	name string // Used by String(); differs for search trees.
}

// New returns a sapling holding `seed` as its root.
func New[V any](seed V) *BinaryTree[V] {
	return &BinaryTree[V]{root: &Node[V]{Value: seed}, name: binaryTreeName}
}

// Root returns the root node; it's never nil.
func (t *BinaryTree[V]) Root() *Node[V] {
	return t.root
}

// IsSapling returns true iff the root has no children.
func (t *BinaryTree[V]) IsSapling() bool {
	return t.root.IsLeaf()
}

// Size counts the nodes of the tree.
func (t *BinaryTree[V]) Size() int {
	count := 0
	stack := []*Node[V]{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		if n.left != nil {
			stack = append(stack, n.left)
		}
		if n.right != nil {
			stack = append(stack, n.right)
		}
	}
	return count
}

// Height returns the number of nodes on the longest root-to-leaf path; a sapling has height 1.
func (t *BinaryTree[V]) Height() int {
	type nodeDepth struct {
		node  *Node[V]
		depth int
	}
	height := 0
	stack := []nodeDepth{{node: t.root, depth: 1}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		height = max(height, top.depth)
		if top.node.left != nil {
			stack = append(stack, nodeDepth{node: top.node.left, depth: top.depth + 1})
		}
		if top.node.right != nil {
			stack = append(stack, nodeDepth{node: top.node.right, depth: top.depth + 1})
		}
	}
	return height
}

// traversalOrder decides where a node's own value goes relative to its subtrees.
type traversalOrder uint8

const (
	preOrder traversalOrder = iota
	inOrder
	postOrder
)

// traversalStep is either a subtree still to be expanded or text ready to be written.
type traversalStep[V any] struct {
	node   *Node[V]
	text   string
	expand bool
}

// traverse concatenates the tree in the given order. Every node writes ".|" followed by its value and
// subtrees in `order`; every missing child writes a lone ".".
func (t *BinaryTree[V]) traverse(order traversalOrder) string {
	var sb strings.Builder
	stack := []traversalStep[V]{{node: t.root, expand: true}}
	for len(stack) > 0 {
		step := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !step.expand {
			sb.WriteString(step.text)
			continue
		}
		if step.node == nil {
			sb.WriteByte('.')
			continue
		}

		sb.WriteString(".|")
		value := traversalStep[V]{text: compare.Format(step.node.Value)}
		left := traversalStep[V]{node: step.node.left, expand: true}
		right := traversalStep[V]{node: step.node.right, expand: true}
		// Steps are pushed in reverse so they're popped in traversal order.
		switch order {
		case preOrder:
			stack = append(stack, right, left, value)
		case inOrder:
			stack = append(stack, right, value, left)
		case postOrder:
			stack = append(stack, value, right, left)
		}
	}
	return sb.String()
}

// PreOrder concatenates the tree root, left, right.
func (t *BinaryTree[V]) PreOrder() string {
	return t.traverse(preOrder)
}

// InOrder concatenates the tree left, root, right.
func (t *BinaryTree[V]) InOrder() string {
	return t.traverse(inOrder)
}

// PostOrder concatenates the tree left, right, root.
func (t *BinaryTree[V]) PostOrder() string {
	return t.traverse(postOrder)
}

// Values yields the node values in order (left, root, right).
func (t *BinaryTree[V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		var stack []*Node[V]
		for n := t.root; n != nil || len(stack) > 0; {
			for ; n != nil; n = n.left {
				stack = append(stack, n)
			}
			n = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(n.Value) {
				return
			}
			n = n.right
		}
	}
}

// Render draws the tree one node per line, indented by one tab per level: root, left subtree, right subtree.
func (t *BinaryTree[V]) Render() string {
	type nodeLevel struct {
		node  *Node[V]
		level int
	}
	var sb strings.Builder
	stack := []nodeLevel{{node: t.root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		sb.WriteString(strings.Repeat("\t", top.level))
		sb.WriteString(compare.Format(top.node.Value))
		sb.WriteByte('\n')
		if top.node.right != nil {
			stack = append(stack, nodeLevel{node: top.node.right, level: top.level + 1})
		}
		if top.node.left != nil {
			stack = append(stack, nodeLevel{node: top.node.left, level: top.level + 1})
		}
	}
	return sb.String()
}

// Fprint writes the rendered tree followed by a blank line to `w`.
func (t *BinaryTree[V]) Fprint(w io.Writer) error {
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// PrintTree writes the rendered tree to standard output.
func (t *BinaryTree[V]) PrintTree() {
	if err := t.Fprint(os.Stdout); err != nil {
		slog.Error("Failed to print tree.", "tree", t.name, "error", err)
	}
}

// String summarizes the tree as Name(root <value>, size <n>, height <h>).
func (t *BinaryTree[V]) String() string {
	return fmt.Sprintf("%s(root %s, size %d, height %d)",
		t.name, compare.Format(t.root.Value), t.Size(), t.Height())
}
