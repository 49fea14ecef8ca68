package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/nobletooth/arbor/pkg/list"
	"github.com/nobletooth/arbor/pkg/tree"
	"github.com/nobletooth/arbor/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestKeyspace creates a small keyspace so that keys collide on shards.
func newTestKeyspace(t *testing.T) *Keyspace {
	t.Helper()
	ks, err := newKeyspace(4 /*shardCount*/, 100 /*bloomCapacity*/, 0.01 /*falsePositiveRate*/)
	require.NoError(t, err)
	return ks
}

// appendValues appends `values` to the list at `key`, creating it if needed.
func appendValues(t *testing.T, ks *Keyspace, key string, values ...string) {
	t.Helper()
	require.NoError(t, ks.UpdateList(key, true /*create*/, func(l *list.LinkedList[string]) error {
		for _, value := range values {
			l.Append(value)
		}
		return nil
	}))
}

// listValues returns the values of the list stored at `key`.
func listValues(t *testing.T, ks *Keyspace, key string) []string {
	t.Helper()
	var values []string
	require.NoError(t, ks.ReadList(key, func(l *list.LinkedList[string]) error {
		values = l.Values()
		return nil
	}))
	return values
}

func TestNewKeyspace(t *testing.T) {
	t.Run("flags", func(t *testing.T) {
		utils.SetTestFlags(t, map[string]string{
			"keyspace_shard_count":    "3",
			"keyspace_bloom_capacity": "50",
			"keyspace_bloom_fp_rate":  "0.1",
		})
		ks, err := NewKeyspace()
		require.NoError(t, err)
		assert.Len(t, ks.shards, 3)
	})
	t.Run("invalid", func(t *testing.T) {
		_, err := newKeyspace(0, 100, 0.01)
		assert.Error(t, err)
		_, err = newKeyspace(1, 0, 0.01)
		assert.Error(t, err)
		_, err = newKeyspace(1, 100, 1)
		assert.Error(t, err)
	})
}

func TestKeyspace_Lists(t *testing.T) {
	ks := newTestKeyspace(t)

	t.Run("missing_key", func(t *testing.T) {
		err := ks.ReadList("missing", func(l *list.LinkedList[string]) error { return nil })
		assert.ErrorIs(t, err, ErrKeyNotFound)
		err = ks.UpdateList("missing", false /*create*/, func(l *list.LinkedList[string]) error { return nil })
		assert.ErrorIs(t, err, ErrKeyNotFound)
		assert.Equal(t, KindNone, ks.Type("missing"))
	})
	t.Run("create_and_read", func(t *testing.T) {
		appendValues(t, ks, "l1", "a", "b")
		appendValues(t, ks, "l1", "c")
		assert.Equal(t, []string{"a", "b", "c"}, listValues(t, ks, "l1"))
		assert.Equal(t, KindList, ks.Type("l1"))
	})
	t.Run("emptied_list_is_removed", func(t *testing.T) {
		appendValues(t, ks, "l2", "x")
		require.NoError(t, ks.UpdateList("l2", false, func(l *list.LinkedList[string]) error {
			_, err := l.PopLast()
			return err
		}))
		assert.Equal(t, 0, ks.Exists("l2"))
	})
	t.Run("callback_error_is_returned", func(t *testing.T) {
		appendValues(t, ks, "l3", "x")
		callbackErr := errors.New("boom")
		err := ks.UpdateList("l3", false, func(l *list.LinkedList[string]) error { return callbackErr })
		assert.ErrorIs(t, err, callbackErr)
		assert.Equal(t, []string{"x"}, listValues(t, ks, "l3"))
	})
	t.Run("put", func(t *testing.T) {
		ks.PutList("l4", list.New("p", "q"))
		assert.Equal(t, []string{"p", "q"}, listValues(t, ks, "l4"))
		ks.PutList("l4", list.New[string]())
		assert.Equal(t, KindNone, ks.Type("l4"))
	})
}

func TestKeyspace_Trees(t *testing.T) {
	ks := newTestKeyspace(t)
	err := ks.ReadTree("t1", func(t *tree.SearchTree[int64]) error { return nil })
	assert.ErrorIs(t, err, ErrKeyNotFound)

	ks.PutTree("t1", tree.NewSearchTree[int64](5, 3))
	ks.PutTree("t2", tree.NewSearchTree[int64](4, 8))
	assert.Equal(t, KindTree, ks.Type("t1"))
	require.NoError(t, ks.UpdateTree("t1", func(t *tree.SearchTree[int64]) error {
		t.Insert(9)
		return nil
	}))

	sequences, err := ks.TreeValues("t1", "t2")
	require.NoError(t, err)
	require.Len(t, sequences, 2)
	assert.Equal(t, []int64{3, 5, 9}, slices.Collect(sequences[0]))
	assert.Equal(t, []int64{4, 8}, slices.Collect(sequences[1]))

	_, err = ks.TreeValues("t1", "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeyspace_WrongType(t *testing.T) {
	ks := newTestKeyspace(t)
	appendValues(t, ks, "list", "a")
	ks.PutTree("tree", tree.NewSearchTree[int64](1))

	assert.ErrorIs(t, ks.ReadList("tree", func(l *list.LinkedList[string]) error { return nil }), ErrWrongType)
	assert.ErrorIs(t, ks.UpdateList("tree", true, func(l *list.LinkedList[string]) error { return nil }), ErrWrongType)
	assert.ErrorIs(t, ks.ReadTree("list", func(t *tree.SearchTree[int64]) error { return nil }), ErrWrongType)
	assert.ErrorIs(t, ks.UpdateTree("list", func(t *tree.SearchTree[int64]) error { return nil }), ErrWrongType)

	// Putting replaces regardless of the previous kind.
	ks.PutTree("list", tree.NewSearchTree[int64](2))
	assert.Equal(t, KindTree, ks.Type("list"))
}

func TestKeyspace_DeleteExistsKeys(t *testing.T) {
	ks := newTestKeyspace(t)
	appendValues(t, ks, "user:1", "a")
	appendValues(t, ks, "user:2", "b")
	ks.PutTree("scores", tree.NewSearchTree[int64](1))
	assert.Equal(t, 3, ks.Len())

	assert.Equal(t, 2, ks.Exists("user:1", "scores", "nope"))
	assert.Equal(t, 2, ks.Exists("user:1", "user:1"))

	appendValues(t, ks, "user/3", "c")
	assert.Equal(t, []string{"scores", "user/3", "user:1", "user:2"}, ks.Keys("*"))
	assert.Equal(t, []string{"user:1", "user:2"}, ks.Keys("user:*"))
	assert.Equal(t, []string{"user/3"}, ks.Keys("user/*"))
	assert.Empty(t, ks.Keys("nothing*"))
	assert.Equal(t, 1, ks.Delete("user/3"))

	assert.Equal(t, 2, ks.Delete("user:1", "scores", "nope"))
	assert.Equal(t, 1, ks.Len())
	assert.Equal(t, 0, ks.Delete("user:1"))
}

func TestKeyspace_BloomFilter(t *testing.T) {
	ks := newTestKeyspace(t)
	filtered := keyLookups.WithLabelValues("filtered")
	before := utils.GetCounterValue(filtered)
	assert.Equal(t, KindNone, ks.Type("never-created"))
	assert.Equal(t, before+1, utils.GetCounterValue(filtered))

	// Deleted keys stay in the filter and fall through to the map.
	appendValues(t, ks, "k", "v")
	ks.Delete("k")
	missed := keyLookups.WithLabelValues("miss")
	before = utils.GetCounterValue(missed)
	assert.Equal(t, KindNone, ks.Type("k"))
	assert.Equal(t, before+1, utils.GetCounterValue(missed))
}

func TestKeyspace_Concurrent(t *testing.T) {
	ks := newTestKeyspace(t)
	const workers, perWorker = 8, 100
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				key := fmt.Sprintf("key-%d", i%10)
				_ = ks.UpdateList(key, true, func(l *list.LinkedList[string]) error {
					l.Append(fmt.Sprintf("%d-%d", w, i))
					return nil
				})
			}
		}()
	}
	wg.Wait()

	total := 0
	for i := range 10 {
		total += len(listValues(t, ks, fmt.Sprintf("key-%d", i)))
	}
	assert.Equal(t, workers*perWorker, total)
}
