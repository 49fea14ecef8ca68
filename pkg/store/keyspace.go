// The keyspace holds named lists and search trees for the server. Data structures themselves aren't safe for
// concurrent use, so keys are distributed across shards, each guarded by its own mutex; a goroutine only locks
// the shard its key belongs to. Every shard also keeps a bloom filter of the keys ever created in it, which
// answers most lookups of keys that never existed without probing the map.

package store

import (
	"errors"
	"flag"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/arbor/pkg/list"
	"github.com/nobletooth/arbor/pkg/scan"
	"github.com/nobletooth/arbor/pkg/tree"
	"github.com/nobletooth/arbor/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrKeyNotFound = errors.New("key was not found")
	ErrWrongType   = errors.New("operation against a key holding the wrong kind of value")
)

var (
	shardCount = flag.Int("keyspace_shard_count", 16,
		"The number of keyspace shards; each shard has its own lock.")
	bloomCapacity = flag.Uint("keyspace_bloom_capacity", 10_000,
		"The expected number of keys per keyspace shard, used to size its bloom filter.")
	bloomFalsePositiveRate = flag.Float64("keyspace_bloom_fp_rate", 0.01,
		"The acceptable false positive rate of the keyspace bloom filters.")

	keyLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyspace_lookups_total",
		Help: "Total number of keyspace lookups. Deleted keys stay in the bloom filters, so lookups of them count as misses.",
	}, []string{"status" /* hit | miss | filtered */})
)

// Kind tells which data structure a key holds.
type Kind string

const (
	KindNone Kind = "none"
	KindList Kind = "list"
	KindTree Kind = "tree"
)

// entry holds exactly one of its fields.
type entry struct {
	list *list.LinkedList[string]
	tree *tree.SearchTree[int64]
}

func (e *entry) kind() Kind {
	switch {
	case e.list != nil:
		return KindList
	case e.tree != nil:
		return KindTree
	default:
		utils.RaiseInvariant("keyspace", "empty_entry", "A keyspace entry holds neither a list nor a tree.")
		return KindNone
	}
}

type shard struct {
	mux     sync.RWMutex
	entries map[string]*entry
	filter  *bloom.BloomFilter // Keys ever created in this shard; never shrinks.
}

// Keyspace maps key names to lists and search trees. It's safe for concurrent use; multi-key operations are
// composed by callers and are not atomic across keys.
type Keyspace struct {
	shards []*shard
}

// NewKeyspace builds a keyspace from the keyspace_* flags.
func NewKeyspace() (*Keyspace, error) {
	return newKeyspace(*shardCount, *bloomCapacity, *bloomFalsePositiveRate)
}

func newKeyspace(shardCount int, bloomCapacity uint, falsePositiveRate float64) (*Keyspace, error) {
	if shardCount <= 0 {
		return nil, fmt.Errorf("expected a positive shard count, got %d", shardCount)
	}
	if bloomCapacity == 0 {
		return nil, errors.New("expected a positive bloom filter capacity")
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		return nil, fmt.Errorf("expected a bloom filter false positive rate in (0, 1), got %f", falsePositiveRate)
	}
	ks := &Keyspace{shards: make([]*shard, shardCount)}
	for i := range shardCount {
		ks.shards[i] = &shard{
			entries: make(map[string]*entry),
			filter:  bloom.NewWithEstimates(bloomCapacity, falsePositiveRate),
		}
	}
	return ks, nil
}

// getShard determines which shard a given key belongs to.
func (ks *Keyspace) getShard(key string) *shard {
	return ks.shards[xxhash.Sum64String(key)%uint64(len(ks.shards))]
}

// lookup returns the entry of `key` or nil; the shard lock must be held.
func (s *shard) lookup(key string) *entry {
	if !s.filter.TestString(key) {
		keyLookups.WithLabelValues("filtered").Inc()
		return nil
	}
	e, found := s.entries[key]
	if !found {
		keyLookups.WithLabelValues("miss").Inc()
		return nil
	}
	keyLookups.WithLabelValues("hit").Inc()
	return e
}

func (s *shard) put(key string, e *entry) {
	s.entries[key] = e
	s.filter.AddString(key)
}

// Type returns the kind of value stored at `key`, or KindNone.
func (ks *Keyspace) Type(key string) Kind {
	s := ks.getShard(key)
	s.mux.RLock()
	defer s.mux.RUnlock()
	if e := s.lookup(key); e != nil {
		return e.kind()
	}
	return KindNone
}

// Exists counts how many of the given keys exist; repeated keys are counted repeatedly.
func (ks *Keyspace) Exists(keys ...string) int {
	count := 0
	for _, key := range keys {
		if ks.Type(key) != KindNone {
			count++
		}
	}
	return count
}

// Delete removes the given keys and returns how many of them existed.
func (ks *Keyspace) Delete(keys ...string) int {
	deleted := 0
	for _, key := range keys {
		s := ks.getShard(key)
		s.mux.Lock()
		if s.lookup(key) != nil {
			delete(s.entries, key)
			deleted++
		}
		s.mux.Unlock()
	}
	return deleted
}

// Len returns the number of keys.
func (ks *Keyspace) Len() int {
	total := 0
	for _, s := range ks.shards {
		s.mux.RLock()
		total += len(s.entries)
		s.mux.RUnlock()
	}
	return total
}

// Keys returns the sorted key names matching the glob `pattern`.
func (ks *Keyspace) Keys(pattern string) []string {
	var names []string
	for _, s := range ks.shards {
		s.mux.RLock()
		for name := range s.entries {
			names = append(names, name)
		}
		s.mux.RUnlock()
	}
	return slices.Sorted(scan.MatchGlob(pattern, slices.Values(names)))
}

// ReadList runs `fn` over the list stored at `key` under a read lock. `fn` must not mutate the list.
func (ks *Keyspace) ReadList(key string, fn func(l *list.LinkedList[string]) error) error {
	s := ks.getShard(key)
	s.mux.RLock()
	defer s.mux.RUnlock()
	e := s.lookup(key)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if e.list == nil {
		return fmt.Errorf("%w: %s holds a %s", ErrWrongType, key, e.kind())
	}
	return fn(e.list)
}

// UpdateList runs `fn` over the list stored at `key` under a write lock. A missing key gets a new empty list
// when `create` is true. Lists left empty by `fn` are removed from the keyspace.
func (ks *Keyspace) UpdateList(key string, create bool, fn func(l *list.LinkedList[string]) error) error {
	s := ks.getShard(key)
	s.mux.Lock()
	defer s.mux.Unlock()
	e := s.lookup(key)
	switch {
	case e == nil && !create:
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	case e == nil:
		e = &entry{list: list.New[string]()}
	case e.list == nil:
		return fmt.Errorf("%w: %s holds a %s", ErrWrongType, key, e.kind())
	}
	err := fn(e.list)
	if e.list.IsEmpty() {
		delete(s.entries, key)
	} else {
		s.put(key, e)
	}
	return err
}

// PutList stores `l` at `key`, replacing whatever was there. Empty lists delete the key.
func (ks *Keyspace) PutList(key string, l *list.LinkedList[string]) {
	s := ks.getShard(key)
	s.mux.Lock()
	defer s.mux.Unlock()
	if l == nil || l.IsEmpty() {
		delete(s.entries, key)
		return
	}
	s.put(key, &entry{list: l})
}

// ReadTree runs `fn` over the search tree stored at `key` under a read lock. `fn` must not mutate the tree.
func (ks *Keyspace) ReadTree(key string, fn func(t *tree.SearchTree[int64]) error) error {
	s := ks.getShard(key)
	s.mux.RLock()
	defer s.mux.RUnlock()
	e := s.lookup(key)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if e.tree == nil {
		return fmt.Errorf("%w: %s holds a %s", ErrWrongType, key, e.kind())
	}
	return fn(e.tree)
}

// UpdateTree runs `fn` over the search tree stored at `key` under a write lock.
func (ks *Keyspace) UpdateTree(key string, fn func(t *tree.SearchTree[int64]) error) error {
	s := ks.getShard(key)
	s.mux.Lock()
	defer s.mux.Unlock()
	e := s.lookup(key)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if e.tree == nil {
		return fmt.Errorf("%w: %s holds a %s", ErrWrongType, key, e.kind())
	}
	return fn(e.tree)
}

// PutTree stores `t` at `key`, replacing whatever was there.
func (ks *Keyspace) PutTree(key string, t *tree.SearchTree[int64]) {
	s := ks.getShard(key)
	s.mux.Lock()
	defer s.mux.Unlock()
	s.put(key, &entry{tree: t})
}

// TreeValues snapshots the in-order values of the trees at `keys`; used to merge trees without holding
// several locks at once.
func (ks *Keyspace) TreeValues(keys ...string) ([]iter.Seq[int64], error) {
	sequences := make([]iter.Seq[int64], 0, len(keys))
	for _, key := range keys {
		var values []int64
		if err := ks.ReadTree(key, func(t *tree.SearchTree[int64]) error {
			values = slices.Collect(t.Values())
			return nil
		}); err != nil {
			return nil, err
		}
		sequences = append(sequences, slices.Values(values))
	}
	return sequences, nil
}
