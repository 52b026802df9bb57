// Package fdb implements the forwarding database: a bounded, ordered map from
// station address to egress target with per-entry expiry.
package fdb

import (
	"time"

	"github.com/google/btree"

	"firestige.xyz/l2sw/internal/core"
)

const btreeDegree = 16

// Result describes what Upsert did.
type Result uint8

const (
	Refreshed Result = iota // existing entry, same target, expiry pushed out
	Moved                   // existing entry now points at a different target
	Learned                 // new entry inserted
	Rejected                // table full, nothing stored
)

func (r Result) String() string {
	switch r {
	case Refreshed:
		return "refreshed"
	case Moved:
		return "moved"
	case Learned:
		return "learned"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Entry is a read-only view of one table entry.
type Entry[T any] struct {
	Addr    core.MAC
	Target  T
	Expires time.Time
}

type entry[T any] struct {
	addr    core.MAC
	target  T
	expires time.Time
}

func lessEntry[T any](a, b entry[T]) bool {
	return a.addr.Compare(b.addr) < 0
}

// Table is not safe for concurrent use; the switch serializes access.
type Table[T any] struct {
	tree     *btree.BTreeG[entry[T]]
	capacity int
	maxAge   time.Duration
	same     func(a, b T) bool
}

// New creates a table holding at most capacity entries, each living maxAge past
// its last refresh. same decides whether a refresh changed the target.
func New[T any](capacity int, maxAge time.Duration, same func(a, b T) bool) *Table[T] {
	return &Table[T]{
		tree:     btree.NewG[entry[T]](btreeDegree, lessEntry[T]),
		capacity: capacity,
		maxAge:   maxAge,
		same:     same,
	}
}

// Lookup returns the target recorded for addr. Expiry is not checked: an entry
// forwards until a sweep removes it.
func (t *Table[T]) Lookup(addr core.MAC) (T, bool) {
	e, ok := t.tree.Get(entry[T]{addr: addr})
	return e.target, ok
}

// Upsert records that addr was last seen behind target at now.
func (t *Table[T]) Upsert(addr core.MAC, target T, now time.Time) Result {
	key := entry[T]{addr: addr}
	if e, ok := t.tree.Get(key); ok {
		res := Refreshed
		if !t.same(e.target, target) {
			res = Moved
		}
		e.target = target
		e.expires = now.Add(t.maxAge)
		t.tree.ReplaceOrInsert(e)
		return res
	}

	if t.tree.Len() >= t.capacity {
		return Rejected
	}
	key.target = target
	key.expires = now.Add(t.maxAge)
	t.tree.ReplaceOrInsert(key)
	return Learned
}

// Sweep removes every entry whose expiry is at or before now, or every entry
// when force is set, in one ordered pass. onRemove, if not nil, sees each
// removed entry. It returns the number removed.
func (t *Table[T]) Sweep(now time.Time, force bool, onRemove func(Entry[T])) int {
	var doomed []entry[T]
	t.tree.Ascend(func(e entry[T]) bool {
		if force || !e.expires.After(now) {
			doomed = append(doomed, e)
		}
		return true
	})
	if force {
		t.tree.Clear(false)
	} else {
		for _, e := range doomed {
			t.tree.Delete(e)
		}
	}
	if onRemove != nil {
		for _, e := range doomed {
			onRemove(e.view())
		}
	}
	return len(doomed)
}

// Len returns the number of entries.
func (t *Table[T]) Len() int { return t.tree.Len() }

// Cap returns the capacity.
func (t *Table[T]) Cap() int { return t.capacity }

// MaxAge returns the entry lifetime.
func (t *Table[T]) MaxAge() time.Duration { return t.maxAge }

// Entries returns an address-ordered snapshot.
func (t *Table[T]) Entries() []Entry[T] {
	out := make([]Entry[T], 0, t.tree.Len())
	t.tree.Ascend(func(e entry[T]) bool {
		out = append(out, e.view())
		return true
	})
	return out
}

func (e entry[T]) view() Entry[T] {
	return Entry[T]{Addr: e.addr, Target: e.target, Expires: e.expires}
}
