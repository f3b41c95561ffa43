// Package hashtable provides an open-addressing hash table keyed by nonzero uint64 values. Collisions are
// resolved with linear probing, and the slot array is always a prime size so that `key mod capacity`
// spreads sequential keys evenly.
package hashtable

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/workbench/memutils"
)

const (
	// MaxLoadPercent is the load factor at which Add grows the table before inserting
	MaxLoadPercent int = 60
	// DefaultCapacity is used when New is passed a capacity below 1
	DefaultCapacity int = 17
	// MaxVacatedPercent is the share of vacated slots at which Remove rehashes the table in place
	MaxVacatedPercent int = 20
)

// emptyKey marks a slot that holds nothing. It is also what Remove writes into a slot.
const emptyKey uint64 = 0

type slot[V any] struct {
	key   uint64
	value V
}

// Table is an open-addressing hash table. It is not safe for concurrent use.
//
// Remove vacates slots in place and never moves other entries, so a vacated slot may sit in the
// middle of another key's probe sequence. While any vacated slot exists, lookups probe the entire
// table instead of stopping at the first empty slot. Growing the table rehashes every entry and
// clears the vacated count, and so does Remove once MaxVacatedPercent of the slots are vacated.
type Table[V any] struct {
	slots     []slot[V]
	count     int
	vacated   int
	increment int
}

var _ memutils.Validatable = &Table[int]{}

// New creates a Table with room for at least capacity slots
func New[V any](capacity int) *Table[V] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	capacity = nextPrime(capacity)

	return &Table[V]{
		slots:     make([]slot[V], capacity),
		increment: capacity,
	}
}

// Len returns the number of keys in the table
func (t *Table[V]) Len() int { return t.count }

// Capacity returns the number of slots in the table
func (t *Table[V]) Capacity() int { return len(t.slots) }

func (t *Table[V]) home(key uint64) int {
	return int(key % uint64(len(t.slots)))
}

// probe returns the slot holding key, or -1 alongside the first empty slot it passed
func (t *Table[V]) probe(key uint64) (found int, empty int) {
	capacity := len(t.slots)
	start := t.home(key)
	empty = -1

	for i := 0; i < capacity; i++ {
		index := start + i
		if index >= capacity {
			index -= capacity
		}

		current := t.slots[index].key
		if current == key {
			return index, empty
		}

		if current == emptyKey {
			if empty < 0 {
				empty = index
			}
			if t.vacated == 0 {
				return -1, empty
			}
		}
	}

	return -1, empty
}

// Add inserts key or overwrites the value already stored under it
func (t *Table[V]) Add(key uint64, value V) error {
	memutils.DebugAssert(key != emptyKey, "attempted to add the empty key to a hash table")
	if key == emptyKey {
		return ErrInvalidKey
	}

	if t.count*100 >= len(t.slots)*MaxLoadPercent {
		t.grow()
	}

	found, empty := t.probe(key)
	if found >= 0 {
		t.slots[found].value = value
		return nil
	}

	memutils.DebugAssert(empty >= 0, "hash table with %d of %d slots filled has no room for key %d", t.count, len(t.slots), key)
	if empty < 0 {
		return errors.Wrapf(ErrTableFull, "key %d", key)
	}

	t.slots[empty] = slot[V]{key: key, value: value}
	t.count++
	return nil
}

// Find returns the value stored under key
func (t *Table[V]) Find(key uint64) (V, bool) {
	var zero V
	if key == emptyKey {
		return zero, false
	}

	found, _ := t.probe(key)
	if found < 0 {
		return zero, false
	}
	return t.slots[found].value, true
}

// Remove vacates the slot holding key and returns true if the key was present. Until the table is
// rehashed, every miss scans all slots.
func (t *Table[V]) Remove(key uint64) bool {
	if key == emptyKey {
		return false
	}

	found, _ := t.probe(key)
	if found < 0 {
		return false
	}

	t.slots[found] = slot[V]{}
	t.count--
	t.vacated++

	if t.count == 0 {
		t.vacated = 0
	} else if t.vacated*100 >= len(t.slots)*MaxVacatedPercent {
		t.rehash(len(t.slots))
	}
	return true
}

// Range calls the callback for every key in slot order until it returns false
func (t *Table[V]) Range(callback func(key uint64, value V) bool) {
	for i := range t.slots {
		if t.slots[i].key == emptyKey {
			continue
		}
		if !callback(t.slots[i].key, t.slots[i].value) {
			return
		}
	}
}

// Clear empties the table without shrinking it
func (t *Table[V]) Clear() {
	for i := range t.slots {
		t.slots[i] = slot[V]{}
	}
	t.count = 0
	t.vacated = 0
}

func (t *Table[V]) grow() {
	t.rehash(nextPrime(len(t.slots) + t.increment))
	t.increment *= 2
}

func (t *Table[V]) rehash(capacity int) {
	old := t.slots
	t.slots = make([]slot[V], capacity)
	t.vacated = 0

	for i := range old {
		if old[i].key == emptyKey {
			continue
		}

		_, empty := t.probe(old[i].key)
		t.slots[empty] = old[i]
	}
}

// Validate checks that the key count matches the slots and that every key can be reached by probing
// from its home slot
func (t *Table[V]) Validate() error {
	occupied := 0
	for i := range t.slots {
		key := t.slots[i].key
		if key == emptyKey {
			continue
		}
		occupied++

		found, _ := t.probe(key)
		if found < 0 {
			return errors.Errorf("key %d in slot %d cannot be reached from its home slot %d", key, i, t.home(key))
		}
		if found != i {
			return errors.Errorf("key %d is stored in both slot %d and slot %d", key, found, i)
		}
	}

	if occupied != t.count {
		return errors.Errorf("hash table reports %d keys but holds %d", t.count, occupied)
	}
	if occupied*100 > len(t.slots)*MaxLoadPercent+100 {
		return errors.Errorf("hash table holds %d keys in %d slots, above the maximum load", occupied, len(t.slots))
	}

	return nil
}
