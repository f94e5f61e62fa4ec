// Copyright 2026 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cuckoo is a Go implementation of a fixed-capacity, multi-way
// (bucketized) cuckoo hash table with a bounded breadth-first eviction
// search. See:
//
//	3.5-Way Cuckoo Hashing for the Price of 2-and-a-Bit. Eric Lehman and
//	Rita Panigrahy, European Symp. on Algorithms, 2009.
//	https://pdfs.semanticscholar.org/aa7f/47954647604107fd5e67fa8162c7a785de71.pdf
//
// The relocation strategy incorporates ideas from:
//
//	Algorithmic Improvements for Fast Concurrent Cuckoo Hashing. Xiaozhou
//	Li, David G. Andersen, Michael Kaminsky, Michael J. Freedman,
//	Eurosys 14. https://www.cs.princeton.edu/~mfreed/docs/cuckoo-eurosys14.pdf
//
// # Cuckoo hashing
//
// A Map owns one table of slots per hash function (typically 2). A key
// hashes to one bucket in each table, where a bucket is a window of
// BucketWidth consecutive slots starting at hash%bucketsPerTable. Each
// table carries BucketWidth extra slots of tail padding so that a bucket
// scan near the logical end of the table never has to wrap around.
//
// A key, if present, occupies exactly one of its NumHashes*BucketWidth
// candidate slots, so Find performs at most that many probes and Erase is a
// single slot clear with no tombstones or rebalancing: probing never looks
// beyond a fixed bucket window, so a cleared slot is immediately reusable.
//
// Insert first scans the candidate slots directly, detecting duplicates and
// reusing the first empty slot. When every candidate is occupied, a
// breadth-first search runs over the occupants' alternate buckets looking
// for a chain of displacements that frees one of the candidates. The search
// is capped (default 100 queue expansions); exhausting the cap means the
// table is effectively full and is treated as a fatal precondition
// violation rather than a recoverable error, since only a structural change
// (more capacity, different hash functions) could make a retry succeed.
//
// Capacity is fixed at construction and sized so that maxElements keeps the
// load factor at or below 0.9. The Map does not resize and is NOT
// goroutine-safe.
//
// Hashing, equality, and slot lifecycle are supplied by the caller as a
// Policy. The Map never interprets slot contents directly; the Policy's
// emptiness predicate is the single source of truth for slot occupancy.
package cuckoo

import (
	"fmt"
	"strings"
)

const (
	// loadFactor bounds the ratio of elements to table slots. Keeping it
	// below 1 is what bounds the eviction search length.
	loadFactor = 0.9

	// defaultEvictionBudget is the maximum number of queue expansions
	// performed by the eviction search before the insert is declared
	// unsatisfiable.
	defaultEvictionBudget = 100

	// noParent marks a root coordinate in the eviction search queue.
	noParent = -1
)

// Map is a fixed-capacity hash table from keys to caller-defined slots with
// Find, Insert, and Erase operations. Hashing, equality, and slot lifecycle
// are delegated to the Policy supplied at construction.
//
// A Map is NOT goroutine-safe.
type Map[K any, V any] struct {
	policy Policy[K, V]
	tracer Tracer[K, V]
	// Cached policy constants.
	numHashes   int
	bucketWidth int
	// Logical buckets per table. Bucket i occupies slots [i, i+bucketWidth).
	bucketsPerTable int
	// Physical slots per table: bucketsPerTable+bucketWidth. The extra
	// trailing slots let a bucket scan run off the logical end without
	// wrapping.
	tableLen int
	// One slot array per hash function, each tableLen in length.
	tables [][]V
	// The number of occupied slots.
	used int
	// Scratch buffers reused across Insert calls.
	hashes         []uint64
	queue          []coord
	chain          []coord
	evictionBudget int
}

// coord identifies a candidate slot visited during the eviction search. id
// is its position in the visitation queue and parent is the queue position
// of the coordinate that would displace into it, or noParent for one of the
// new key's direct candidates.
type coord struct {
	id     int
	parent int
	table  int
	index  int
}

// Iterator identifies a slot by its (table, index) coordinate. The zero
// value is not usable; iterators are obtained from Find, Insert, Begin, and
// End. An iterator becomes stale when the slot it references is relocated
// by a later Insert or cleared by Erase.
type Iterator[K any, V any] struct {
	m     *Map[K, V]
	table int
	index int
}

// Slot returns the slot referenced by the iterator. It must not be called
// on the end sentinel.
func (it Iterator[K, V]) Slot() *V {
	return &it.m.tables[it.table][it.index]
}

// Next returns the iterator advanced to the next physical slot. Advancing
// past the last slot of the last table yields the end sentinel.
func (it Iterator[K, V]) Next() Iterator[K, V] {
	it.index++
	if it.index >= it.m.tableLen {
		it.index = 0
		it.table++
	}
	return it
}

// New constructs a Map sized to hold maxElements elements. Behavior is
// undefined if more than maxElements elements are stored: insertions beyond
// that point degrade the eviction search and eventually exhaust its budget,
// which is fatal.
func New[K any, V any](maxElements int, policy Policy[K, V], options ...option[K, V]) *Map[K, V] {
	numHashes := policy.NumHashes()
	bucketWidth := policy.BucketWidth()
	if numHashes < 2 {
		panic(fmt.Sprintf("cuckoo: NumHashes must be >= 2, got %d", numHashes))
	}
	if bucketWidth < 1 {
		panic(fmt.Sprintf("cuckoo: BucketWidth must be >= 1, got %d", bucketWidth))
	}

	bucketsPerTable := (int(float64(maxElements)/loadFactor)-1)/numHashes + 1
	m := &Map[K, V]{
		policy:          policy,
		tracer:          nopTracer[K, V]{},
		numHashes:       numHashes,
		bucketWidth:     bucketWidth,
		bucketsPerTable: bucketsPerTable,
		tableLen:        bucketsPerTable + bucketWidth,
		tables:          make([][]V, numHashes),
		hashes:          make([]uint64, numHashes),
		evictionBudget:  defaultEvictionBudget,
	}
	for _, op := range options {
		op.apply(m)
	}
	for i := range m.tables {
		m.tables[i] = policy.Alloc(m.tableLen)
	}
	m.checkInvariants()
	return m
}

// Close releases the slot arrays back to the policy. It is invalid to use a
// Map after it has been closed, though Close itself is idempotent.
func (m *Map[K, V]) Close() {
	for i := range m.tables {
		if m.tables[i] != nil {
			m.policy.Free(m.tables[i])
			m.tables[i] = nil
		}
	}
	m.used = 0
}

// Begin returns an iterator at the first physical slot, (table 0, slot 0).
// Iteration covers every physical slot exactly once, in no particular order
// beyond that; use the policy's emptiness predicate (or All) to skip
// unoccupied slots.
func (m *Map[K, V]) Begin() Iterator[K, V] {
	return Iterator[K, V]{m: m, table: 0, index: 0}
}

// End returns the end sentinel, (table NumHashes, slot 0).
func (m *Map[K, V]) End() Iterator[K, V] {
	return Iterator[K, V]{m: m, table: m.numHashes, index: 0}
}

// Find returns an iterator at the slot holding key, or the end sentinel if
// the key is not present. At most NumHashes*BucketWidth slots are probed.
func (m *Map[K, V]) Find(key K) Iterator[K, V] {
	for hi := 0; hi < m.numHashes; hi++ {
		hash := m.policy.Hash(hi, key)
		ti := int(hash % uint64(m.bucketsPerTable))
		for dd := 0; dd < m.bucketWidth; dd++ {
			if m.policy.Equals(hash, key, &m.tables[hi][ti]) {
				return Iterator[K, V]{m: m, table: hi, index: ti}
			}
			ti++
		}
	}
	return m.End()
}

// Insert inserts key into the map, returning an iterator at its slot and
// true if a new slot was initialized. If the key is already present no
// mutation occurs and Insert returns the existing slot and false.
//
// Insert panics if the eviction search budget is exhausted, which indicates
// the table is effectively full (see the package documentation).
func (m *Map[K, V]) Insert(key K) (Iterator[K, V], bool) {
	// Phase 1: probe the key's direct candidate slots, remembering the
	// first empty one. The full candidate scan runs before any empty slot
	// is used so that a duplicate in a later table is never missed.
	emptySlot := m.End()
	for hi := 0; hi < m.numHashes; hi++ {
		hash := m.policy.Hash(hi, key)
		m.hashes[hi] = hash
		ti := int(hash % uint64(m.bucketsPerTable))
		for dd := 0; dd < m.bucketWidth; dd++ {
			slot := &m.tables[hi][ti]
			if m.policy.Empty(slot) {
				if emptySlot == m.End() {
					emptySlot = Iterator[K, V]{m: m, table: hi, index: ti}
				}
			} else if m.policy.Equals(hash, key, slot) {
				return Iterator[K, V]{m: m, table: hi, index: ti}, false
			}
			ti++
		}
	}
	if emptySlot != m.End() {
		m.policy.Init(emptySlot.table, m.hashes[emptySlot.table], key, emptySlot.Slot())
		m.tracer.Init(emptySlot)
		m.used++
		m.checkInvariants()
		return emptySlot, true
	}

	// Phase 2: every direct candidate is occupied. BFS over the occupants'
	// alternate buckets for a chain of displacements that frees one of the
	// direct candidates. See the Li et al. paper for details.
	m.queue = m.queue[:0]
	for hi := 0; hi < m.numHashes; hi++ {
		ti := int(m.hashes[hi] % uint64(m.bucketsPerTable))
		for dd := 0; dd < m.bucketWidth; dd++ {
			m.queue = append(m.queue, coord{id: len(m.queue), parent: noParent, table: hi, index: ti})
			ti++
		}
	}

	qi := 0
	for rep := 0; rep < m.evictionBudget; rep++ {
		c := m.queue[qi] // prospective evictee
		evictee := &m.tables[c.table][c.index]

		// Probe the evictee's other homes. A hash function is never
		// searched against the table the evictee already occupies.
		for hi := 0; hi < m.numHashes; hi++ {
			if hi == c.table {
				continue
			}
			hash := m.policy.SlotHash(hi, evictee)
			ti := int(hash % uint64(m.bucketsPerTable))
			for dd := 0; dd < m.bucketWidth; dd++ {
				c2 := coord{id: len(m.queue), parent: qi, table: hi, index: ti}
				if m.policy.Empty(&m.tables[hi][ti]) {
					vacated := m.evictChain(c2)
					it := Iterator[K, V]{m: m, table: vacated.table, index: vacated.index}
					m.policy.Init(it.table, m.hashes[it.table], key, it.Slot())
					m.tracer.Init(it)
					m.used++
					m.checkInvariants()
					return it, true
				}
				m.queue = append(m.queue, c2)
				ti++
			}
		}
		qi++
	}
	panic(fmt.Sprintf(
		"cuckoo: eviction search budget (%d) exhausted; table is effectively full or the hash functions are correlated\n%s",
		m.evictionBudget, m.debugString()))
}

// evictChain walks the parent links from tail (a newly discovered empty
// slot) back to a root candidate, swapping each adjacent pair of slots so
// every displaced entry moves one step toward its alternate home. The root
// slot ends the walk vacated and is returned.
func (m *Map[K, V]) evictChain(tail coord) coord {
	m.chain = m.chain[:0]
	m.chain = append(m.chain, tail)
	for tail.parent != noParent {
		if tail.parent >= len(m.queue) {
			panic(fmt.Sprintf("cuckoo: parent %d outside visitation queue of length %d",
				tail.parent, len(m.queue)))
		}
		tail = m.queue[tail.parent]
		m.chain = append(m.chain, tail)
	}
	if len(m.chain) < 2 {
		panic(fmt.Sprintf("cuckoo: eviction chain of length %d has no entry to relocate", len(m.chain)))
	}
	for i := 0; i+1 < len(m.chain); i++ {
		c0, c1 := m.chain[i], m.chain[i+1]
		s0, s1 := m.slot(c0), m.slot(c1)
		m.tracer.Swap(
			Iterator[K, V]{m: m, table: c0.table, index: c0.index},
			Iterator[K, V]{m: m, table: c1.table, index: c1.index})
		*s0, *s1 = *s1, *s0
	}
	vacated := m.chain[len(m.chain)-1]
	m.tracer.Vacate(Iterator[K, V]{m: m, table: vacated.table, index: vacated.index})
	if !m.policy.Empty(m.slot(vacated)) {
		panic(fmt.Sprintf(
			"cuckoo: slot %d:%d not empty after chain swap; the policy's Hash or Empty is inconsistent\n%s",
			vacated.table, vacated.index, m.debugString()))
	}
	return vacated
}

// Erase clears the slot referenced by the iterator. Behavior is undefined
// if the iterator is stale, i.e. refers to an already-cleared slot or to a
// slot of another Map.
func (m *Map[K, V]) Erase(it Iterator[K, V]) {
	m.policy.Clear(it.Slot())
	m.used--
	m.checkInvariants()
}

// All calls yield sequentially for each occupied slot. If yield returns
// false, iteration stops. The map must not be mutated during iteration.
func (m *Map[K, V]) All(yield func(it Iterator[K, V]) bool) {
	for it, end := m.Begin(), m.End(); it != end; it = it.Next() {
		if !m.policy.Empty(it.Slot()) {
			if !yield(it) {
				return
			}
		}
	}
}

// Len returns the number of elements in the map.
func (m *Map[K, V]) Len() int {
	return m.used
}

// Clear clears every occupied slot. The capacity is retained.
func (m *Map[K, V]) Clear() {
	for hi := range m.tables {
		for i := range m.tables[hi] {
			if s := &m.tables[hi][i]; !m.policy.Empty(s) {
				m.policy.Clear(s)
			}
		}
	}
	m.used = 0
	m.checkInvariants()
}

func (m *Map[K, V]) slot(c coord) *V {
	return &m.tables[c.table][c.index]
}

// capacity returns the number of physical slots across all tables,
// including the tail padding.
func (m *Map[K, V]) capacity() int {
	return m.numHashes * m.tableLen
}

// checkInvariants verifies that every occupied slot lies within one of its
// own bucket windows and that the used count is accurate. Compiled away
// unless the invariants build tag is set.
func (m *Map[K, V]) checkInvariants() {
	if invariants {
		var used int
		for hi := range m.tables {
			for i := range m.tables[hi] {
				s := &m.tables[hi][i]
				if m.policy.Empty(s) {
					continue
				}
				used++
				start := int(m.policy.SlotHash(hi, s) % uint64(m.bucketsPerTable))
				if i < start || i >= start+m.bucketWidth {
					panic(fmt.Sprintf("invariant failed: slot %d:%d outside its bucket window [%d,%d)\n%s",
						hi, i, start, start+m.bucketWidth, m.debugString()))
				}
			}
		}
		if used != m.used {
			panic(fmt.Sprintf("invariant failed: found %d occupied slots, but used count is %d\n%s",
				used, m.used, m.debugString()))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "tables=%d buckets-per-table=%d bucket-width=%d used=%d\n",
		m.numHashes, m.bucketsPerTable, m.bucketWidth, m.used)
	for hi := range m.tables {
		fmt.Fprintf(&buf, "table %d:\n", hi)
		for i := range m.tables[hi] {
			s := &m.tables[hi][i]
			if m.policy.Empty(s) {
				fmt.Fprintf(&buf, "  %4d: empty\n", i)
			} else {
				fmt.Fprintf(&buf, "  %4d: %v\n", i, *s)
			}
		}
	}
	return buf.String()
}
