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

package cuckoo

import (
	"encoding/binary"

	"github.com/cespare/xxhash"
)

// Policy supplies the hashing, equality, and slot lifecycle capabilities
// consumed by a Map. K is the key type and V the slot type; both are opaque
// to the Map, which only manipulates slots through these operations. The
// Map never stores or copies the policy beyond invoking them.
//
// The Hash functions must be independent and of good quality (e.g. xxhash
// with distinct seeds); correlated hash functions degrade the eviction
// search and can exhaust its budget long before the table is nominally
// full.
type Policy[K any, V any] interface {
	// NumHashes is the number of hash functions to use. Must be >= 2 and
	// constant for the life of the policy. Typically 2.
	NumHashes() int

	// BucketWidth is the number of slots in one bucket. Must be >= 1 and
	// constant for the life of the policy. Typically 2 to 4.
	BucketWidth() int

	// Hash computes the nth hash function (0 <= n < NumHashes) of key.
	Hash(n int, key K) uint64

	// SlotHash computes the nth hash function of the key held by slot. It
	// must agree with Hash applied to that key. The slot is never empty.
	SlotHash(n int, slot *V) uint64

	// Equals reports whether slot holds key. hash is passed as a
	// performance hint and is always equal to Hash(n, key) for the table
	// being probed. Equals must return false for an empty slot.
	Equals(hash uint64, key K, slot *V) bool

	// Empty reports whether slot holds no value. It must return true for a
	// slot freshly returned by Alloc or cleared by Clear, and false for a
	// slot initialized by Init.
	Empty(slot *V) bool

	// Init stores key into slot, which is known to be empty. table is the
	// hash function index of the slot's table and hash is Hash(table, key),
	// both passed as hints. After Init, Empty(slot) must return false.
	Init(table int, hash uint64, key K, slot *V)

	// Clear releases the value held by slot. After Clear, Empty(slot) must
	// return true.
	Clear(slot *V)

	// Alloc returns a slice of n slots, each of which must be empty. The
	// Map calls it once per table at construction.
	Alloc(n int) []V

	// Free releases a slice allocated by Alloc. With Go-managed memory it
	// is typically a no-op.
	Free(slots []V)
}

// Entry is a ready-made slot type for maps keyed by uint64. Value is the
// caller's payload and is preserved verbatim across relocations.
type Entry[V any] struct {
	Key   uint64
	Value V
}

// U64Policy is a Policy for Map[uint64, Entry[V]]. A reserved key value
// marks empty slots; inserting the reserved key itself is a caller error.
// Hashing is a seeded xxhash family, one seed per hash function.
type U64Policy[V any] struct {
	numHashes   int
	bucketWidth int
	emptyKey    uint64
	seeds       []uint64
}

// NewU64Policy returns a policy with the given shape that treats emptyKey
// as the empty-slot marker.
func NewU64Policy[V any](numHashes, bucketWidth int, emptyKey uint64) *U64Policy[V] {
	p := &U64Policy[V]{
		numHashes:   numHashes,
		bucketWidth: bucketWidth,
		emptyKey:    emptyKey,
		seeds:       make([]uint64, numHashes),
	}
	for n := range p.seeds {
		// Odd multiples of the golden-ratio constant, so the per-function
		// seed streams fed to xxhash are distinct.
		p.seeds[n] = 0x9e3779b97f4a7c15 * uint64(2*n+1)
	}
	return p
}

func (p *U64Policy[V]) NumHashes() int   { return p.numHashes }
func (p *U64Policy[V]) BucketWidth() int { return p.bucketWidth }

func (p *U64Policy[V]) hash(n int, key uint64) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], p.seeds[n])
	binary.LittleEndian.PutUint64(b[8:], key)
	return xxhash.Sum64(b[:])
}

func (p *U64Policy[V]) Hash(n int, key uint64) uint64 { return p.hash(n, key) }

func (p *U64Policy[V]) SlotHash(n int, slot *Entry[V]) uint64 { return p.hash(n, slot.Key) }

func (p *U64Policy[V]) Equals(_ uint64, key uint64, slot *Entry[V]) bool {
	return key == slot.Key
}

func (p *U64Policy[V]) Empty(slot *Entry[V]) bool { return slot.Key == p.emptyKey }

func (p *U64Policy[V]) Init(_ int, _ uint64, key uint64, slot *Entry[V]) { slot.Key = key }

func (p *U64Policy[V]) Clear(slot *Entry[V]) {
	var zero V
	slot.Key = p.emptyKey
	slot.Value = zero
}

func (p *U64Policy[V]) Alloc(n int) []Entry[V] {
	slots := make([]Entry[V], n)
	if p.emptyKey != 0 {
		for i := range slots {
			slots[i].Key = p.emptyKey
		}
	}
	return slots
}

func (p *U64Policy[V]) Free(slots []Entry[V]) {}
