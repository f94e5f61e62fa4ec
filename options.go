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

// option provide an interface to do work on Map while it is being created.
type option[K any, V any] interface {
	apply(m *Map[K, V])
}

// Tracer observes the slot mutations performed by a Map: the swaps and the
// final vacate of an eviction chain, and the initialization of a slot for a
// newly inserted key. The correctness logic has no dependency on the
// tracer; the default is a no-op.
//
// The iterators passed to a Tracer are only valid for the duration of the
// call.
type Tracer[K any, V any] interface {
	// Swap is invoked immediately before the slots at a and b exchange
	// contents during an eviction chain walk.
	Swap(a, b Iterator[K, V])

	// Vacate is invoked when the root slot of an eviction chain has been
	// emptied, immediately before it is initialized with the new key.
	Vacate(it Iterator[K, V])

	// Init is invoked after a slot has been initialized with a new key.
	Init(it Iterator[K, V])
}

type nopTracer[K any, V any] struct{}

func (nopTracer[K, V]) Swap(_, _ Iterator[K, V]) {}
func (nopTracer[K, V]) Vacate(Iterator[K, V])    {}
func (nopTracer[K, V]) Init(Iterator[K, V])      {}

type tracerOption[K any, V any] struct {
	tracer Tracer[K, V]
}

func (op tracerOption[K, V]) apply(m *Map[K, V]) {
	m.tracer = op.tracer
}

// WithTracer is an option to attach a Tracer to a Map[K,V].
func WithTracer[K any, V any](tracer Tracer[K, V]) option[K, V] {
	return tracerOption[K, V]{tracer}
}

type evictionBudgetOption[K any, V any] struct {
	budget int
}

func (op evictionBudgetOption[K, V]) apply(m *Map[K, V]) {
	m.evictionBudget = op.budget
}

// WithEvictionBudget is an option to override the maximum number of queue
// expansions performed by Insert's eviction search before it panics. The
// default is 100. Raising the budget does not help a table whose hash
// functions are correlated; it only lengthens the search.
func WithEvictionBudget[K any, V any](budget int) option[K, V] {
	return evictionBudgetOption[K, V]{budget}
}
