/*
Copyright 2023 The Sluice Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package memory is an in-memory state store, the default backend and the
// one the engine tests run against. Transactions stage mutations in an
// overlay map; commit swaps the overlay into the base, discard drops it.
package memory

import (
	"context"
	"sync"

	"github.com/sluiceproj/sluice/pkg/combine"
	"github.com/sluiceproj/sluice/pkg/reduce/state"
)

// Store keeps all partitions of one stateful transform in process memory.
type Store struct {
	name string

	mu     sync.Mutex
	parts  map[int]*part
	closed bool
}

type part struct {
	// entries is keyed by ID.String() so identical intervals compare
	// equal regardless of the time.Time representation inside.
	entries           map[string]*state.Entry
	lastCommittedTick int64
}

// NewStore returns an empty store.
func NewStore(name string) *Store {
	return &Store{
		name:  name,
		parts: make(map[int]*part),
	}
}

func (s *Store) part(partition int) *part {
	p, ok := s.parts[partition]
	if !ok {
		p = &part{
			entries:           make(map[string]*state.Entry),
			lastCommittedTick: state.NoCommittedTick,
		}
		s.parts[partition] = p
	}
	return p
}

// Begin implements state.Store.
func (s *Store) Begin(_ context.Context, partition int) (state.Txn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, state.StoreClosedErr{Name: s.name}
	}
	return &txn{
		store:     s,
		partition: partition,
		staged:    make(map[string]*state.Entry),
	}, nil
}

// LastCommittedTick implements state.Store.
func (s *Store) LastCommittedTick(_ context.Context, partition int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return state.NoCommittedTick, state.StoreClosedErr{Name: s.name}
	}
	return s.part(partition).lastCommittedTick, nil
}

// Close implements state.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.parts = nil
	return nil
}

// txn overlays the base partition map. A staged nil entry marks a delete.
type txn struct {
	store     *Store
	partition int
	staged    map[string]*state.Entry
	discarded bool
}

func (t *txn) Partition() int { return t.partition }

func (t *txn) Get(_ context.Context, id state.ID) (*state.Entry, error) {
	key := id.String()
	if e, ok := t.staged[key]; ok {
		if e == nil {
			return nil, nil
		}
		return e.Clone(), nil
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.closed {
		return nil, state.StoreClosedErr{Name: t.store.name}
	}
	e, ok := t.store.part(t.partition).entries[key]
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

func (t *txn) List(_ context.Context) ([]*state.Entry, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.closed {
		return nil, state.StoreClosedErr{Name: t.store.name}
	}

	var out []*state.Entry
	for key, e := range t.store.part(t.partition).entries {
		if _, overridden := t.staged[key]; overridden {
			continue
		}
		out = append(out, e.Clone())
	}
	for _, e := range t.staged {
		if e != nil {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (t *txn) Put(_ context.Context, e *state.Entry) error {
	t.staged[e.ID.String()] = e
	return nil
}

func (t *txn) Delete(_ context.Context, id state.ID) error {
	t.staged[id.String()] = nil
	return nil
}

func (t *txn) Commit(_ context.Context, tick int64) error {
	if t.discarded {
		return state.TxnDiscardedErr{Partition: t.partition}
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.closed {
		return state.StoreClosedErr{Name: t.store.name}
	}

	p := t.store.part(t.partition)
	if tick <= p.lastCommittedTick {
		// replayed tick, already applied
		t.staged = make(map[string]*state.Entry)
		return nil
	}
	for key, e := range t.staged {
		if e == nil {
			delete(p.entries, key)
			continue
		}
		p.entries[key] = e
	}
	p.lastCommittedTick = tick
	t.staged = make(map[string]*state.Entry)
	return nil
}

func (t *txn) Discard() {
	t.discarded = true
	t.staged = make(map[string]*state.Entry)
}

// Provider caches one Store per transform name.
type Provider struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// NewProvider returns an empty provider.
func NewProvider() *Provider {
	return &Provider{stores: make(map[string]*Store)}
}

// StoreFor implements state.Provider. The combine fn is not needed by the
// in-memory backend, accumulators stay live.
func (p *Provider) StoreFor(_ context.Context, name string, _ combine.CombineFn) (state.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stores[name]
	if !ok {
		s = NewStore(name)
		p.stores[name] = s
	}
	return s, nil
}

// Close implements state.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.stores {
		_ = s.Close()
	}
	p.stores = make(map[string]*Store)
	return nil
}
