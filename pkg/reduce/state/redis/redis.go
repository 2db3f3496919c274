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

// Package redis is a state store backed by redis so grouping state
// survives process restarts. Each entry lives in a hash, each partition
// keeps a set of its entry ids for discovery, and commits go through a
// single MULTI/EXEC pipeline. Correctness relies on the engine's
// single-writer-per-partition rule, not on redis-side locking.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sluiceproj/sluice/pkg/combine"
	"github.com/sluiceproj/sluice/pkg/reduce/state"
)

const keyspace = "sluice:state"

// Store persists one stateful transform's partitions in redis.
type Store struct {
	name   string
	client redis.UniversalClient
	coder  combine.AccumulatorCoder

	mu     sync.Mutex
	closed bool
}

var _ state.Store = (*Store)(nil)

// NewStore returns a store writing under "sluice:state:<name>". The fn
// must implement combine.AccumulatorCoder so accumulators can cross the
// process boundary.
func NewStore(client redis.UniversalClient, name string, fn combine.CombineFn) (*Store, error) {
	coder, ok := fn.(combine.AccumulatorCoder)
	if !ok {
		return nil, fmt.Errorf("combine fn %q has no accumulator coder, required by the redis state backend", fn.Name())
	}
	return &Store{
		name:   name,
		client: client,
		coder:  coder,
	}, nil
}

func (s *Store) entryKey(partition int, id state.ID) string {
	return fmt.Sprintf("%s:%s:p%d:e:%s", keyspace, s.name, partition, id.String())
}

func (s *Store) idsKey(partition int) string {
	return fmt.Sprintf("%s:%s:p%d:entries", keyspace, s.name, partition)
}

func (s *Store) tickKey(partition int) string {
	return fmt.Sprintf("%s:%s:p%d:tick", keyspace, s.name, partition)
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
func (s *Store) LastCommittedTick(ctx context.Context, partition int) (int64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return state.NoCommittedTick, state.StoreClosedErr{Name: s.name}
	}
	s.mu.Unlock()

	v, err := s.client.Get(ctx, s.tickKey(partition)).Result()
	if errors.Is(err, redis.Nil) {
		return state.NoCommittedTick, nil
	}
	if err != nil {
		return state.NoCommittedTick, fmt.Errorf("failed to read committed tick for partition %d: %w", partition, err)
	}
	return strconv.ParseInt(v, 10, 64)
}

// Close implements state.Store. The redis client is owned by the caller
// and stays open.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type txn struct {
	store     *Store
	partition int
	staged    map[string]*state.Entry
	discarded bool
}

func (t *txn) Partition() int { return t.partition }

func (t *txn) Get(ctx context.Context, id state.ID) (*state.Entry, error) {
	if e, ok := t.staged[id.String()]; ok {
		if e == nil {
			return nil, nil
		}
		return e.Clone(), nil
	}

	fields, err := t.store.client.HGetAll(ctx, t.store.entryKey(t.partition, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read state entry %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return t.store.entryFromHash(fields)
}

func (t *txn) List(ctx context.Context) ([]*state.Entry, error) {
	members, err := t.store.client.SMembers(ctx, t.store.idsKey(t.partition)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list state entries for partition %d: %w", t.partition, err)
	}

	var out []*state.Entry
	for _, idStr := range members {
		if _, overridden := t.staged[idStr]; overridden {
			continue
		}
		fields, err := t.store.client.HGetAll(ctx, fmt.Sprintf("%s:%s:p%d:e:%s", keyspace, t.store.name, t.partition, idStr)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read state entry %s: %w", idStr, err)
		}
		if len(fields) == 0 {
			// set membership can outlive the hash if a previous process
			// died between EXEC steps; treat as absent
			continue
		}
		e, err := t.store.entryFromHash(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
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

func (t *txn) Commit(ctx context.Context, tick int64) error {
	if t.discarded {
		return state.TxnDiscardedErr{Partition: t.partition}
	}

	last, err := t.store.LastCommittedTick(ctx, t.partition)
	if err != nil {
		return err
	}
	if tick <= last {
		// replayed tick, already applied
		t.staged = make(map[string]*state.Entry)
		return nil
	}

	pipe := t.store.client.TxPipeline()
	for idStr, e := range t.staged {
		entryKey := fmt.Sprintf("%s:%s:p%d:e:%s", keyspace, t.store.name, t.partition, idStr)
		if e == nil {
			pipe.Del(ctx, entryKey)
			pipe.SRem(ctx, t.store.idsKey(t.partition), idStr)
			continue
		}
		fields, err := t.store.entryToHash(e)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, entryKey, fields)
		pipe.SAdd(ctx, t.store.idsKey(t.partition), idStr)
	}
	pipe.Set(ctx, t.store.tickKey(t.partition), strconv.FormatInt(tick, 10), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to commit tick %d for partition %d: %w", tick, t.partition, err)
	}
	t.staged = make(map[string]*state.Entry)
	return nil
}

func (t *txn) Discard() {
	t.discarded = true
	t.staged = make(map[string]*state.Entry)
}

func (s *Store) entryToHash(e *state.Entry) (map[string]any, error) {
	acc, err := s.coder.EncodeAccumulator(e.Acc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode accumulator for %s: %w", e.ID, err)
	}
	return map[string]any{
		"start":   e.ID.Start.UnixMilli(),
		"end":     e.ID.End.UnixMilli(),
		"key":     e.ID.Key,
		"acc":     acc,
		"min":     e.MinEventTime.UnixMilli(),
		"max":     e.MaxEventTime.UnixMilli(),
		"count":   e.Count,
		"pane":    e.PaneIndex,
		"pending": e.PendingSinceFire,
		"phase":   int64(e.Phase),
		"created": e.CreatedTick,
	}, nil
}

func (s *Store) entryFromHash(fields map[string]string) (*state.Entry, error) {
	millis := func(field string) (time.Time, error) {
		v, err := strconv.ParseInt(fields[field], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("state entry field %q is corrupt: %w", field, err)
		}
		return time.UnixMilli(v), nil
	}
	num := func(field string) (int64, error) {
		v, err := strconv.ParseInt(fields[field], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("state entry field %q is corrupt: %w", field, err)
		}
		return v, nil
	}

	start, err := millis("start")
	if err != nil {
		return nil, err
	}
	end, err := millis("end")
	if err != nil {
		return nil, err
	}
	minTime, err := millis("min")
	if err != nil {
		return nil, err
	}
	maxTime, err := millis("max")
	if err != nil {
		return nil, err
	}
	count, err := num("count")
	if err != nil {
		return nil, err
	}
	pane, err := num("pane")
	if err != nil {
		return nil, err
	}
	pending, err := num("pending")
	if err != nil {
		return nil, err
	}
	phase, err := num("phase")
	if err != nil {
		return nil, err
	}
	created, err := num("created")
	if err != nil {
		return nil, err
	}
	acc, err := s.coder.DecodeAccumulator([]byte(fields["acc"]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode accumulator: %w", err)
	}

	return &state.Entry{
		ID:               state.ID{Start: start, End: end, Key: fields["key"]},
		Acc:              acc,
		MinEventTime:     minTime,
		MaxEventTime:     maxTime,
		Count:            count,
		PaneIndex:        pane,
		PendingSinceFire: pending,
		Phase:            state.Phase(phase),
		CreatedTick:      created,
	}, nil
}

// Provider hands out redis-backed stores sharing one client.
type Provider struct {
	client redis.UniversalClient

	mu     sync.Mutex
	stores map[string]*Store
}

var _ state.Provider = (*Provider)(nil)

// NewProvider returns a provider over the given client.
func NewProvider(client redis.UniversalClient) *Provider {
	return &Provider{
		client: client,
		stores: make(map[string]*Store),
	}
}

// IsHealthy pings redis, the pipeline is not ready while its state store is
// unreachable.
func (p *Provider) IsHealthy(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// StoreFor implements state.Provider.
func (p *Provider) StoreFor(_ context.Context, name string, fn combine.CombineFn) (state.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stores[name]
	if !ok {
		var err error
		s, err = NewStore(p.client, name, fn)
		if err != nil {
			return nil, err
		}
		p.stores[name] = s
	}
	return s, nil
}

// Close implements state.Provider and closes the shared client.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.stores {
		_ = s.Close()
	}
	p.stores = make(map[string]*Store)
	return p.client.Close()
}
