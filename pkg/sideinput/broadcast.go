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

// Package sideinput materializes small bounded datasets into immutable
// per-tick snapshots that user functions look up by key while a tick is
// being evaluated. A snapshot taken in one tick is never visible to the
// next; every tick sees a fresh, consistent view.
package sideinput

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sluiceproj/sluice/pkg/coder"
	"github.com/sluiceproj/sluice/pkg/dataset"
	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/shared/logging"
	"github.com/sluiceproj/sluice/pkg/substrate"
)

// ViewID identifies one side input view of a pipeline.
type ViewID string

func (v ViewID) String() string {
	return string(v)
}

// Broadcast is one immutable snapshot of a side input view, keyed by
// element key. Its elements are frozen at materialization: each was
// round-tripped through the coder, so the snapshot shares no memory with
// the live collection it came from. It is safe for concurrent lookups.
type Broadcast struct {
	view  ViewID
	tick  int64
	byKey map[string][]*element.Element
}

// View returns the view this snapshot belongs to.
func (b *Broadcast) View() ViewID {
	return b.view
}

// Tick returns the tick this snapshot was taken in.
func (b *Broadcast) Tick() int64 {
	return b.tick
}

// Lookup returns the elements of the given key in this snapshot.
func (b *Broadcast) Lookup(key string) ([]*element.Element, bool) {
	els, ok := b.byKey[key]
	return els, ok
}

// Len returns the number of distinct keys in the snapshot.
func (b *Broadcast) Len() int {
	return len(b.byKey)
}

const defaultCacheSize = 16

// BroadcastSet materializes side input views into per-tick snapshots. A
// view is materialized at most once per tick; repeated requests within the
// tick are served from an LRU cache, and old ticks age out of it.
type BroadcastSet struct {
	sub   substrate.Substrate
	c     coder.Coder
	cache *lru.Cache[snapshotKey, *Broadcast]
}

type snapshotKey struct {
	view ViewID
	tick int64
}

// NewBroadcastSet returns a broadcast set over the given substrate.
// Snapshots freeze elements through the canonical element coder.
func NewBroadcastSet(sub substrate.Substrate) *BroadcastSet {
	cache, _ := lru.New[snapshotKey, *Broadcast](defaultCacheSize)
	return &BroadcastSet{
		sub:   sub,
		c:     coder.Element{},
		cache: cache,
	}
}

// Snapshot materializes the view's dataset for the given tick. The first
// call in a tick collects and indexes the dataset; later calls in the same
// tick return the identical snapshot.
func (s *BroadcastSet) Snapshot(ctx context.Context, view ViewID, tick int64, d *dataset.Bounded) (*Broadcast, error) {
	key := snapshotKey{view: view, tick: tick}
	if b, ok := s.cache.Get(key); ok {
		return b, nil
	}

	recs, err := s.sub.Collect(ctx, d.Collection())
	if err != nil {
		return nil, fmt.Errorf("failed to materialize side input %q: %w", view, err)
	}

	byKey := make(map[string][]*element.Element)
	for _, rec := range recs {
		var el *element.Element
		switch r := rec.(type) {
		case *element.Element:
			el = r
		case *element.Windowed:
			el = &r.Element
		default:
			return nil, fmt.Errorf("side input %q holds a record of type %T, want an element", view, rec)
		}
		frozen, err := freeze(s.c, el)
		if err != nil {
			return nil, fmt.Errorf("failed to freeze side input %q element of key %q: %w", view, el.Key, err)
		}
		byKey[frozen.Key] = append(byKey[frozen.Key], frozen)
	}

	b := &Broadcast{view: view, tick: tick, byKey: byKey}
	s.cache.Add(key, b)
	logging.FromContext(ctx).Debugw("Materialized side input snapshot", "view", view, "tick", tick, "keys", len(byKey))
	return b, nil
}

// freeze detaches an element from the batch it came from by round-tripping
// it through the coder. Snapshots outlive the evaluation step that built
// them, while the elements of a live collection keep flowing through user
// fns; a snapshot must not share memory with either.
func freeze(c coder.Coder, el *element.Element) (*element.Element, error) {
	data, err := c.Encode(el)
	if err != nil {
		return nil, err
	}
	dec, err := c.Decode(data)
	if err != nil {
		return nil, err
	}
	out, ok := dec.(*element.Element)
	if !ok {
		return nil, fmt.Errorf("coder %q decoded to %T, want an element", c.Name(), dec)
	}
	return out, nil
}

// Reader is the read-only facade handed to user functions, scoped to the
// snapshots of the current tick.
type Reader interface {
	// Get returns the elements of the given key in the given view.
	Get(view ViewID, key string) ([]*element.Element, bool)
}

type tickReader struct {
	snapshots map[ViewID]*Broadcast
}

// NewReader returns a reader over the given per-tick snapshots.
func NewReader(snapshots map[ViewID]*Broadcast) Reader {
	return &tickReader{snapshots: snapshots}
}

func (r *tickReader) Get(view ViewID, key string) ([]*element.Element, bool) {
	b, ok := r.snapshots[view]
	if !ok {
		return nil, false
	}
	return b.Lookup(key)
}
