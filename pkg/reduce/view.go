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

package reduce

import (
	"context"
	"sort"

	"github.com/sluiceproj/sluice/pkg/reduce/state"
	"github.com/sluiceproj/sluice/pkg/window"
)

// partitionView is the working set of one partition during a tick: reads
// hit it instead of the store and the accumulated diff is flushed to the
// transaction once, at the end of the pass.
type partitionView struct {
	entries map[string]*state.Entry
	dirty   map[string]bool
	deleted map[string]state.ID
}

func newPartitionView(base []*state.Entry) *partitionView {
	v := &partitionView{
		entries: make(map[string]*state.Entry, len(base)),
		dirty:   make(map[string]bool),
		deleted: make(map[string]state.ID),
	}
	for _, e := range base {
		v.entries[e.ID.String()] = e
	}
	return v
}

func (v *partitionView) get(id state.ID) *state.Entry {
	return v.entries[id.String()]
}

func (v *partitionView) put(e *state.Entry) {
	key := e.ID.String()
	v.entries[key] = e
	v.dirty[key] = true
	delete(v.deleted, key)
}

func (v *partitionView) delete(id state.ID) {
	key := id.String()
	delete(v.entries, key)
	delete(v.dirty, key)
	v.deleted[key] = id
}

// overlapping returns the entries of key whose window intersects iw,
// ordered by window start.
func (v *partitionView) overlapping(key string, iw *window.IntervalWindow) []*state.Entry {
	var out []*state.Entry
	for _, e := range v.entries {
		if e.ID.Key != key {
			continue
		}
		if e.ID.Window().Intersects(iw) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Start.Before(out[j].ID.Start) })
	return out
}

// all returns every live entry ordered by (window end, key) so passes
// over the view are deterministic.
func (v *partitionView) all() []*state.Entry {
	out := make([]*state.Entry, 0, len(v.entries))
	for _, e := range v.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ID.End.Equal(out[j].ID.End) {
			return out[i].ID.End.Before(out[j].ID.End)
		}
		return out[i].ID.Key < out[j].ID.Key
	})
	return out
}

func (v *partitionView) flush(ctx context.Context, txn state.Txn) error {
	for _, id := range v.deleted {
		if err := txn.Delete(ctx, id); err != nil {
			return err
		}
	}
	for key := range v.dirty {
		if err := txn.Put(ctx, v.entries[key]); err != nil {
			return err
		}
	}
	return nil
}
