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

package watermark

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Registry tracks the latest reported watermark of every source in the
// pipeline. There is one writer per source (the driver reading it) and many
// readers (the grouping engine asking for the low watermark), so per-source
// values are atomics and the registry lock only guards the map shape.
type Registry struct {
	lock    sync.RWMutex
	sources map[SourceID]*atomic.Int64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[SourceID]*atomic.Int64),
	}
}

// Register adds a source to the registry at the Unknown watermark. It is
// idempotent; registering an already known source keeps its current value.
func (r *Registry) Register(src SourceID) {
	r.holder(src)
}

// Advance moves the watermark of the given source forward to candidate and
// returns the effective value. A candidate at or behind the current value
// is silently ignored, the watermark never regresses.
func (r *Registry) Advance(src SourceID, candidate Watermark) Watermark {
	holder := r.holder(src)
	candidateMillis := candidate.UnixMilli()
	for {
		current := holder.Load()
		if candidateMillis <= current {
			return Watermark(time.UnixMilli(current))
		}
		if holder.CompareAndSwap(current, candidateMillis) {
			return candidate
		}
	}
}

// Get returns the current watermark of the given source, Unknown when the
// source never reported or is not registered.
func (r *Registry) Get(src SourceID) Watermark {
	r.lock.RLock()
	holder, ok := r.sources[src]
	r.lock.RUnlock()
	if !ok {
		return Unknown
	}
	return Watermark(time.UnixMilli(holder.Load()))
}

// Low returns the low watermark across the given sources, the minimum of
// their current values. A window fed by multiple sources cannot be complete
// until all of them have passed its end, so if any source is unregistered
// or still Unknown the result is Unknown.
func (r *Registry) Low(srcs ...SourceID) Watermark {
	if len(srcs) == 0 {
		return Unknown
	}
	r.lock.RLock()
	defer r.lock.RUnlock()

	var low int64
	for i, src := range srcs {
		holder, ok := r.sources[src]
		if !ok {
			return Unknown
		}
		v := holder.Load()
		if v == Unknown.UnixMilli() {
			return Unknown
		}
		if i == 0 || v < low {
			low = v
		}
	}
	return Watermark(time.UnixMilli(low))
}

// Sources returns the registered source IDs in lexical order.
func (r *Registry) Sources() []SourceID {
	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make([]SourceID, 0, len(r.sources))
	for src := range r.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) holder(src SourceID) *atomic.Int64 {
	r.lock.RLock()
	holder, ok := r.sources[src]
	r.lock.RUnlock()
	if ok {
		return holder
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if holder, ok = r.sources[src]; ok {
		return holder
	}
	holder = atomic.NewInt64(Unknown.UnixMilli())
	r.sources[src] = holder
	return holder
}
