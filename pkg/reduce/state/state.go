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

// Package state holds the per (key, window) grouping state and the store
// contracts the grouping engine mutates it through. An entry is only ever
// touched by the worker owning its key partition, so stores synchronize at
// the partition level, not the entry level.
package state

import (
	"fmt"
	"time"

	"github.com/sluiceproj/sluice/pkg/combine"
	"github.com/sluiceproj/sluice/pkg/window"
)

// ID uniquely identifies a state entry by its window interval and key.
type ID struct {
	Start time.Time
	End   time.Time
	Key   string
}

func (i ID) String() string {
	return fmt.Sprintf("%v-%v-%s", i.Start.UnixMilli(), i.End.UnixMilli(), i.Key)
}

// Window returns the interval the entry accumulates over.
func (i ID) Window() *window.IntervalWindow {
	return window.NewIntervalWindow(i.Start, i.End)
}

// Phase is the lifecycle phase of an entry. Expired entries are deleted
// outright, so only the two live phases are represented.
type Phase int16

const (
	// Open means the entry is accumulating and has not emitted a pane yet.
	Open Phase = iota
	// Fired means at least one pane has been emitted; the entry keeps
	// accepting elements until it expires.
	Fired
)

func (p Phase) String() string {
	switch p {
	case Open:
		return "OPEN"
	case Fired:
		return "FIRED"
	default:
		return "UNKNOWN"
	}
}

// InitialPaneIndex marks an entry that has never fired.
const InitialPaneIndex int64 = -1

// Entry is the mutable grouping state for one (key, window) pair.
type Entry struct {
	ID ID
	// Acc is the live accumulator. Durable backends persist its encoded
	// form and decode on load.
	Acc combine.Accumulator
	// MinEventTime and MaxEventTime track the event-time span of the
	// elements folded in so far. Zero until the first element.
	MinEventTime time.Time
	MaxEventTime time.Time
	// Count is the number of elements folded in since creation.
	Count int64
	// PaneIndex is the index of the last pane fired, InitialPaneIndex
	// before the first firing.
	PaneIndex int64
	// PendingSinceFire counts elements folded in since the last firing.
	// A fired entry only refires when this is non-zero.
	PendingSinceFire int64
	Phase            Phase
	// CreatedTick is the tick the entry was created on. Merged entries
	// keep the earliest.
	CreatedTick int64
}

// NewEntry returns an open entry with a fresh accumulator.
func NewEntry(id ID, acc combine.Accumulator, tick int64) *Entry {
	return &Entry{
		ID:          id,
		Acc:         acc,
		PaneIndex:   InitialPaneIndex,
		Phase:       Open,
		CreatedTick: tick,
	}
}

// Observe records that one element with the given event time has been
// folded into the accumulator.
func (e *Entry) Observe(eventTime time.Time) {
	if e.Count == 0 || eventTime.Before(e.MinEventTime) {
		e.MinEventTime = eventTime
	}
	if e.Count == 0 || eventTime.After(e.MaxEventTime) {
		e.MaxEventTime = eventTime
	}
	e.Count++
	e.PendingSinceFire++
}

// MarkFired transitions the entry after a pane has been emitted.
func (e *Entry) MarkFired() {
	e.Phase = Fired
	e.PaneIndex++
	e.PendingSinceFire = 0
}

// HasFired reports whether at least one pane has been emitted.
func (e *Entry) HasFired() bool {
	return e.PaneIndex > InitialPaneIndex
}

// Clone returns a copy of the entry. The accumulator is shared by
// reference; combine fns treat accumulators as immutable values, so the
// shared reference is safe.
func (e *Entry) Clone() *Entry {
	c := *e
	return &c
}
