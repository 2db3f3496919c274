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

// Package scripted implements a source that replays a pre-authored sequence
// of micro-batches. Each batch carries the watermark the source reports once
// the batch has been handed out, which makes firing and expiry behavior of a
// pipeline fully deterministic. It exists for tests and walkthroughs.
package scripted

import (
	"context"
	"fmt"
	"sync"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/sources"
	"github.com/sluiceproj/sluice/pkg/watermark"
)

// Batch is one scripted micro-batch. A batch is indivisible, Read hands out
// all of its elements at once.
type Batch struct {
	Elements  []*element.Element
	Watermark watermark.Watermark
}

// Source replays its batches in order. An unacknowledged batch is
// redelivered by the next Read, which mirrors how a real source behaves when
// a tick is discarded and retried.
type Source struct {
	id      watermark.SourceID
	mu      sync.Mutex
	batches []Batch
	cursor  int
	// inflight is true while a batch has been read but not acked
	inflight bool
	wm       watermark.Watermark
	closed   bool
}

var _ sources.Sourcer = (*Source)(nil)

// New returns a source that replays the given batches in order.
func New(id watermark.SourceID, batches ...Batch) *Source {
	return &Source{
		id:      id,
		batches: batches,
		wm:      watermark.Unknown,
	}
}

func (s *Source) ID() watermark.SourceID {
	return s.id
}

// Read returns the next unacknowledged batch, or an empty slice when the
// script is exhausted. The count is ignored, scripted batches are authored
// at the size the scenario needs.
func (s *Source) Read(_ context.Context, _ int64) ([]*element.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("scripted source %s is closed", s.id)
	}
	if s.cursor >= len(s.batches) {
		return nil, nil
	}
	batch := s.batches[s.cursor]
	s.inflight = true
	s.wm = batch.Watermark
	return batch.Elements, nil
}

func (s *Source) CurrentWatermark() watermark.Watermark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wm
}

// Ack moves the script past the batch delivered by the last Read. Acking
// with nothing in flight is a no-op.
func (s *Source) Ack(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		s.cursor++
		s.inflight = false
	}
	return nil
}

// Exhausted reports whether every batch has been delivered and acked.
func (s *Source) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor >= len(s.batches)
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
