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

// Package dataset models the handles transforms exchange during graph
// evaluation. A Bounded dataset is a complete finite batch. An Unbounded
// dataset is one tick's slice of an open-ended stream together with the
// sources feeding it; a fresh handle supersedes it on the next tick.
package dataset

import (
	"context"
	"fmt"

	"github.com/sluiceproj/sluice/pkg/substrate"
	"github.com/sluiceproj/sluice/pkg/watermark"
)

// Dataset is either a Bounded or an Unbounded dataset.
type Dataset interface {
	// Collection returns the records backing the dataset for the current
	// tick.
	Collection() substrate.Collection
	// IsBounded reports whether the dataset is finite.
	IsBounded() bool
}

// Bounded wraps one finite collection. Its contents never change.
type Bounded struct {
	coll substrate.Collection
}

var _ Dataset = (*Bounded)(nil)

// NewBounded returns a bounded dataset over the given collection.
func NewBounded(coll substrate.Collection) *Bounded {
	return &Bounded{coll: coll}
}

func (b *Bounded) Collection() substrate.Collection {
	return b.coll
}

func (b *Bounded) IsBounded() bool {
	return true
}

// Unbounded wraps the current tick's collection of an open-ended stream,
// tracking which sources feed it. The source set decides which watermarks
// gate the firing of windows grouped downstream of this dataset.
type Unbounded struct {
	coll    substrate.Collection
	sources []watermark.SourceID
}

var _ Dataset = (*Unbounded)(nil)

// NewUnbounded returns an unbounded dataset over the given tick collection
// and feeding sources.
func NewUnbounded(coll substrate.Collection, sources []watermark.SourceID) *Unbounded {
	return &Unbounded{coll: coll, sources: sources}
}

func (u *Unbounded) Collection() substrate.Collection {
	return u.coll
}

func (u *Unbounded) IsBounded() bool {
	return false
}

// Sources returns the IDs of the sources feeding this dataset, in first
// appearance order without duplicates.
func (u *Unbounded) Sources() []watermark.SourceID {
	return u.sources
}

// WithCollection returns a new handle over the given collection keeping
// the source set. Transforms that only change the data, not its origin,
// use this to carry the sources downstream.
func (u *Unbounded) WithCollection(coll substrate.Collection) *Unbounded {
	return &Unbounded{coll: coll, sources: u.sources}
}

// AsBounded asserts the dataset is bounded.
func AsBounded(d Dataset) (*Bounded, error) {
	b, ok := d.(*Bounded)
	if !ok {
		return nil, TypeMismatchErr{Want: "Bounded", Got: fmt.Sprintf("%T", d)}
	}
	return b, nil
}

// AsUnbounded asserts the dataset is unbounded.
func AsUnbounded(d Dataset) (*Unbounded, error) {
	u, ok := d.(*Unbounded)
	if !ok {
		return nil, TypeMismatchErr{Want: "Unbounded", Got: fmt.Sprintf("%T", d)}
	}
	return u, nil
}

// QueueBounded lifts a bounded dataset into an unbounded one carrying no
// sources, as if it were a stream that delivers its whole content in a
// single tick. A flatten of bounded and unbounded inputs uses this so all
// branches speak the same type.
func QueueBounded(b *Bounded) *Unbounded {
	return &Unbounded{coll: b.coll}
}

// UnionUnbounded unions the tick collections of the given datasets and
// takes the ordered union of their source sets. A window grouped over the
// union can only fire once every source of every branch passed its end.
func UnionUnbounded(ctx context.Context, sub substrate.Substrate, parts []*Unbounded) (*Unbounded, error) {
	colls := make([]substrate.Collection, 0, len(parts))
	var sources []watermark.SourceID
	seen := make(map[watermark.SourceID]struct{})
	for _, part := range parts {
		colls = append(colls, part.Collection())
		for _, src := range part.Sources() {
			if _, ok := seen[src]; ok {
				continue
			}
			seen[src] = struct{}{}
			sources = append(sources, src)
		}
	}
	union, err := sub.Union(ctx, colls)
	if err != nil {
		return nil, err
	}
	return &Unbounded{coll: union, sources: sources}, nil
}
