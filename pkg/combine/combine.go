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

// Package combine specifies how a collection of input elements is folded
// into a single output value via one or more intermediate accumulators.
// The grouping engine maintains one accumulator per (key, window) across
// micro-batches, so AddInput and MergeAccumulators must together be
// associative and commutative: the engine is free to fold elements in any
// arrival order and to merge partial accumulators in any grouping.
package combine

import (
	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/sideinput"
)

// Accumulator is the mutable intermediate state of a combine. It is opaque
// to the engine; only the CombineFn that created it interprets it.
type Accumulator = any

// Context carries the tick-scoped evaluation context into combine calls.
type Context struct {
	// Tick is the micro-batch being evaluated.
	Tick int64
	// SideInputs reads the side input snapshots of the tick.
	SideInputs sideinput.Reader
}

// CombineFn combines input elements into a single output value. All
// methods must be side effect free apart from mutating the passed
// accumulator; any error fails the current tick and the tick is retried
// from its pre-tick state.
type CombineFn interface {
	// Name identifies the fn in configuration and errors.
	Name() string
	// CreateAccumulator produces a fresh accumulator.
	CreateAccumulator() Accumulator
	// AddInput folds one element into the accumulator and returns the
	// updated accumulator.
	AddInput(cctx Context, acc Accumulator, el *element.Element) (Accumulator, error)
	// MergeAccumulators merges two accumulators into one. The engine calls
	// this when session windows merge and when partial accumulators of the
	// same (key, window) meet.
	MergeAccumulators(a, b Accumulator) (Accumulator, error)
	// ExtractOutput produces the output payload from the accumulator. The
	// accumulator stays live afterwards; a later pane of the same window
	// extracts again from the further updated accumulator.
	ExtractOutput(cctx Context, acc Accumulator) ([]byte, error)
}

// AccumulatorCoder encodes accumulators to bytes and back. A CombineFn
// whose state must survive the process (any durable state backend)
// implements it alongside CombineFn. The encoding must be deterministic.
type AccumulatorCoder interface {
	EncodeAccumulator(acc Accumulator) ([]byte, error)
	DecodeAccumulator(data []byte) (Accumulator, error)
}
