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

// Package udf holds the user defined transform contract the pardo
// evaluator applies, one element in, zero or more tagged elements out.
package udf

import (
	"context"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/sideinput"
)

// Tag routes an output element to one of a transform's declared outputs.
type Tag string

// MainTag is the tag of the primary output. Transforms that emit a single
// stream never mention tags at all.
const MainTag Tag = ""

// TaggedOutput is one output element together with its routing tag.
type TaggedOutput struct {
	Tag     Tag
	Element *element.Windowed
}

// Emit wraps an element for the main output.
func Emit(el *element.Windowed) TaggedOutput {
	return TaggedOutput{Tag: MainTag, Element: el}
}

// EmitTo wraps an element for a named output.
func EmitTo(tag Tag, el *element.Windowed) TaggedOutput {
	return TaggedOutput{Tag: tag, Element: el}
}

// Context carries the tick scoped evaluation context into Map calls.
type Context struct {
	// Tick is the micro-batch being evaluated.
	Tick int64
	// SideInputs reads the side input snapshots of the tick.
	SideInputs sideinput.Reader
}

// Mapper transforms one element into zero or more tagged outputs. Map is
// called concurrently from substrate workers and must be safe for that.
type Mapper interface {
	// Name identifies the mapper in configuration and errors.
	Name() string
	Map(ctx context.Context, mctx Context, el *element.Windowed) ([]TaggedOutput, error)
}

// MapperFunc adapts a plain function to the Mapper interface.
type MapperFunc struct {
	name string
	fn   func(ctx context.Context, mctx Context, el *element.Windowed) ([]TaggedOutput, error)
}

// NewMapper returns a Mapper backed by fn.
func NewMapper(name string, fn func(ctx context.Context, mctx Context, el *element.Windowed) ([]TaggedOutput, error)) *MapperFunc {
	return &MapperFunc{name: name, fn: fn}
}

func (m *MapperFunc) Name() string { return m.name }

func (m *MapperFunc) Map(ctx context.Context, mctx Context, el *element.Windowed) ([]TaggedOutput, error) {
	return m.fn(ctx, mctx, el)
}
