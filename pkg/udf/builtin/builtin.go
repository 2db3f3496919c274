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

// Package builtin provides expression driven mappers so common element
// transforms can be declared in pipeline configuration instead of code.
package builtin

import (
	"context"
	"fmt"

	"github.com/sluiceproj/sluice/pkg/element"
	sharedexpr "github.com/sluiceproj/sluice/pkg/shared/expr"
	"github.com/sluiceproj/sluice/pkg/udf"
)

// Builtin kinds accepted by New.
const (
	KindFilter    = "filter"
	KindTransform = "transform"
	KindKeyBy     = "key-by"
)

// New returns the named builtin mapper bound to the given expression.
func New(kind, expression string) (udf.Mapper, error) {
	switch kind {
	case KindFilter:
		return NewFilter(expression), nil
	case KindTransform:
		return NewTransform(expression), nil
	case KindKeyBy:
		return NewKeyBy(expression), nil
	default:
		return nil, fmt.Errorf("unrecognized builtin %q", kind)
	}
}

// Filter drops every element for which the expression does not evaluate to
// true. The expression sees the payload and the key.
type Filter struct {
	expression string
}

// NewFilter returns a filter mapper for the given boolean expression.
func NewFilter(expression string) *Filter {
	return &Filter{expression: expression}
}

func (f *Filter) Name() string {
	return KindFilter
}

func (f *Filter) Map(_ context.Context, _ udf.Context, el *element.Windowed) ([]udf.TaggedOutput, error) {
	keep, err := sharedexpr.EvalBool(f.expression, el.Payload, el.Key)
	if err != nil {
		return nil, err
	}
	if !keep {
		return nil, nil
	}
	return []udf.TaggedOutput{udf.Emit(el)}, nil
}

// Transform rewrites the payload of every element to the string result of
// the expression. Event time, key and windows pass through untouched.
type Transform struct {
	expression string
}

// NewTransform returns a transform mapper for the given expression.
func NewTransform(expression string) *Transform {
	return &Transform{expression: expression}
}

func (t *Transform) Name() string {
	return KindTransform
}

func (t *Transform) Map(_ context.Context, _ udf.Context, el *element.Windowed) ([]udf.TaggedOutput, error) {
	out, err := sharedexpr.EvalString(t.expression, el.Payload, el.Key)
	if err != nil {
		return nil, err
	}
	mapped := &element.Windowed{
		Element: *el.WithPayload([]byte(out)),
		Windows: el.Windows,
		Timing:  el.Timing,
	}
	return []udf.TaggedOutput{udf.Emit(mapped)}, nil
}

// KeyBy sets the grouping key of every element to the string result of the
// expression, typically ahead of a group-by-key.
type KeyBy struct {
	expression string
}

// NewKeyBy returns a keying mapper for the given expression.
func NewKeyBy(expression string) *KeyBy {
	return &KeyBy{expression: expression}
}

func (k *KeyBy) Name() string {
	return KindKeyBy
}

func (k *KeyBy) Map(_ context.Context, _ udf.Context, el *element.Windowed) ([]udf.TaggedOutput, error) {
	key, err := sharedexpr.EvalString(k.expression, el.Payload, el.Key)
	if err != nil {
		return nil, err
	}
	keyed := &element.Windowed{
		Element: *el.WithKey(key),
		Windows: el.Windows,
		Timing:  el.Timing,
	}
	return []udf.TaggedOutput{udf.Emit(keyed)}, nil
}

var (
	_ udf.Mapper = (*Filter)(nil)
	_ udf.Mapper = (*Transform)(nil)
	_ udf.Mapper = (*KeyBy)(nil)
)
