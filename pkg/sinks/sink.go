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

// Package sinks defines the terminal write contract of a pipeline and its
// built-in implementations.
package sinks

import (
	"context"
	"io"

	"github.com/sluiceproj/sluice/pkg/element"
)

// Sink receives the elements a terminal graph node produces. Write is called
// at most once per tick per sink and may be retried with the same batch when
// a tick is replayed, so writes should be idempotent or tolerant of
// duplicates.
type Sink interface {
	io.Closer
	// Name identifies the sink in configuration and logs.
	Name() string
	// Write persists one batch of elements.
	Write(ctx context.Context, els []*element.Windowed) error
}
