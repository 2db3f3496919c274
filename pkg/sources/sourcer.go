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

// Package sources defines the contract between the driver and the systems
// that feed a pipeline. A source hands out elements one micro-batch at a
// time and reports how far event time has progressed for the data it has
// delivered.
package sources

import (
	"context"
	"io"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/watermark"
)

// Sourcer reads elements from an external system in micro-batches.
//
// Delivery is at-least-once: elements returned by Read stay in flight until
// Ack is called, and a source must be able to redeliver them if the tick
// that consumed them is discarded and retried. The driver calls Ack only
// after the tick's state transactions have committed.
type Sourcer interface {
	io.Closer
	// ID identifies this source in the watermark registry. Every source in
	// a pipeline must carry a distinct ID.
	ID() watermark.SourceID
	// Read returns at most count elements. It returns an empty slice, not
	// an error, when no data arrives within the source's read timeout.
	Read(ctx context.Context, count int64) ([]*element.Element, error)
	// CurrentWatermark reports the source's event time progress for the
	// elements delivered so far, Unknown until the source has seen data.
	CurrentWatermark() watermark.Watermark
	// Ack acknowledges every element delivered since the previous Ack.
	Ack(ctx context.Context) error
}
