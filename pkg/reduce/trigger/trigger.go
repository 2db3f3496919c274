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

// Package trigger decides when grouping state fires panes and when it
// expires. The grouping engine consults a Policy instead of hard-coding
// watermark behavior.
package trigger

import (
	"time"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/reduce/state"
	"github.com/sluiceproj/sluice/pkg/watermark"
)

// Decision is a policy's verdict on firing one entry.
type Decision struct {
	Fire   bool
	Timing element.PaneTiming
}

// Policy is consulted once per live entry per partition pass. The engine
// evaluates firing before expiry, so a window can fire its final pane and
// be dropped within the same tick.
type Policy interface {
	ShouldFire(e *state.Entry, low watermark.Watermark) Decision
	// ShouldExpire reports whether a window ending at end is past its
	// lifetime. The engine uses it both to GC entries and to drop
	// elements arriving for windows already gone.
	ShouldExpire(end time.Time, low watermark.Watermark, allowedLateness time.Duration) bool
}

// WatermarkPolicy fires once the low watermark reaches the window end:
// the first pane is on time, refires are late and happen only when data
// arrived since the previous pane. An unknown watermark never fires and
// never expires anything.
type WatermarkPolicy struct{}

var _ Policy = (*WatermarkPolicy)(nil)

func (WatermarkPolicy) ShouldFire(e *state.Entry, low watermark.Watermark) Decision {
	if low.IsUnknown() {
		return Decision{}
	}
	if low.Before(e.ID.End) {
		return Decision{}
	}
	if !e.HasFired() {
		return Decision{Fire: true, Timing: element.PaneOnTime}
	}
	if e.PendingSinceFire > 0 {
		return Decision{Fire: true, Timing: element.PaneLate}
	}
	return Decision{}
}

func (WatermarkPolicy) ShouldExpire(end time.Time, low watermark.Watermark, allowedLateness time.Duration) bool {
	if low.IsUnknown() {
		return false
	}
	return !low.Before(end.Add(allowedLateness))
}
