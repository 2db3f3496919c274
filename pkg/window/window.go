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

package window

import (
	"fmt"
	"time"
)

// IntervalWindow is a half open event time interval [Start, End). An
// element with event time t belongs to the window when Start <= t < End.
type IntervalWindow struct {
	// Start is the start time of the window, inclusive.
	Start time.Time
	// End is the end time of the window, exclusive.
	End time.Time
}

// NewIntervalWindow returns an interval window for the given boundaries.
func NewIntervalWindow(start, end time.Time) *IntervalWindow {
	return &IntervalWindow{
		Start: start,
		End:   end,
	}
}

// StartTime returns the start time of the window.
func (iw *IntervalWindow) StartTime() time.Time {
	return iw.Start
}

// EndTime returns the end time of the window.
func (iw *IntervalWindow) EndTime() time.Time {
	return iw.End
}

// MaxTimestamp returns the largest event time that can belong to the
// window. Since the end is exclusive and the engine tracks time at
// millisecond granularity, this is one millisecond before the end.
func (iw *IntervalWindow) MaxTimestamp() time.Time {
	return iw.End.Add(-time.Millisecond)
}

// Contains returns true when the given event time falls inside the window.
func (iw *IntervalWindow) Contains(t time.Time) bool {
	return !t.Before(iw.Start) && t.Before(iw.End)
}

// Overlaps returns true when the two windows share any span of time.
// Touching boundaries ([a,b) and [b,c)) do not overlap.
func (iw *IntervalWindow) Overlaps(o *IntervalWindow) bool {
	return iw.Start.Before(o.End) && o.Start.Before(iw.End)
}

// Intersects returns true when the two windows overlap or touch.
// Session merging uses this: two events exactly one gap apart produce
// abutting proto windows and still belong to one session.
func (iw *IntervalWindow) Intersects(o *IntervalWindow) bool {
	return !iw.Start.After(o.End) && !o.Start.After(iw.End)
}

// Union returns the smallest window covering both windows.
func (iw *IntervalWindow) Union(o *IntervalWindow) *IntervalWindow {
	start := iw.Start
	if o.Start.Before(start) {
		start = o.Start
	}
	end := iw.End
	if o.End.After(end) {
		end = o.End
	}
	return NewIntervalWindow(start, end)
}

// Equals returns true when both windows span the same interval.
func (iw *IntervalWindow) Equals(o *IntervalWindow) bool {
	return iw.Start.Equal(o.Start) && iw.End.Equal(o.End)
}

func (iw *IntervalWindow) String() string {
	return fmt.Sprintf("[%v,%v)", iw.Start.UnixMilli(), iw.End.UnixMilli())
}
