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

// Package watermark tracks event time progress across the sources of a
// pipeline. A watermark of t promises that, barring late data, all elements
// with event time earlier than t have been observed. Watermarks are tracked
// at millisecond granularity.
package watermark

import "time"

// SourceID identifies one unbounded source feeding the pipeline.
type SourceID string

func (s SourceID) String() string {
	return string(s)
}

// Watermark is the monotonically increasing event time watermark. It is
// tightly coupled to a source; the source is responsible for reporting a
// monotonically increasing Watermark.
type Watermark time.Time

// Unknown is the watermark of a source that has not reported yet. It acts
// as negative infinity: a combined watermark involving an Unknown source is
// itself Unknown, and nothing fires or expires against it.
var Unknown = Watermark(time.UnixMilli(-1))

// IsUnknown returns true when the watermark carries the Unknown sentinel.
// The sentinel is compared by value, not by time ordering, so event times
// before the epoch cannot be mistaken for it.
func (w Watermark) IsUnknown() bool {
	return w.UnixMilli() == Unknown.UnixMilli()
}

func (w Watermark) String() string {
	var location, _ = time.LoadLocation("UTC")
	var t = time.Time(w).In(location)
	return t.Format(time.RFC3339Nano)
}

func (w Watermark) UnixMilli() int64 {
	return time.Time(w).UnixMilli()
}

func (w Watermark) After(t time.Time) bool {
	return time.Time(w).After(t)
}

func (w Watermark) AfterWatermark(compare Watermark) bool {
	return w.After(time.Time(compare))
}

func (w Watermark) Before(t time.Time) bool {
	return time.Time(w).Before(t)
}

func (w Watermark) BeforeWatermark(compare Watermark) bool {
	return w.Before(time.Time(compare))
}

func (w Watermark) Add(t time.Duration) time.Time {
	return time.Time(w).Add(t)
}
