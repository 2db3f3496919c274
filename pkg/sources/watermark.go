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

package sources

import (
	"time"

	"go.uber.org/atomic"

	"github.com/sluiceproj/sluice/pkg/watermark"
)

// Tracker derives a source watermark from the event times of delivered
// elements. The watermark trails the maximum observed event time by a fixed
// delay, which must cover the worst out-of-orderness the transport can
// produce; elements arriving later than that are late data downstream.
//
// Observe may be called from the read path while Current is polled by the
// driver, so the maximum is kept in an atomic.
type Tracker struct {
	delay        time.Duration
	maxEventTime *atomic.Int64
}

// NewTracker returns a tracker reporting Unknown until the first Observe.
func NewTracker(delay time.Duration) *Tracker {
	return &Tracker{
		delay:        delay,
		maxEventTime: atomic.NewInt64(watermark.Unknown.UnixMilli()),
	}
}

// Observe folds one delivered event time into the tracked maximum.
func (t *Tracker) Observe(eventTime time.Time) {
	millis := eventTime.UnixMilli()
	for {
		current := t.maxEventTime.Load()
		if millis <= current {
			return
		}
		if t.maxEventTime.CompareAndSwap(current, millis) {
			return
		}
	}
}

// Current returns the watermark, the tracked maximum minus the delay.
func (t *Tracker) Current() watermark.Watermark {
	max := t.maxEventTime.Load()
	if max == watermark.Unknown.UnixMilli() {
		return watermark.Unknown
	}
	return watermark.Watermark(time.UnixMilli(max - t.delay.Milliseconds()))
}
