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

// Package fixed implements Fixed windows. Fixed windows (sometimes called tumbling windows) are
// defined by a static window size, e.g. minutely windows or hourly windows. They are generally aligned, i.e. every
// window applies across all the data for the corresponding period of time.
package fixed

import (
	"fmt"
	"time"

	"github.com/sluiceproj/sluice/pkg/window"
)

// Fixed implements Fixed window.
type Fixed struct {
	// Length is the temporal length of the window.
	Length time.Duration
	opts   *window.Options
}

var _ window.Windower = (*Fixed)(nil)

// NewFixed returns a Fixed windower.
func NewFixed(length time.Duration, opts ...window.Option) window.Windower {
	options := window.DefaultOptions()
	for _, o := range opts {
		_ = o(options)
	}
	return &Fixed{
		Length: length,
		opts:   options,
	}
}

// Strategy returns the strategy of the windower.
func (f *Fixed) Strategy() window.Strategy {
	return window.Fixed
}

// AssignWindows assigns a window for the given eventTime.
func (f *Fixed) AssignWindows(eventTime time.Time) []*window.IntervalWindow {
	start := eventTime.Truncate(f.Length)
	end := start.Add(f.Length)

	// Assignment of windows should follow a Left inclusive and right exclusive
	// principle. Since we use truncate here, it is guaranteed that any element
	// on the boundary will automatically fall in to the window to the right
	// of the boundary thereby satisfying the requirement.
	return []*window.IntervalWindow{
		window.NewIntervalWindow(start, end),
	}
}

// Merges returns false, fixed windows never merge.
func (f *Fixed) Merges() bool {
	return false
}

// AllowedLateness returns how long window state is retained past the watermark.
func (f *Fixed) AllowedLateness() time.Duration {
	return f.opts.AllowedLateness()
}

func (f *Fixed) String() string {
	return fmt.Sprintf("Fixed(length=%v,allowedLateness=%v)", f.Length, f.opts.AllowedLateness())
}
