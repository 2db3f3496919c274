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

// Package sliding implements Sliding windows. Sliding windows are defined by a static window size
// e.g. minutely windows or hourly windows and a fixed "slide". This is the duration by which the boundaries
// of the windows move once every <slide> duration.
package sliding

import (
	"fmt"
	"time"

	"github.com/sluiceproj/sluice/pkg/window"
)

// Sliding implements sliding windows
type Sliding struct {
	// Length is the duration of the window
	Length time.Duration
	// offset between successive windows.
	// successive windows are phased out by this duration.
	Slide time.Duration
	opts  *window.Options
}

var _ window.Windower = (*Sliding)(nil)

// NewSliding returns a Sliding windower
func NewSliding(length time.Duration, slide time.Duration, opts ...window.Option) window.Windower {
	options := window.DefaultOptions()
	for _, o := range opts {
		_ = o(options)
	}
	return &Sliding{
		Length: length,
		Slide:  slide,
		opts:   options,
	}
}

// Strategy returns the strategy of the windower.
func (s *Sliding) Strategy() window.Strategy {
	return window.Sliding
}

// AssignWindows returns a set of windows that contain the element based on event time
func (s *Sliding) AssignWindows(eventTime time.Time) []*window.IntervalWindow {
	windows := make([]*window.IntervalWindow, 0)

	// use the highest integer multiple of slide length which is not after the eventTime
	// as the start time for the latest window. For example if the eventTime is 810 and slide
	// length is 70, use 770 as the startTime of the window. In that way we can guarantee
	// consistency while assigning the elements to the windows.
	startTime := time.UnixMilli((eventTime.UnixMilli() / s.Slide.Milliseconds()) * s.Slide.Milliseconds())
	endTime := startTime.Add(s.Length)

	// startTime and endTime will be the largest timestamp window for the given eventTime,
	// using that we can create other windows by subtracting the slide length.
	// assignment follows the left inclusive right exclusive principle, an element
	// sitting on the boundary between two slides belongs to the window starting there.
	for !startTime.After(eventTime) && endTime.After(eventTime) {
		windows = append(windows, window.NewIntervalWindow(startTime, endTime))
		startTime = startTime.Add(-s.Slide)
		endTime = endTime.Add(-s.Slide)
	}

	// reverse so the windows are ordered by start time
	for i, j := 0, len(windows)-1; i < j; i, j = i+1, j-1 {
		windows[i], windows[j] = windows[j], windows[i]
	}

	return windows
}

// Merges returns false, sliding windows never merge.
func (s *Sliding) Merges() bool {
	return false
}

// AllowedLateness returns how long window state is retained past the watermark.
func (s *Sliding) AllowedLateness() time.Duration {
	return s.opts.AllowedLateness()
}

func (s *Sliding) String() string {
	return fmt.Sprintf("Sliding(length=%v,slide=%v,allowedLateness=%v)", s.Length, s.Slide, s.opts.AllowedLateness())
}
