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

package element

import (
	"github.com/sluiceproj/sluice/pkg/window"
)

// PaneTiming describes when a pane fired relative to the low watermark of
// its window.
type PaneTiming int16

const (
	// PaneUnknown is the timing of an element that has not been through a
	// grouping yet.
	PaneUnknown PaneTiming = iota
	// PaneEarly fired before the watermark passed the end of the window.
	PaneEarly
	// PaneOnTime is the first firing at or after the watermark passed the
	// end of the window.
	PaneOnTime
	// PaneLate fired after the on-time pane because late data arrived
	// within the allowed lateness.
	PaneLate
)

func (pt PaneTiming) String() string {
	switch pt {
	case PaneEarly:
		return "Early"
	case PaneOnTime:
		return "OnTime"
	case PaneLate:
		return "Late"
	default:
		return "Unknown"
	}
}

// Windowed is an element together with the windows it has been assigned to.
// Before window assignment the slice is empty; after a fixed or session
// assignment it holds exactly one window, after a sliding assignment one per
// overlapping slide.
type Windowed struct {
	Element
	// Windows the element belongs to, ordered by start time.
	Windows []*window.IntervalWindow
	// Timing of the pane this element was emitted in. PaneUnknown until the
	// element comes out of a grouping.
	Timing PaneTiming
}

// NewWindowed wraps an element with the windows it has been assigned to.
func NewWindowed(e Element, windows ...*window.IntervalWindow) *Windowed {
	return &Windowed{
		Element: e,
		Windows: windows,
	}
}

// InWindow returns a copy of the windowed element scoped down to a single
// window. Grouping explodes multi-window elements so every (key, window)
// pair sees the element exactly once.
func (w *Windowed) InWindow(iw *window.IntervalWindow) *Windowed {
	return &Windowed{
		Element: w.Element,
		Windows: []*window.IntervalWindow{iw},
		Timing:  w.Timing,
	}
}

// Explode returns one single-window copy per assigned window.
func (w *Windowed) Explode() []*Windowed {
	if len(w.Windows) <= 1 {
		return []*Windowed{w}
	}
	out := make([]*Windowed, 0, len(w.Windows))
	for _, iw := range w.Windows {
		out = append(out, w.InWindow(iw))
	}
	return out
}
