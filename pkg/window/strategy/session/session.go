// Package session implements Session windows. Session windows are unaligned windows of dynamic
// length: every element opens a window spanning its event time plus the session gap, and windows
// of the same key that overlap are merged by the grouping engine. A session closes once no new
// element arrives within the gap.
package session

import (
	"fmt"
	"time"

	"github.com/sluiceproj/sluice/pkg/window"
)

// Session implements session windows
type Session struct {
	// Gap is the maximum silence between two elements of the same session.
	Gap  time.Duration
	opts *window.Options
}

var _ window.Windower = (*Session)(nil)

// NewSession returns a Session windower
func NewSession(gap time.Duration, opts ...window.Option) window.Windower {
	options := window.DefaultOptions()
	for _, o := range opts {
		_ = o(options)
	}
	return &Session{
		Gap:  gap,
		opts: options,
	}
}

// Strategy returns the strategy of the windower.
func (s *Session) Strategy() window.Strategy {
	return window.Session
}

// AssignWindows assigns a proto window spanning the event time plus the gap.
// Overlapping proto windows of the same key are merged later, before any
// input is added to the group.
func (s *Session) AssignWindows(eventTime time.Time) []*window.IntervalWindow {
	return []*window.IntervalWindow{
		window.NewIntervalWindow(eventTime, eventTime.Add(s.Gap)),
	}
}

// Merges returns true, overlapping session windows of the same key merge.
func (s *Session) Merges() bool {
	return true
}

// AllowedLateness returns how long window state is retained past the watermark.
func (s *Session) AllowedLateness() time.Duration {
	return s.opts.AllowedLateness()
}

func (s *Session) String() string {
	return fmt.Sprintf("Session(gap=%v,allowedLateness=%v)", s.Gap, s.opts.AllowedLateness())
}
