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
	"time"
)

// Windower assigns event times to windows. Implementations are stateless;
// the grouping engine owns the lifecycle of the assigned windows.
type Windower interface {
	// Strategy returns the window strategy.
	Strategy() Strategy
	// AssignWindows returns the set of windows the given event time
	// belongs to, ordered by start time.
	AssignWindows(eventTime time.Time) []*IntervalWindow
	// Merges returns true when windows assigned by this windower can merge
	// with each other. The grouping engine merges per-key overlapping
	// windows before adding input.
	Merges() bool
	// AllowedLateness is how long after the watermark passes the end of a
	// window its state is retained to accept late elements. Once the
	// watermark passes end+allowedLateness the window is expired and its
	// state garbage collected.
	AllowedLateness() time.Duration
	// String uniquely describes the windower configuration. Two windowers
	// with equal strings assign identical windows.
	String() string
}

// Strategy represents the windowing strategy
type Strategy int

const (
	Fixed Strategy = iota
	Sliding
	Session
	Global
)

func (s Strategy) String() string {
	switch s {
	case Fixed:
		return "Fixed"
	case Sliding:
		return "Sliding"
	case Session:
		return "Session"
	case Global:
		return "Global"
	default:
		return "Unknown"
	}
}
