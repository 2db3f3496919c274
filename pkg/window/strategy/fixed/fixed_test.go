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

package fixed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sluiceproj/sluice/pkg/window"
)

func TestFixed_AssignWindows(t *testing.T) {

	loc, _ := time.LoadLocation("UTC")
	baseTime := time.Unix(1651129201, 0).In(loc)

	tests := []struct {
		name      string
		length    time.Duration
		eventTime time.Time
		want      []*window.IntervalWindow
	}{
		{
			name:      "minute",
			length:    time.Minute,
			eventTime: baseTime,
			want: []*window.IntervalWindow{
				{
					Start: time.Unix(1651129200, 0).In(loc),
					End:   time.Unix(1651129260, 0).In(loc),
				},
			},
		},
		{
			name:      "hour",
			length:    time.Hour,
			eventTime: baseTime,
			want: []*window.IntervalWindow{
				{
					Start: time.Unix(1651129200, 0).In(loc),
					End:   time.Unix(1651129200+3600, 0).In(loc),
				},
			},
		},
		{
			name:      "5_minute",
			length:    time.Minute * 5,
			eventTime: baseTime,
			want: []*window.IntervalWindow{
				{
					Start: time.Unix(1651129200, 0).In(loc),
					End:   time.Unix(1651129200+300, 0).In(loc),
				},
			},
		},
		{
			name:      "30_second",
			length:    time.Second * 30,
			eventTime: baseTime,
			want: []*window.IntervalWindow{
				{
					Start: time.Unix(1651129200, 0).In(loc),
					End:   time.Unix(1651129230, 0).In(loc),
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFixed(tt.length)
			got := f.AssignWindows(tt.eventTime)
			if !(got[0].Start.Equal(tt.want[0].Start) && got[0].End.Equal(tt.want[0].End)) {
				t.Errorf("AssignWindows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFixed_AssignWindowsBoundary(t *testing.T) {
	loc, _ := time.LoadLocation("UTC")
	// an element sitting exactly on the boundary belongs to the window to
	// the right of the boundary
	boundary := time.Unix(1651129260, 0).In(loc)
	f := NewFixed(time.Minute)
	got := f.AssignWindows(boundary)
	assert.Len(t, got, 1)
	assert.True(t, got[0].Start.Equal(boundary))
	assert.True(t, got[0].End.Equal(boundary.Add(time.Minute)))
	assert.True(t, got[0].Contains(boundary))
}

func TestFixed_Properties(t *testing.T) {
	f := NewFixed(10*time.Second, window.WithAllowedLateness(5*time.Second))
	assert.Equal(t, window.Fixed, f.Strategy())
	assert.False(t, f.Merges())
	assert.Equal(t, 5*time.Second, f.AllowedLateness())
	assert.Equal(t, "Fixed(length=10s,allowedLateness=5s)", f.String())
}
