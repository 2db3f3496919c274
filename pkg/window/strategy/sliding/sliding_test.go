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

package sliding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sluiceproj/sluice/pkg/window"
)

func TestSliding_AssignWindows(t *testing.T) {
	loc, _ := time.LoadLocation("UTC")
	baseTime := time.Unix(600, 0).In(loc)

	tests := []struct {
		name      string
		length    time.Duration
		slide     time.Duration
		eventTime time.Time
		want      []*window.IntervalWindow
	}{
		{
			name:      "length_divisible_by_slide",
			length:    time.Minute,
			slide:     20 * time.Second,
			eventTime: baseTime.Add(10 * time.Second),
			want: []*window.IntervalWindow{
				{Start: time.Unix(560, 0).In(loc), End: time.Unix(620, 0).In(loc)},
				{Start: time.Unix(580, 0).In(loc), End: time.Unix(640, 0).In(loc)},
				{Start: time.Unix(600, 0).In(loc), End: time.Unix(660, 0).In(loc)},
			},
		},
		{
			name:      "element_on_slide_boundary",
			length:    time.Minute,
			slide:     20 * time.Second,
			eventTime: baseTime,
			want: []*window.IntervalWindow{
				{Start: time.Unix(560, 0).In(loc), End: time.Unix(620, 0).In(loc)},
				{Start: time.Unix(580, 0).In(loc), End: time.Unix(640, 0).In(loc)},
				{Start: time.Unix(600, 0).In(loc), End: time.Unix(660, 0).In(loc)},
			},
		},
		{
			name:      "length_equals_slide_behaves_fixed",
			length:    time.Minute,
			slide:     time.Minute,
			eventTime: baseTime.Add(10 * time.Second),
			want: []*window.IntervalWindow{
				{Start: time.Unix(600, 0).In(loc), End: time.Unix(660, 0).In(loc)},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSliding(tt.length, tt.slide)
			got := s.AssignWindows(tt.eventTime)
			assert.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.True(t, got[i].Start.Equal(tt.want[i].Start), "window %d start = %v, want %v", i, got[i].Start, tt.want[i].Start)
				assert.True(t, got[i].End.Equal(tt.want[i].End), "window %d end = %v, want %v", i, got[i].End, tt.want[i].End)
				assert.True(t, got[i].Contains(tt.eventTime))
			}
		})
	}
}

func TestSliding_Properties(t *testing.T) {
	s := NewSliding(time.Minute, 20*time.Second)
	assert.Equal(t, window.Sliding, s.Strategy())
	assert.False(t, s.Merges())
	assert.Equal(t, time.Duration(0), s.AllowedLateness())
}
