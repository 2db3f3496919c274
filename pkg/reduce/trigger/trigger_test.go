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

package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/reduce/state"
	"github.com/sluiceproj/sluice/pkg/watermark"
)

func entry(endMillis int64) *state.Entry {
	return state.NewEntry(state.ID{
		Start: time.UnixMilli(endMillis - 60000),
		End:   time.UnixMilli(endMillis),
		Key:   "k",
	}, int64(0), 1)
}

func TestWatermarkPolicy_ShouldFire(t *testing.T) {
	p := WatermarkPolicy{}

	tests := []struct {
		name       string
		entry      func() *state.Entry
		low        watermark.Watermark
		wantFire   bool
		wantTiming element.PaneTiming
	}{
		{
			name:  "unknown watermark never fires",
			entry: func() *state.Entry { return entry(60000) },
			low:   watermark.Unknown,
		},
		{
			name:  "watermark before window end",
			entry: func() *state.Entry { return entry(60000) },
			low:   watermark.Watermark(time.UnixMilli(59999)),
		},
		{
			name:       "first fire exactly at window end is on time",
			entry:      func() *state.Entry { return entry(60000) },
			low:        watermark.Watermark(time.UnixMilli(60000)),
			wantFire:   true,
			wantTiming: element.PaneOnTime,
		},
		{
			name: "fired entry without new data stays quiet",
			entry: func() *state.Entry {
				e := entry(60000)
				e.Observe(time.UnixMilli(30000))
				e.MarkFired()
				return e
			},
			low: watermark.Watermark(time.UnixMilli(90000)),
		},
		{
			name: "fired entry with pending data refires late",
			entry: func() *state.Entry {
				e := entry(60000)
				e.Observe(time.UnixMilli(30000))
				e.MarkFired()
				e.Observe(time.UnixMilli(45000))
				return e
			},
			low:        watermark.Watermark(time.UnixMilli(90000)),
			wantFire:   true,
			wantTiming: element.PaneLate,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d := p.ShouldFire(tt.entry(), tt.low)
			assert.Equal(t, tt.wantFire, d.Fire)
			if tt.wantFire {
				assert.Equal(t, tt.wantTiming, d.Timing)
			}
		})
	}
}

func TestWatermarkPolicy_ShouldExpire(t *testing.T) {
	p := WatermarkPolicy{}
	end := time.UnixMilli(60000)
	lateness := 5 * time.Second

	assert.False(t, p.ShouldExpire(end, watermark.Unknown, lateness))
	assert.False(t, p.ShouldExpire(end, watermark.Watermark(time.UnixMilli(64999)), lateness))
	assert.True(t, p.ShouldExpire(end, watermark.Watermark(time.UnixMilli(65000)), lateness))
	assert.True(t, p.ShouldExpire(end, watermark.Watermark(time.UnixMilli(70000)), lateness))

	// zero lateness expires the moment the window can fire
	assert.True(t, p.ShouldExpire(end, watermark.Watermark(end), 0))
}
