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

package combine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/window"
)

func TestApplyGrouped(t *testing.T) {
	iw := window.NewIntervalWindow(time.UnixMilli(60000), time.UnixMilli(120000))
	g := &Grouped{
		Key:    "sensor-1",
		Window: iw,
		Elements: []*element.Element{
			element.New([]byte("10"), time.UnixMilli(61000)).WithKey("sensor-1"),
			element.New([]byte("20"), time.UnixMilli(75000)).WithKey("sensor-1"),
			element.New([]byte("12"), time.UnixMilli(119999)).WithKey("sensor-1"),
		},
	}

	out, err := ApplyGrouped(Context{Tick: 3}, SumInt64Fn{}, g)
	assert.NoError(t, err)
	assert.Equal(t, "sensor-1", out.Key)
	assert.Equal(t, "42", string(out.Payload))
	// the pane timestamp is the last instant the window covers
	assert.Equal(t, time.UnixMilli(119999), out.EventTime)
	assert.Equal(t, element.PaneOnTime, out.Timing)
	assert.Len(t, out.Windows, 1)
	assert.True(t, out.Windows[0].Equals(iw))
}

func TestApplyGrouped_EmptyGroup(t *testing.T) {
	iw := window.NewIntervalWindow(time.UnixMilli(0), time.UnixMilli(60000))
	g := &Grouped{Key: "idle", Window: iw}

	out, err := ApplyGrouped(Context{Tick: 1}, CountFn{}, g)
	assert.NoError(t, err)
	assert.Equal(t, "0", string(out.Payload))
}

func TestApplyGrouped_AddInputError(t *testing.T) {
	iw := window.NewIntervalWindow(time.UnixMilli(0), time.UnixMilli(60000))
	g := &Grouped{
		Key:    "broken",
		Window: iw,
		Elements: []*element.Element{
			element.New([]byte("oops"), time.UnixMilli(1000)).WithKey("broken"),
		},
	}

	_, err := ApplyGrouped(Context{Tick: 1}, SumInt64Fn{}, g)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `combine "sum"`)
	assert.Contains(t, err.Error(), `key "broken"`)
}
