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
	"fmt"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/window"
)

// Grouped is one key's worth of elements within one window, the record
// shape produced by a plain (stateless) group-by-key.
type Grouped struct {
	Key      string
	Window   *window.IntervalWindow
	Elements []*element.Element
}

// ApplyGrouped folds an already-grouped set of values into one output
// element using the given fn. The grouped values are complete, so the
// result carries an on-time pane at the window's maximum timestamp.
func ApplyGrouped(cctx Context, fn CombineFn, g *Grouped) (*element.Windowed, error) {
	acc := fn.CreateAccumulator()
	var err error
	for _, el := range g.Elements {
		if acc, err = fn.AddInput(cctx, acc, el); err != nil {
			return nil, fmt.Errorf("combine %q add input for key %q: %w", fn.Name(), g.Key, err)
		}
	}
	payload, err := fn.ExtractOutput(cctx, acc)
	if err != nil {
		return nil, fmt.Errorf("combine %q extract output for key %q: %w", fn.Name(), g.Key, err)
	}

	out := element.Element{
		Key:       g.Key,
		EventTime: g.Window.MaxTimestamp(),
		Payload:   payload,
	}
	w := element.NewWindowed(out, g.Window)
	w.Timing = element.PaneOnTime
	return w, nil
}
