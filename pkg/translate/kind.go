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

// Package translate walks a logical transform graph once per tick and
// dispatches every node to an evaluator. The operator set is a closed enum;
// adding an operator kind means adding a constant and registering its
// evaluators at compile time, never a reflective lookup.
package translate

// Kind enumerates the logical operator kinds the translator understands.
type Kind int16

const (
	// KindSource binds a root dataset, either a static finite batch or the
	// micro-batch a live source delivered for the current tick.
	KindSource Kind = iota
	// KindParDo applies a user mapper element-wise, with optional side
	// inputs and tagged multi-output.
	KindParDo
	// KindWindowInto assigns every element to the windows of a strategy.
	KindWindowInto
	// KindGroupByKey groups elements by (key, window). In streaming mode it
	// runs the stateful grouping engine and fires panes; in batch mode it
	// produces grouped values for a downstream combine.
	KindGroupByKey
	// KindCombineGrouped folds already-grouped values into one output
	// element per (key, window).
	KindCombineGrouped
	// KindFlatten unions any number of input datasets into one.
	KindFlatten
	// KindSink writes a dataset to a terminal sink.
	KindSink
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "Source"
	case KindParDo:
		return "ParDo"
	case KindWindowInto:
		return "WindowInto"
	case KindGroupByKey:
		return "GroupByKey"
	case KindCombineGrouped:
		return "CombineGrouped"
	case KindFlatten:
		return "Flatten"
	case KindSink:
		return "Sink"
	default:
		return "Unknown"
	}
}
