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

package translate

import (
	"fmt"
)

// UnsupportedOperatorErr is returned when an operator kind has no evaluator
// in the registry dispatch selected. It is fatal; the graph cannot run.
type UnsupportedOperatorErr struct {
	Kind     Kind
	Registry string
}

func (e UnsupportedOperatorErr) Error() string {
	return fmt.Sprintf("operator kind %s has no evaluator in the %s registry", e.Kind, e.Registry)
}

// UnboundInputErr is returned when an evaluator reads an input that no
// upstream node has bound for the current tick. It indicates a graph
// ordering or evaluator bug, never a data condition.
type UnboundInputErr struct {
	Node  string
	Input Ref
}

func (e UnboundInputErr) Error() string {
	return fmt.Sprintf("(%s) input %s is not bound in the evaluation context", e.Node, e.Input)
}
