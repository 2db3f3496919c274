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

// Package expr evaluates user supplied expressions against element
// payloads. Expressions see the payload under "payload", the grouping key
// under "key", and helper functions for json access and type coercion.
package expr

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Masterminds/sprig/v3"
	"github.com/antonmedv/expr"
)

var sprigFuncMap = sprig.GenericFuncMap()

const (
	rootPayload = "payload"
	rootKey     = "key"
)

// EvalBool evaluates a predicate expression against the payload, e.g.
// `int(json(payload).temperature) > 21`.
func EvalBool(expression string, payload []byte, key string) (bool, error) {
	result, err := expr.Eval(expression, buildEnv(payload, key))
	if err != nil {
		return false, fmt.Errorf("unable to evaluate expression '%s': %s", expression, err)
	}
	resultBool, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unable to cast expression result '%v' to bool", result)
	}
	return resultBool, nil
}

// EvalString evaluates an expression against the payload and renders the
// result as a string, e.g. `json(payload).station` to pick a field out.
func EvalString(expression string, payload []byte, key string) (string, error) {
	env := buildEnv(payload, key)
	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return "", fmt.Errorf("unable to compile expression '%s': %s", expression, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return "", fmt.Errorf("unable to execute compiled program: %v", err)
	}
	return fmt.Sprintf("%v", result), nil
}

func buildEnv(payload []byte, key string) map[string]interface{} {
	return map[string]interface{}{
		rootPayload: string(payload),
		rootKey:     key,
		"sprig":     sprigFuncMap,
		"json":      _json,
		"int":       _int,
		"string":    _string,
	}
}

func _int(v interface{}) int {
	switch w := v.(type) {
	case []byte:
		i, err := strconv.Atoi(string(w))
		if err != nil {
			panic(fmt.Errorf("cannot convert %q to int", v))
		}
		return i
	case string:
		i, err := strconv.Atoi(w)
		if err != nil {
			panic(fmt.Errorf("cannot convert %q to int", v))
		}
		return i
	case float64:
		return int(w)
	case int:
		return w
	default:
		panic(fmt.Errorf("cannot convert %q to int", v))
	}
}

func _string(v interface{}) string {
	switch w := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(w)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func _json(v interface{}) map[string]interface{} {
	x := make(map[string]interface{})
	switch w := v.(type) {
	case nil:
		return nil
	case []byte:
		if err := json.Unmarshal(w, &x); err != nil {
			panic(fmt.Errorf("cannot convert %q to object: %v", v, err))
		}
		return x
	case string:
		if err := json.Unmarshal([]byte(w), &x); err != nil {
			panic(fmt.Errorf("cannot convert %q to object: %v", v, err))
		}
		return x
	default:
		panic("unknown type")
	}
}
