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
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sluiceproj/sluice/pkg/element"
)

// SumInt64Fn sums payloads holding decimal integers.
type SumInt64Fn struct{}

var _ CombineFn = (*SumInt64Fn)(nil)
var _ AccumulatorCoder = (*SumInt64Fn)(nil)

func (SumInt64Fn) Name() string { return "sum" }

func (SumInt64Fn) CreateAccumulator() Accumulator { return int64(0) }

func (SumInt64Fn) AddInput(_ Context, acc Accumulator, el *element.Element) (Accumulator, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(string(el.Payload)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("payload is not an integer: %w", err)
	}
	return acc.(int64) + v, nil
}

func (SumInt64Fn) MergeAccumulators(a, b Accumulator) (Accumulator, error) {
	return a.(int64) + b.(int64), nil
}

func (SumInt64Fn) ExtractOutput(_ Context, acc Accumulator) ([]byte, error) {
	return []byte(strconv.FormatInt(acc.(int64), 10)), nil
}

func (SumInt64Fn) EncodeAccumulator(acc Accumulator) ([]byte, error) {
	return encodeInt64(acc.(int64))
}

func (SumInt64Fn) DecodeAccumulator(data []byte) (Accumulator, error) {
	return decodeInt64(data)
}

// CountFn counts elements, ignoring their payloads.
type CountFn struct{}

var _ CombineFn = (*CountFn)(nil)
var _ AccumulatorCoder = (*CountFn)(nil)

func (CountFn) Name() string { return "count" }

func (CountFn) CreateAccumulator() Accumulator { return int64(0) }

func (CountFn) AddInput(_ Context, acc Accumulator, _ *element.Element) (Accumulator, error) {
	return acc.(int64) + 1, nil
}

func (CountFn) MergeAccumulators(a, b Accumulator) (Accumulator, error) {
	return a.(int64) + b.(int64), nil
}

func (CountFn) ExtractOutput(_ Context, acc Accumulator) ([]byte, error) {
	return []byte(strconv.FormatInt(acc.(int64), 10)), nil
}

func (CountFn) EncodeAccumulator(acc Accumulator) ([]byte, error) {
	return encodeInt64(acc.(int64))
}

func (CountFn) DecodeAccumulator(data []byte) (Accumulator, error) {
	return decodeInt64(data)
}

// ConcatFn collects payloads and emits them sorted and comma joined. The
// sort at extraction keeps the output independent of arrival order.
type ConcatFn struct{}

var _ CombineFn = (*ConcatFn)(nil)
var _ AccumulatorCoder = (*ConcatFn)(nil)

func (ConcatFn) Name() string { return "concat" }

func (ConcatFn) CreateAccumulator() Accumulator { return []string(nil) }

func (ConcatFn) AddInput(_ Context, acc Accumulator, el *element.Element) (Accumulator, error) {
	return append(acc.([]string), string(el.Payload)), nil
}

func (ConcatFn) MergeAccumulators(a, b Accumulator) (Accumulator, error) {
	return append(a.([]string), b.([]string)...), nil
}

func (ConcatFn) ExtractOutput(_ Context, acc Accumulator) ([]byte, error) {
	parts := acc.([]string)
	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)
	return []byte(strings.Join(sorted, ",")), nil
}

func (ConcatFn) EncodeAccumulator(acc Accumulator) ([]byte, error) {
	parts := acc.([]string)
	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)
	return msgpack.Marshal(sorted)
}

func (ConcatFn) DecodeAccumulator(data []byte) (Accumulator, error) {
	var parts []string
	if err := msgpack.Unmarshal(data, &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

// ByName returns the builtin combine fn with the given name.
func ByName(name string) (CombineFn, error) {
	switch name {
	case "sum":
		return SumInt64Fn{}, nil
	case "count":
		return CountFn{}, nil
	case "concat":
		return ConcatFn{}, nil
	default:
		return nil, fmt.Errorf("unknown combine fn %q", name)
	}
}

func encodeInt64(v int64) ([]byte, error) {
	var buf = new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeInt64(data []byte) (int64, error) {
	var v int64
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}
