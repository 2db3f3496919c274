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

package element

import (
	"time"
)

// Attributes is a string-keyed multimap carrying transport metadata
// (broker headers, subjects, offsets) alongside the payload.
type Attributes map[string][]string

// Add appends a value to the given attribute key.
func (a Attributes) Add(key, value string) {
	a[key] = append(a[key], value)
}

// Get returns the first value of the given attribute key.
func (a Attributes) Get(key string) string {
	if vs, ok := a[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Clone returns a deep copy of the attributes.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, vs := range a {
		cp := make([]string, len(vs))
		copy(cp, vs)
		out[k] = cp
	}
	return out
}

// Element is the unit of data flowing through a pipeline. The payload is
// opaque to the engine; only the event time, key and attributes are
// interpreted.
type Element struct {
	// ID is used for deduplication on replays. It is usually populated from
	// the source offset, if an offset is available.
	ID string
	// Key is the grouping key. It is empty until a keyed transform sets it.
	Key string
	// EventTime is when the event occurred at its origin, not when it was
	// observed by the pipeline.
	EventTime time.Time
	// Attrs carries transport metadata as a multimap.
	Attrs Attributes
	// Payload is the opaque user data.
	Payload []byte
}

// New returns an element with the given payload and event time.
func New(payload []byte, eventTime time.Time) *Element {
	return &Element{
		EventTime: eventTime,
		Payload:   payload,
	}
}

// Copy returns a deep copy of the element.
func (e *Element) Copy() *Element {
	payload := make([]byte, len(e.Payload))
	copy(payload, e.Payload)
	return &Element{
		ID:        e.ID,
		Key:       e.Key,
		EventTime: e.EventTime,
		Attrs:     e.Attrs.Clone(),
		Payload:   payload,
	}
}

// WithKey returns a copy of the element carrying the given grouping key.
// Elements are treated as immutable once emitted, so keying never mutates
// the receiver.
func (e *Element) WithKey(key string) *Element {
	out := e.Copy()
	out.Key = key
	return out
}

// WithPayload returns a copy of the element carrying the given payload.
func (e *Element) WithPayload(payload []byte) *Element {
	out := e.Copy()
	out.Payload = payload
	return out
}
