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
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/sluiceproj/sluice/pkg/window"
)

// The binary format is used wherever elements cross a partitioning or
// storage boundary. It is deterministic: the same element always encodes
// to the same bytes (attribute keys are written in sorted order).

type elementPreamble struct {
	EventEpoch int64
	IDLen      int16
	KeyLen     int16
	AttrCount  int16
	PLen       int64
}

// MarshalBinary encodes Element to the binary format
func (e Element) MarshalBinary() (data []byte, err error) {
	var buf = new(bytes.Buffer)
	var preamble = elementPreamble{
		EventEpoch: e.EventTime.UnixMilli(),
		IDLen:      int16(len(e.ID)),
		KeyLen:     int16(len(e.Key)),
		AttrCount:  int16(len(e.Attrs)),
		PLen:       int64(len(e.Payload)),
	}
	if err = binary.Write(buf, binary.LittleEndian, preamble); err != nil {
		return nil, err
	}
	if err = binary.Write(buf, binary.LittleEndian, []byte(e.ID)); err != nil {
		return nil, err
	}
	if err = binary.Write(buf, binary.LittleEndian, []byte(e.Key)); err != nil {
		return nil, err
	}
	attrKeys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		attrKeys = append(attrKeys, k)
	}
	sort.Strings(attrKeys)
	for _, k := range attrKeys {
		if err = writeString(buf, k); err != nil {
			return nil, err
		}
		vs := e.Attrs[k]
		if err = binary.Write(buf, binary.LittleEndian, int16(len(vs))); err != nil {
			return nil, err
		}
		for _, v := range vs {
			if err = writeString(buf, v); err != nil {
				return nil, err
			}
		}
	}
	if err = binary.Write(buf, binary.LittleEndian, e.Payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes Element from the binary format
func (e *Element) UnmarshalBinary(data []byte) (err error) {
	var r = bytes.NewReader(data)
	var preamble = new(elementPreamble)
	if err = binary.Read(r, binary.LittleEndian, preamble); err != nil {
		return err
	}
	var id = make([]byte, preamble.IDLen)
	if err = binary.Read(r, binary.LittleEndian, id); err != nil {
		return err
	}
	var key = make([]byte, preamble.KeyLen)
	if err = binary.Read(r, binary.LittleEndian, key); err != nil {
		return err
	}
	var attrs Attributes
	if preamble.AttrCount > 0 {
		attrs = make(Attributes, preamble.AttrCount)
		for i := int16(0); i < preamble.AttrCount; i++ {
			k, err := readString(r)
			if err != nil {
				return err
			}
			var vCount int16
			if err = binary.Read(r, binary.LittleEndian, &vCount); err != nil {
				return err
			}
			vs := make([]string, vCount)
			for j := int16(0); j < vCount; j++ {
				if vs[j], err = readString(r); err != nil {
					return err
				}
			}
			attrs[k] = vs
		}
	}
	var payload []byte
	if preamble.PLen != 0 {
		payload = make([]byte, preamble.PLen)
		if err = binary.Read(r, binary.LittleEndian, payload); err != nil {
			return err
		}
	}
	e.EventTime = time.UnixMilli(preamble.EventEpoch).UTC()
	e.ID = string(id)
	e.Key = string(key)
	e.Attrs = attrs
	e.Payload = payload
	return nil
}

type windowedPreamble struct {
	ELen        int32
	Timing      PaneTiming
	WindowCount int16
}

// MarshalBinary encodes Windowed to the binary format
func (w Windowed) MarshalBinary() (data []byte, err error) {
	var buf = new(bytes.Buffer)
	el, err := w.Element.MarshalBinary()
	if err != nil {
		return nil, err
	}
	var preamble = windowedPreamble{
		ELen:        int32(len(el)),
		Timing:      w.Timing,
		WindowCount: int16(len(w.Windows)),
	}
	if err = binary.Write(buf, binary.LittleEndian, preamble); err != nil {
		return nil, err
	}
	n, err := buf.Write(el)
	if err != nil {
		return nil, err
	} else if n != int(preamble.ELen) {
		return nil, fmt.Errorf("expected to write element size of %d but got %d", preamble.ELen, n)
	}
	for _, iw := range w.Windows {
		if err = binary.Write(buf, binary.LittleEndian, iw.Start.UnixMilli()); err != nil {
			return nil, err
		}
		if err = binary.Write(buf, binary.LittleEndian, iw.End.UnixMilli()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes Windowed from the binary format
func (w *Windowed) UnmarshalBinary(data []byte) (err error) {
	var r = bytes.NewReader(data)
	var preamble = new(windowedPreamble)
	if err = binary.Read(r, binary.LittleEndian, preamble); err != nil {
		return err
	}
	var elByte = make([]byte, preamble.ELen)
	n, err := r.Read(elByte)
	if err != nil {
		return err
	} else if n != int(preamble.ELen) {
		return fmt.Errorf("expected to read element size of %d but got %d", preamble.ELen, n)
	}
	var el = new(Element)
	if err = el.UnmarshalBinary(elByte); err != nil {
		return err
	}
	var windows []*window.IntervalWindow
	if preamble.WindowCount > 0 {
		windows = make([]*window.IntervalWindow, preamble.WindowCount)
		for i := int16(0); i < preamble.WindowCount; i++ {
			var startEpoch, endEpoch int64
			if err = binary.Read(r, binary.LittleEndian, &startEpoch); err != nil {
				return err
			}
			if err = binary.Read(r, binary.LittleEndian, &endEpoch); err != nil {
				return err
			}
			windows[i] = window.NewIntervalWindow(time.UnixMilli(startEpoch).UTC(), time.UnixMilli(endEpoch).UTC())
		}
	}
	w.Element = *el
	w.Windows = windows
	w.Timing = preamble.Timing
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.LittleEndian, int16(len(s))); err != nil {
		return err
	}
	return binary.Write(buf, binary.LittleEndian, []byte(s))
}

func readString(r *bytes.Reader) (string, error) {
	var l int16
	if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
		return "", err
	}
	var b = make([]byte, l)
	if err := binary.Read(r, binary.LittleEndian, b); err != nil {
		return "", err
	}
	return string(b), nil
}
