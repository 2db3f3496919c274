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

package blackhole

import (
	"context"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/metrics"
	"github.com/sluiceproj/sluice/pkg/sinks"
)

// Blackhole is a sink to emulate /dev/null; it counts what it swallows and
// drops it.
type Blackhole struct {
	name         string
	pipelineName string
}

var _ sinks.Sink = (*Blackhole)(nil)

// NewBlackhole returns a new Blackhole sink.
func NewBlackhole(pipelineName, name string) *Blackhole {
	return &Blackhole{
		name:         name,
		pipelineName: pipelineName,
	}
}

// Name returns the name.
func (b *Blackhole) Name() string {
	return b.name
}

// Write writes to the blackhole.
func (b *Blackhole) Write(_ context.Context, els []*element.Windowed) error {
	sinkWriteCount.With(map[string]string{metrics.LabelSink: b.name, metrics.LabelPipeline: b.pipelineName}).Add(float64(len(els)))
	return nil
}

func (b *Blackhole) Close() error {
	return nil
}
