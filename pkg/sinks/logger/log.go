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

package logger

import (
	"context"
	"log"

	"go.uber.org/zap"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/metrics"
	"github.com/sluiceproj/sluice/pkg/shared/logging"
	"github.com/sluiceproj/sluice/pkg/sinks"
)

// ToLog prints every element it receives, one line per element.
type ToLog struct {
	name         string
	pipelineName string
	logger       *zap.SugaredLogger
}

var _ sinks.Sink = (*ToLog)(nil)

type Option func(*ToLog) error

func WithLogger(log *zap.SugaredLogger) Option {
	return func(t *ToLog) error {
		t.logger = log
		return nil
	}
}

// NewToLog returns a log sink.
func NewToLog(pipelineName, name string, opts ...Option) (*ToLog, error) {
	toLog := &ToLog{
		name:         name,
		pipelineName: pipelineName,
	}
	// use opts in future for specifying logger format etc
	for _, o := range opts {
		if err := o(toLog); err != nil {
			return nil, err
		}
	}
	if toLog.logger == nil {
		toLog.logger = logging.NewLogger()
	}
	return toLog, nil
}

// Name returns the name.
func (t *ToLog) Name() string {
	return t.name
}

// Write writes to the log.
func (t *ToLog) Write(_ context.Context, els []*element.Windowed) error {
	prefix := "(" + t.name + ")"
	for _, el := range els {
		logSinkWriteCount.With(map[string]string{metrics.LabelSink: t.name, metrics.LabelPipeline: t.pipelineName}).Inc()
		log.Println(prefix, " Payload - ", string(el.Payload), " Key - ", el.Key, " EventTime - ", el.EventTime.UnixMilli(), " Timing - ", el.Timing.String())
	}
	return nil
}

func (t *ToLog) Close() error {
	return nil
}
