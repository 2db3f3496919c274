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

package driver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sluiceproj/sluice/pkg/metrics"
)

// ticksCount is the number of micro-batch ticks evaluated and committed
var ticksCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "driver",
	Name:      "ticks_total",
	Help:      "Total number of ticks evaluated and committed",
}, []string{metrics.LabelPipeline})

// tickFailuresCount is the number of ticks abandoned after retries
var tickFailuresCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "driver",
	Name:      "tick_failures_total",
	Help:      "Total number of ticks abandoned after exhausting retries",
}, []string{metrics.LabelPipeline})

// tickProcessingTime is a histogram to Observe whole tick processing times
var tickProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Subsystem: "driver",
	Name:      "tick_processing_time",
	Help:      "Processing times of entire ticks, read to ack (100 microseconds to 10 minutes)",
	Buckets:   prometheus.ExponentialBucketsRange(100, 60000000*10, 10),
}, []string{metrics.LabelPipeline})

// sourceReadErrorsCount is the number of failed source read attempts
var sourceReadErrorsCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "driver",
	Name:      "source_read_error_total",
	Help:      "Total number of source Read Errors",
}, []string{metrics.LabelPipeline, metrics.LabelSource})
