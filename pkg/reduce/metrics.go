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

package reduce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sluiceproj/sluice/pkg/metrics"
)

// elementsProcessedCount is the number of elements folded into accumulators
var elementsProcessedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "reduce",
	Name:      "elements_processed_total",
	Help:      "Total number of elements folded into grouping state",
}, []string{metrics.LabelPipeline, metrics.LabelTransform})

// panesFiredCount is the number of panes emitted, split by timing
var panesFiredCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "reduce",
	Name:      "panes_fired_total",
	Help:      "Total number of panes fired",
}, []string{metrics.LabelPipeline, metrics.LabelTransform, metrics.LabelTiming})

// lateDroppedCount is the number of elements past allowed lateness
var lateDroppedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "reduce",
	Name:      "late_dropped_total",
	Help:      "Total number of elements dropped because their window was past allowed lateness",
}, []string{metrics.LabelPipeline, metrics.LabelTransform})

// stateEntriesCreatedCount is the number of state entries created
var stateEntriesCreatedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "reduce",
	Name:      "state_entries_created_total",
	Help:      "Total number of state entries created",
}, []string{metrics.LabelPipeline, metrics.LabelTransform})

// stateEntriesExpiredCount is the number of state entries garbage collected
var stateEntriesExpiredCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "reduce",
	Name:      "state_entries_expired_total",
	Help:      "Total number of state entries expired and dropped",
}, []string{metrics.LabelPipeline, metrics.LabelTransform})
