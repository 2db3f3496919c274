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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelVersion   = "version"
	LabelPlatform  = "platform"
	LabelComponent = "component"
	LabelPipeline  = "pipeline"
	LabelTransform = "transform"
	LabelSource    = "source"
	LabelSink      = "sink"
	// LabelTiming distinguishes on-time panes from late ones.
	LabelTiming = "timing"
	LabelReason = "reason"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A metric with a constant value '1', labeled by Sluice binary version and platform",
	}, []string{LabelComponent, LabelVersion, LabelPlatform})

	// sourceWatermark is refreshed from the watermark registry by the
	// metrics server. Sources still at the Unknown watermark are not
	// exposed at all.
	sourceWatermark = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "pipeline",
		Name:      "source_watermark",
		Help:      "Current watermark of the source in unix milliseconds",
	}, []string{LabelPipeline, LabelSource})
)
