/*
Copyright 2024 The SmartIP Authors.

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

package watermark

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// lateEventCount is used to indicate the number of events dropped for arriving behind the watermark
var lateEventCount = promauto.NewCounter(prometheus.CounterOpts{
	Subsystem: "watermark",
	Name:      "late_events_dropped_total",
	Help:      "Total number of events dropped as late",
})

// watermarkGauge exposes the stream-wide watermark in unix millis
var watermarkGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Subsystem: "watermark",
	Name:      "current_millis",
	Help:      "Current min watermark across partitions",
})
