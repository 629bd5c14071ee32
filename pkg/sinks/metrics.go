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

package sinks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// sinkWriteCount is used to indicate the number of rows applied per table
var sinkWriteCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "sink",
	Name:      "write_total",
	Help:      "Total number of rows written",
}, []string{"table"})

// sinkDropCount is used to indicate the number of rows dropped after exhausting retries
var sinkDropCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "sink",
	Name:      "drop_total",
	Help:      "Total number of rows dropped after retry exhaustion",
}, []string{"table"})
