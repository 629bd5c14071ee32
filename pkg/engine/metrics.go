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

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// rowsEmittedCount is used to indicate the number of change rows emitted per view
var rowsEmittedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "engine",
	Name:      "rows_emitted_total",
	Help:      "Total number of change rows emitted",
}, []string{"view"})

// retractionIndexMissCount is used to indicate updates/deletes arriving for an id with no known prior contribution
var retractionIndexMissCount = promauto.NewCounter(prometheus.CounterOpts{
	Subsystem: "engine",
	Name:      "retraction_index_miss_total",
	Help:      "Total number of updates or deletes with no prior contribution to retract",
})
