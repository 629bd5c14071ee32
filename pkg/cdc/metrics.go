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

package cdc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// classifiedEventCount is used to indicate the number of events classified, by operation
var classifiedEventCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "cdc",
	Name:      "classified_total",
	Help:      "Total number of change events classified",
}, []string{"op"})

// malformedEventCount is used to indicate the number of payloads rejected by the classifier
var malformedEventCount = promauto.NewCounter(prometheus.CounterOpts{
	Subsystem: "cdc",
	Name:      "malformed_total",
	Help:      "Total number of malformed change events skipped",
})
