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

package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// stateRemovedCount is used to indicate the number of entries removed from a store, TTL expiry and deletes alike
var stateRemovedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "state",
	Name:      "removed_total",
	Help:      "Total number of state entries removed, by TTL expiry or explicit deletion",
}, []string{"store"})

// stateSizeGauge exposes the live entry count per store
var stateSizeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Subsystem: "state",
	Name:      "entries",
	Help:      "Number of live state entries",
}, []string{"store"})
