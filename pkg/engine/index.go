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
	"strconv"
	"time"

	"github.com/smartip/intervention-analytics/pkg/cdc"
)

// lastContribution remembers what an intervention id last contributed to
// each view, so updates and deletes can subtract their prior effect before
// the new one is applied. Delete tombstones carry only the id; this index is
// what makes their retraction possible.
type lastContribution struct {
	// Status the id last carried.
	Status string
	// MetricDate is the UTC day of planned_at the id was counted under,
	// nil when the event had no planned time.
	MetricDate *time.Time
	// TechnicianID the id was last attributed to.
	TechnicianID *int64
	// Completion is the duration sample (seconds) folded into the running
	// averages, nil when the event had no started/completed pair.
	Completion *float64
	// CompletedAt drives completed_today retraction.
	CompletedAt *time.Time
	// GeoTS is the source time of the geo row currently in the sink for
	// this id, nil when no geo row was emitted.
	GeoTS *time.Time
}

// contributionFrom captures the aggregation-relevant slice of an event.
// GeoTS is settled separately by the geo pipeline.
func contributionFrom(ev *cdc.InterventionChangeEvent) lastContribution {
	c := lastContribution{
		Status:       ev.Status,
		TechnicianID: ev.TechnicianID,
		CompletedAt:  ev.CompletedAt,
	}
	if d, ok := ev.MetricDate(); ok {
		c.MetricDate = &d
	}
	if secs, ok := ev.CompletionSeconds(); ok {
		c.Completion = &secs
	}
	return c
}

func indexKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
