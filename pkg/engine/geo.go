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
	"time"

	"github.com/smartip/intervention-analytics/pkg/cdc"
	"github.com/smartip/intervention-analytics/pkg/sinks"
)

// geoPipeline is the stateless last-write-wins snapshot: any event carrying
// both coordinates overwrites the id's row entirely, no partial merge. The
// only state it needs is the source time of the row currently in the sink,
// kept on the id's index entry, so an out-of-order straggler with an older
// source time cannot clobber a newer position.
type geoPipeline struct {
	writer rowWriter
}

func newGeoPipeline(writer rowWriter) *geoPipeline {
	return &geoPipeline{writer: writer}
}

// apply handles a non-delete event and returns the source time of the geo
// row now standing in the sink for this id, nil when there is none.
func (p *geoPipeline) apply(ev *cdc.InterventionChangeEvent, prior *lastContribution) *time.Time {
	var cur *time.Time
	if prior != nil {
		cur = prior.GeoTS
	}
	if !ev.HasCoordinates() {
		return cur
	}
	if cur != nil && ev.SourceTS.Before(*cur) {
		// Straggler: the sink already holds a more recent position.
		return cur
	}

	updatedAt := time.Now().UTC()
	if ev.UpdatedAt != nil {
		updatedAt = *ev.UpdatedAt
	}
	p.writer.Write(sinks.GeoRow{
		InterventionID: ev.ID,
		Latitude:       *ev.Latitude,
		Longitude:      *ev.Longitude,
		Status:         ev.Status,
		TechnicianID:   ev.TechnicianID,
		PlannedAt:      ev.PlannedAt,
		UpdatedAt:      updatedAt,
	})
	rowsEmittedCount.WithLabelValues("geo_snapshot").Inc()
	ts := ev.SourceTS
	return &ts
}

// retract removes the id's row, for deletes. Deleting an id with no geo row
// is a no-op.
func (p *geoPipeline) retract(id int64, prior *lastContribution) {
	if prior == nil || prior.GeoTS == nil {
		return
	}
	p.writer.Write(sinks.GeoDeleteRow{InterventionID: id})
	rowsEmittedCount.WithLabelValues("geo_snapshot").Inc()
}
