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
	"github.com/smartip/intervention-analytics/pkg/sinks"
	"github.com/smartip/intervention-analytics/pkg/state"
)

// technicianAccumulator is the per-technician workload state. OpenCount is
// not a running total: retract-then-apply keeps it equal to the number of
// currently open interventions attributed to the technician.
type technicianAccumulator struct {
	OpenCount      int64
	CompletedToday int64
	// Day is the UTC calendar day CompletedToday refers to. Rollover is
	// detected against event time, not wall clock: a technician with no
	// events keeps a stale count until their next event arrives.
	Day          time.Time
	DurationSum  float64
	DurationN    int64
	LastSourceTS time.Time
}

func (a *technicianAccumulator) rollover(eventDay time.Time) {
	if a.Day.IsZero() || eventDay.After(a.Day) {
		a.CompletedToday = 0
		a.Day = eventDay
	}
}

func (a *technicianAccumulator) retract(c *lastContribution) {
	if cdc.IsOpenStatus(c.Status) {
		a.OpenCount--
	}
	if c.Completion != nil {
		a.DurationSum -= *c.Completion
		a.DurationN--
	}
	if cdc.IsCompletedStatus(c.Status) && c.CompletedAt != nil && sameUTCDay(*c.CompletedAt, a.Day) {
		a.CompletedToday--
	}
}

func (a *technicianAccumulator) apply(ev *cdc.InterventionChangeEvent) {
	if cdc.IsOpenStatus(ev.Status) {
		a.OpenCount++
	}
	if secs, ok := ev.CompletionSeconds(); ok {
		a.DurationSum += secs
		a.DurationN++
	}
	if cdc.IsCompletedStatus(ev.Status) && ev.CompletedAt != nil && sameUTCDay(*ev.CompletedAt, a.Day) {
		a.CompletedToday++
	}
}

func (a *technicianAccumulator) avg() *float64 {
	if a.DurationN <= 0 {
		return nil
	}
	v := a.DurationSum / float64(a.DurationN)
	return &v
}

func (a *technicianAccumulator) touch(ts time.Time) {
	if ts.After(a.LastSourceTS) {
		a.LastSourceTS = ts
	}
}

// technicianPipeline maintains the per-technician workload snapshot. Events
// with no technician attribution are ignored, except that an update moving
// an intervention off a technician still retracts from the old one.
type technicianPipeline struct {
	accums *state.Store[technicianAccumulator]
	writer rowWriter
}

func newTechnicianPipeline(accums *state.Store[technicianAccumulator], writer rowWriter) *technicianPipeline {
	return &technicianPipeline{accums: accums, writer: writer}
}

func (p *technicianPipeline) applyChange(ev *cdc.InterventionChangeEvent, prior *lastContribution) {
	eventDay := utcDay(ev.SourceTS)

	if prior != nil && prior.TechnicianID != nil && ev.TechnicianID != nil && *prior.TechnicianID == *ev.TechnicianID {
		p.accums.Update(technicianKey(*ev.TechnicianID), func(acc technicianAccumulator, _ bool) (technicianAccumulator, bool) {
			acc.rollover(eventDay)
			acc.retract(prior)
			acc.apply(ev)
			acc.touch(ev.SourceTS)
			p.emit(*ev.TechnicianID, acc)
			return acc, true
		})
		return
	}

	if prior != nil && prior.TechnicianID != nil {
		p.accums.Update(technicianKey(*prior.TechnicianID), func(acc technicianAccumulator, _ bool) (technicianAccumulator, bool) {
			acc.rollover(eventDay)
			acc.retract(prior)
			acc.touch(ev.SourceTS)
			p.emit(*prior.TechnicianID, acc)
			return acc, true
		})
	}
	if ev.TechnicianID != nil {
		p.accums.Update(technicianKey(*ev.TechnicianID), func(acc technicianAccumulator, _ bool) (technicianAccumulator, bool) {
			acc.rollover(eventDay)
			acc.apply(ev)
			acc.touch(ev.SourceTS)
			p.emit(*ev.TechnicianID, acc)
			return acc, true
		})
	}
}

// retract removes the id's contribution from its technician, for deletes.
func (p *technicianPipeline) retract(prior *lastContribution, sourceTS time.Time) {
	if prior == nil || prior.TechnicianID == nil {
		return
	}
	p.accums.Update(technicianKey(*prior.TechnicianID), func(acc technicianAccumulator, _ bool) (technicianAccumulator, bool) {
		acc.rollover(utcDay(sourceTS))
		acc.retract(prior)
		acc.touch(sourceTS)
		p.emit(*prior.TechnicianID, acc)
		return acc, true
	})
}

func (p *technicianPipeline) emit(technicianID int64, acc technicianAccumulator) {
	p.writer.Write(sinks.TechnicianLoadRow{
		TechnicianID:         technicianID,
		OpenCount:            acc.OpenCount,
		CompletedToday:       acc.CompletedToday,
		AvgCompletionSeconds: acc.avg(),
		LastRefreshedAt:      refreshedAt(acc.LastSourceTS),
	})
	rowsEmittedCount.WithLabelValues("technician_load").Inc()
}

func technicianKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameUTCDay(a, b time.Time) bool {
	return utcDay(a).Equal(b)
}
