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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartip/intervention-analytics/pkg/cdc"
	"github.com/smartip/intervention-analytics/pkg/sinks"
)

// collectingWriter records emitted rows synchronously for assertions.
type collectingWriter struct {
	mu   sync.Mutex
	rows []sinks.Row
}

func (c *collectingWriter) Write(row sinks.Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, row)
}

// lastDaily returns the most recent daily row for (date, status).
func (c *collectingWriter) lastDaily(date time.Time, status string) (sinks.DailyMetricsRow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.rows) - 1; i >= 0; i-- {
		if r, ok := c.rows[i].(sinks.DailyMetricsRow); ok && r.MetricDate.Equal(date) && r.Status == status {
			return r, true
		}
	}
	return sinks.DailyMetricsRow{}, false
}

// lastTechnician returns the most recent technician row for the id.
func (c *collectingWriter) lastTechnician(id int64) (sinks.TechnicianLoadRow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.rows) - 1; i >= 0; i-- {
		if r, ok := c.rows[i].(sinks.TechnicianLoadRow); ok && r.TechnicianID == id {
			return r, true
		}
	}
	return sinks.TechnicianLoadRow{}, false
}

// lastGeo returns the most recent geo row (upsert or delete) for the id.
func (c *collectingWriter) lastGeo(id int64) (sinks.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.rows) - 1; i >= 0; i-- {
		switch r := c.rows[i].(type) {
		case sinks.GeoRow:
			if r.InterventionID == id {
				return r, true
			}
		case sinks.GeoDeleteRow:
			if r.InterventionID == id {
				return r, true
			}
		}
	}
	return nil, false
}

func (c *collectingWriter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}

var (
	day1    = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day2    = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	planned = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	started = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	done    = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
)

func newTestApplier(t *testing.T) (*applier, *collectingWriter) {
	t.Helper()
	w := &collectingWriter{}
	return newApplier(context.Background(), w, time.Hour), w
}

func event(id int64, status string, sourceTS time.Time, mods ...func(*cdc.InterventionChangeEvent)) *cdc.InterventionChangeEvent {
	ev := &cdc.InterventionChangeEvent{
		ID:       id,
		Status:   status,
		Op:       cdc.OpUpdate,
		SourceTS: sourceTS,
	}
	for _, m := range mods {
		m(ev)
	}
	return ev
}

func withPlanned(t time.Time) func(*cdc.InterventionChangeEvent) {
	return func(ev *cdc.InterventionChangeEvent) { ev.PlannedAt = &t }
}

func withTechnician(id int64) func(*cdc.InterventionChangeEvent) {
	return func(ev *cdc.InterventionChangeEvent) { ev.TechnicianID = &id }
}

func withCompletion(start, end time.Time) func(*cdc.InterventionChangeEvent) {
	return func(ev *cdc.InterventionChangeEvent) {
		ev.StartedAt = &start
		ev.CompletedAt = &end
	}
}

func withCoordinates(lat, lon float64) func(*cdc.InterventionChangeEvent) {
	return func(ev *cdc.InterventionChangeEvent) {
		ev.Latitude = &lat
		ev.Longitude = &lon
	}
}

func withOp(op cdc.Op) func(*cdc.InterventionChangeEvent) {
	return func(ev *cdc.InterventionChangeEvent) { ev.Op = op }
}

func TestApplier_StatusTransitionRetractsPriorContribution(t *testing.T) {
	a, w := newTestApplier(t)
	ts := planned.Add(time.Minute)

	a.apply(event(1, cdc.StatusScheduled, ts, withPlanned(planned), withTechnician(7)))

	row, ok := w.lastDaily(day1, cdc.StatusScheduled)
	require.True(t, ok)
	assert.Equal(t, int64(1), row.TotalCount)
	tech, ok := w.lastTechnician(7)
	require.True(t, ok)
	assert.Equal(t, int64(1), tech.OpenCount)

	a.apply(event(1, cdc.StatusCompleted, ts.Add(time.Minute),
		withPlanned(planned), withTechnician(7), withCompletion(started, done)))

	// the SCHEDULED count reverts to zero, COMPLETED picks the event up
	row, ok = w.lastDaily(day1, cdc.StatusScheduled)
	require.True(t, ok)
	assert.Equal(t, int64(0), row.TotalCount)
	row, ok = w.lastDaily(day1, cdc.StatusCompleted)
	require.True(t, ok)
	assert.Equal(t, int64(1), row.TotalCount)
	require.NotNil(t, row.AvgCompletionSeconds)
	assert.Equal(t, float64(5400), *row.AvgCompletionSeconds)

	tech, ok = w.lastTechnician(7)
	require.True(t, ok)
	assert.Equal(t, int64(0), tech.OpenCount)
	require.NotNil(t, tech.AvgCompletionSeconds)
	assert.Equal(t, float64(5400), *tech.AvgCompletionSeconds)
}

func TestApplier_DeleteRemovesEveryContribution(t *testing.T) {
	a, w := newTestApplier(t)
	ts := planned.Add(time.Minute)

	a.apply(event(1, cdc.StatusScheduled, ts,
		withPlanned(planned), withTechnician(7), withCoordinates(48.85, 2.35)))
	a.apply(event(1, "", ts.Add(time.Second), withOp(cdc.OpDelete)))

	row, ok := w.lastDaily(day1, cdc.StatusScheduled)
	require.True(t, ok)
	assert.Equal(t, int64(0), row.TotalCount)
	tech, ok := w.lastTechnician(7)
	require.True(t, ok)
	assert.Equal(t, int64(0), tech.OpenCount)
	geo, ok := w.lastGeo(1)
	require.True(t, ok)
	assert.IsType(t, sinks.GeoDeleteRow{}, geo)

	// re-deleting an already-deleted id is a no-op
	before := w.count()
	a.apply(event(1, "", ts.Add(2*time.Second), withOp(cdc.OpDelete)))
	assert.Equal(t, before, w.count())
}

func TestApplier_ValidationRatio(t *testing.T) {
	a, w := newTestApplier(t)
	ts := planned.Add(time.Minute)

	// a validated intervention alone: ratio 100
	a.apply(event(1, cdc.StatusValidated, ts, withPlanned(planned)))
	row, ok := w.lastDaily(day1, cdc.StatusValidated)
	require.True(t, ok)
	require.NotNil(t, row.ValidationRatio)
	assert.Equal(t, float64(100), *row.ValidationRatio)

	// add a completed one: 1 validated out of 2 completed-or-validated
	a.apply(event(2, cdc.StatusCompleted, ts.Add(time.Second), withPlanned(planned)))
	row, ok = w.lastDaily(day1, cdc.StatusValidated)
	require.True(t, ok)
	require.NotNil(t, row.ValidationRatio)
	assert.Equal(t, float64(50), *row.ValidationRatio)

	// scheduled rows never carry a ratio
	a.apply(event(3, cdc.StatusScheduled, ts.Add(2*time.Second), withPlanned(planned)))
	row, ok = w.lastDaily(day1, cdc.StatusScheduled)
	require.True(t, ok)
	assert.Nil(t, row.ValidationRatio)

	// retract the validated one: completed_total > 0 but validated_total = 0
	a.apply(event(1, "", ts.Add(3*time.Second), withOp(cdc.OpDelete)))
	row, ok = w.lastDaily(day1, cdc.StatusValidated)
	require.True(t, ok)
	assert.Equal(t, int64(0), row.TotalCount)
	require.NotNil(t, row.ValidationRatio)
	assert.Equal(t, float64(0), *row.ValidationRatio)
}

func TestApplier_ValidationRatioNilWithoutCompletions(t *testing.T) {
	a, w := newTestApplier(t)
	a.apply(event(1, cdc.StatusScheduled, planned, withPlanned(planned)))
	row, ok := w.lastDaily(day1, cdc.StatusScheduled)
	require.True(t, ok)
	assert.Nil(t, row.ValidationRatio)
	_, ok = w.lastDaily(day1, cdc.StatusValidated)
	assert.False(t, ok, "no VALIDATED row should exist yet")
}

func TestApplier_OpenCountTracksLiveState(t *testing.T) {
	a, w := newTestApplier(t)
	ts := planned

	a.apply(event(1, cdc.StatusScheduled, ts, withTechnician(7)))
	a.apply(event(2, cdc.StatusInProgress, ts.Add(time.Second), withTechnician(7)))
	a.apply(event(3, cdc.StatusScheduled, ts.Add(2*time.Second), withTechnician(7)))
	tech, _ := w.lastTechnician(7)
	assert.Equal(t, int64(3), tech.OpenCount)

	// replaying the same state change must not double count
	a.apply(event(2, cdc.StatusInProgress, ts.Add(3*time.Second), withTechnician(7)))
	tech, _ = w.lastTechnician(7)
	assert.Equal(t, int64(3), tech.OpenCount)

	// reassignment moves the open intervention between technicians
	a.apply(event(3, cdc.StatusScheduled, ts.Add(4*time.Second), withTechnician(9)))
	tech, _ = w.lastTechnician(7)
	assert.Equal(t, int64(2), tech.OpenCount)
	tech, _ = w.lastTechnician(9)
	assert.Equal(t, int64(1), tech.OpenCount)

	a.apply(event(1, cdc.StatusCompleted, ts.Add(5*time.Second), withTechnician(7)))
	tech, _ = w.lastTechnician(7)
	assert.Equal(t, int64(1), tech.OpenCount)
}

func TestApplier_CompletedTodayResetsOnDayRollover(t *testing.T) {
	a, w := newTestApplier(t)
	doneDay1 := time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)

	a.apply(event(1, cdc.StatusCompleted, doneDay1.Add(time.Minute),
		withTechnician(7), withCompletion(started, doneDay1)))
	tech, _ := w.lastTechnician(7)
	assert.Equal(t, int64(1), tech.CompletedToday)

	// first event of the next day resets the counter before applying
	doneDay2 := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	a.apply(event(2, cdc.StatusCompleted, doneDay2.Add(time.Minute),
		withTechnician(7), withCompletion(doneDay2.Add(-time.Hour), doneDay2)))
	tech, _ = w.lastTechnician(7)
	assert.Equal(t, int64(1), tech.CompletedToday, "yesterday's completion must not carry over")
}

func TestApplier_GeoIgnoresEventsWithoutCoordinates(t *testing.T) {
	a, w := newTestApplier(t)

	lat := 48.85
	a.apply(event(1, cdc.StatusScheduled, planned, withPlanned(planned), withTechnician(7),
		func(ev *cdc.InterventionChangeEvent) { ev.Latitude = &lat })) // longitude missing

	_, ok := w.lastGeo(1)
	assert.False(t, ok, "geo pipeline must skip events without both coordinates")
	// the other pipelines still see the event
	row, ok := w.lastDaily(day1, cdc.StatusScheduled)
	require.True(t, ok)
	assert.Equal(t, int64(1), row.TotalCount)
	tech, ok := w.lastTechnician(7)
	require.True(t, ok)
	assert.Equal(t, int64(1), tech.OpenCount)
}

func TestApplier_GeoOutOfOrderKeepsNewestSourceTime(t *testing.T) {
	a, w := newTestApplier(t)
	t1 := planned.Add(10 * time.Second)
	t2 := planned.Add(5 * time.Second) // older than t1

	a.apply(event(1, cdc.StatusInProgress, t1, withCoordinates(48.85, 2.35)))
	a.apply(event(1, cdc.StatusInProgress, t2, withCoordinates(40.0, 3.0)))

	geo, ok := w.lastGeo(1)
	require.True(t, ok)
	row, ok := geo.(sinks.GeoRow)
	require.True(t, ok)
	assert.Equal(t, 48.85, row.Latitude, "the straggler must not clobber the newer position")
}

func TestApplier_UpdateForUnknownIDAppliesAsFreshInsert(t *testing.T) {
	a, w := newTestApplier(t)
	a.apply(event(99, cdc.StatusInProgress, planned, withPlanned(planned), withTechnician(7)))
	row, ok := w.lastDaily(day1, cdc.StatusInProgress)
	require.True(t, ok)
	assert.Equal(t, int64(1), row.TotalCount)
}

func TestApplier_ReplayMatchesRecomputationFromScratch(t *testing.T) {
	events := []*cdc.InterventionChangeEvent{
		event(1, cdc.StatusScheduled, planned, withPlanned(planned), withTechnician(7)),
		event(2, cdc.StatusScheduled, planned.Add(time.Second), withPlanned(planned), withTechnician(7)),
		event(1, cdc.StatusInProgress, planned.Add(2*time.Second), withPlanned(planned), withTechnician(7)),
		event(1, cdc.StatusCompleted, planned.Add(3*time.Second), withPlanned(planned), withTechnician(7), withCompletion(started, done)),
		event(2, "", planned.Add(4*time.Second), withOp(cdc.OpDelete)),
		event(3, cdc.StatusValidated, planned.Add(5*time.Second), withPlanned(planned), withTechnician(8)),
	}

	a, w := newTestApplier(t)
	for _, ev := range events {
		a.apply(ev)
	}
	b, w2 := newTestApplier(t)
	for _, ev := range events {
		b.apply(ev)
	}

	for _, status := range []string{cdc.StatusScheduled, cdc.StatusInProgress, cdc.StatusCompleted, cdc.StatusValidated} {
		r1, ok1 := w.lastDaily(day1, status)
		r2, ok2 := w2.lastDaily(day1, status)
		require.Equal(t, ok1, ok2)
		if ok1 {
			assert.Equal(t, r1, r2, "status %s must recompute identically", status)
		}
	}
	for _, techID := range []int64{7, 8} {
		r1, ok1 := w.lastTechnician(techID)
		r2, ok2 := w2.lastTechnician(techID)
		require.Equal(t, ok1, ok2)
		assert.Equal(t, r1, r2)
	}
}

func TestApplier_DateChangeMovesContribution(t *testing.T) {
	a, w := newTestApplier(t)
	plannedDay2 := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	a.apply(event(1, cdc.StatusScheduled, planned, withPlanned(planned)))
	a.apply(event(1, cdc.StatusScheduled, planned.Add(time.Second), withPlanned(plannedDay2)))

	row, ok := w.lastDaily(day1, cdc.StatusScheduled)
	require.True(t, ok)
	assert.Equal(t, int64(0), row.TotalCount)
	row, ok = w.lastDaily(day2, cdc.StatusScheduled)
	require.True(t, ok)
	assert.Equal(t, int64(1), row.TotalCount)
}
