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
	"github.com/smartip/intervention-analytics/pkg/state"
)

// rowWriter is the slice of the async sink writer the pipelines need.
type rowWriter interface {
	Write(row sinks.Row)
}

// dailyAccumulator is the per-(metric_date, status) group state.
type dailyAccumulator struct {
	Count        int64
	DurationSum  float64
	DurationN    int64
	LastSourceTS time.Time
}

func (a *dailyAccumulator) add(sample *float64) {
	a.Count++
	if sample != nil {
		a.DurationSum += *sample
		a.DurationN++
	}
}

func (a *dailyAccumulator) retract(sample *float64) {
	a.Count--
	if sample != nil {
		a.DurationSum -= *sample
		a.DurationN--
	}
}

func (a *dailyAccumulator) avg() *float64 {
	if a.DurationN <= 0 {
		return nil
	}
	v := a.DurationSum / float64(a.DurationN)
	return &v
}

func (a *dailyAccumulator) touch(ts time.Time) {
	if ts.After(a.LastSourceTS) {
		a.LastSourceTS = ts
	}
}

// dailyPipeline maintains the per-day per-status rollup. Every mutation
// re-emits the full row for its key; changes to a date's counts also refresh
// that date's VALIDATED row because its validation_ratio joins across all
// statuses of the date.
type dailyPipeline struct {
	accums *state.Store[dailyAccumulator]
	writer rowWriter
}

func newDailyPipeline(accums *state.Store[dailyAccumulator], writer rowWriter) *dailyPipeline {
	return &dailyPipeline{accums: accums, writer: writer}
}

// applyChange retracts the id's prior contribution and applies the event's
// new one. prior is nil when the id has never been seen (or was evicted).
func (p *dailyPipeline) applyChange(ev *cdc.InterventionChangeEvent, prior *lastContribution) {
	var sample *float64
	if secs, ok := ev.CompletionSeconds(); ok {
		sample = &secs
	}

	newDate, hasNew := ev.MetricDate()
	priorDate, priorKey, hasPrior := priorDailyKey(prior)

	if hasPrior && hasNew && priorKey == dateStatusKey(newDate, ev.Status) {
		// Same group: swap the contribution in place, one emission.
		p.accums.Update(priorKey, func(acc dailyAccumulator, _ bool) (dailyAccumulator, bool) {
			acc.retract(prior.Completion)
			acc.add(sample)
			acc.touch(ev.SourceTS)
			p.emit(newDate, ev.Status, acc)
			return acc, true
		})
		p.refreshValidated(newDate, ev.Status)
		return
	}

	if hasPrior {
		p.accums.Update(priorKey, func(acc dailyAccumulator, _ bool) (dailyAccumulator, bool) {
			acc.retract(prior.Completion)
			acc.touch(ev.SourceTS)
			p.emit(priorDate, prior.Status, acc)
			return acc, true
		})
		p.refreshValidated(priorDate, prior.Status)
	}
	if hasNew {
		p.accums.Update(dateStatusKey(newDate, ev.Status), func(acc dailyAccumulator, _ bool) (dailyAccumulator, bool) {
			acc.add(sample)
			acc.touch(ev.SourceTS)
			p.emit(newDate, ev.Status, acc)
			return acc, true
		})
		p.refreshValidated(newDate, ev.Status)
	}
}

// retract removes the id's contribution entirely, for deletes.
func (p *dailyPipeline) retract(prior *lastContribution, sourceTS time.Time) {
	priorDate, priorKey, ok := priorDailyKey(prior)
	if !ok {
		return
	}
	p.accums.Update(priorKey, func(acc dailyAccumulator, _ bool) (dailyAccumulator, bool) {
		acc.retract(prior.Completion)
		acc.touch(sourceTS)
		p.emit(priorDate, prior.Status, acc)
		return acc, true
	})
	p.refreshValidated(priorDate, prior.Status)
}

// refreshValidated re-emits the date's VALIDATED row so its cross-status
// validation_ratio reflects the mutation that just happened. Skipped when
// the mutated row was the VALIDATED one, which was emitted with a fresh
// ratio already.
func (p *dailyPipeline) refreshValidated(date time.Time, mutatedStatus string) {
	if mutatedStatus == cdc.StatusValidated {
		return
	}
	p.accums.Update(dateStatusKey(date, cdc.StatusValidated), func(acc dailyAccumulator, ok bool) (dailyAccumulator, bool) {
		if !ok {
			return acc, false
		}
		p.emit(date, cdc.StatusValidated, acc)
		return acc, true
	})
}

// emit writes the full upsert row for a group. Must be called while holding
// the group's key lock so per-key sink ordering follows state ordering.
func (p *dailyPipeline) emit(date time.Time, status string, acc dailyAccumulator) {
	row := sinks.DailyMetricsRow{
		MetricDate:           date,
		Status:               status,
		TotalCount:           acc.Count,
		AvgCompletionSeconds: acc.avg(),
		LastRefreshedAt:      refreshedAt(acc.LastSourceTS),
	}
	if status == cdc.StatusValidated {
		row.ValidationRatio = p.ratioFor(date, acc)
	}
	p.writer.Write(row)
	rowsEmittedCount.WithLabelValues("daily_metrics").Inc()
}

// ratioFor computes validated_total*100/completed_total for the date, nil
// when nothing completed. validated is the in-flight VALIDATED accumulator,
// passed explicitly because it may not be stored yet.
func (p *dailyPipeline) ratioFor(date time.Time, validated dailyAccumulator) *float64 {
	completed, _ := p.accums.Get(dateStatusKey(date, cdc.StatusCompleted))
	completedTotal := completed.Count + validated.Count
	if completedTotal <= 0 {
		return nil
	}
	r := float64(validated.Count) * 100 / float64(completedTotal)
	return &r
}

func priorDailyKey(prior *lastContribution) (time.Time, string, bool) {
	if prior == nil || prior.MetricDate == nil {
		return time.Time{}, "", false
	}
	return *prior.MetricDate, dateStatusKey(*prior.MetricDate, prior.Status), true
}

func dateStatusKey(date time.Time, status string) string {
	return date.Format("2006-01-02") + "|" + status
}

// refreshedAt falls back to processing time when no source time has been
// observed for the group.
func refreshedAt(sourceTS time.Time) time.Time {
	if sourceTS.IsZero() {
		return time.Now().UTC()
	}
	return sourceTS
}
