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

// Package cdc defines the typed change event consumed by the aggregation
// pipelines and the classifier that produces it from raw topic payloads.
package cdc

import (
	"fmt"
	"time"
)

// Op is the change-data-capture operation carried by an event.
type Op int

const (
	// OpCreate is a row insert.
	OpCreate Op = iota
	// OpUpdate is a row update. Events without an explicit op tag are
	// classified as updates, which makes replay idempotent downstream.
	OpUpdate
	// OpDelete is a row delete. Delete payloads may be key-only tombstones.
	OpDelete
	// OpSnapshot is an initial snapshot read, applied like an update.
	OpSnapshot
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpSnapshot:
		return "snapshot"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// IsDelete returns true for delete operations.
func (o Op) IsDelete() bool {
	return o == OpDelete
}

// Intervention status values known to the pipelines. Status is free text on
// the wire; unknown values still aggregate, they just never count as open or
// completed.
const (
	StatusScheduled  = "SCHEDULED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusValidated  = "VALIDATED"
)

// IsOpenStatus reports whether the status counts toward a technician's
// open workload.
func IsOpenStatus(status string) bool {
	return status == StatusScheduled || status == StatusInProgress
}

// IsCompletedStatus reports whether the status counts as a finished
// intervention.
func IsCompletedStatus(status string) bool {
	return status == StatusCompleted || status == StatusValidated
}

// InterventionChangeEvent is one parsed change record. Immutable once
// constructed; pipelines never mutate a classified event.
type InterventionChangeEvent struct {
	ID             int64
	Reference      string
	Title          string
	Description    string
	Status         string
	AssignmentMode string
	PlannedAt      *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ValidatedAt    *time.Time
	CreatedAt      *time.Time
	UpdatedAt      *time.Time
	TechnicianID   *int64
	Latitude       *float64
	Longitude      *float64
	Op             Op
	// SourceTS is the authoritative event time, the watermark basis.
	SourceTS time.Time
}

// MetricDate returns the UTC calendar date of PlannedAt, the daily metrics
// grouping key. ok is false when the event has no planned time.
func (e *InterventionChangeEvent) MetricDate() (time.Time, bool) {
	if e.PlannedAt == nil {
		return time.Time{}, false
	}
	y, m, d := e.PlannedAt.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
}

// CompletionSeconds returns the completion duration sample carried by the
// event, when both endpoints are present.
func (e *InterventionChangeEvent) CompletionSeconds() (float64, bool) {
	if e.StartedAt == nil || e.CompletedAt == nil {
		return 0, false
	}
	return e.CompletedAt.Sub(*e.StartedAt).Seconds(), true
}

// HasCoordinates reports whether both latitude and longitude are present.
func (e *InterventionChangeEvent) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}
