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

// Package sinks defines the change rows the engine emits and the upserter
// contract that applies them, last-write-wins per primary key.
package sinks

import (
	"context"
	"fmt"
	"time"
)

// Sink table names, schema-qualified like the backend's DDL.
const (
	DailyMetricsTable   = "analytics.intervention_daily_metrics"
	TechnicianLoadTable = "analytics.intervention_technician_load"
	GeoViewTable        = "analytics.intervention_geo_view"
)

// Row is one emitted change row. Key identifies the primary key so writes
// for the same key can be kept in order while distinct keys proceed
// concurrently.
type Row interface {
	Table() string
	Key() string
}

// DailyMetricsRow is the full upsert row for (metric_date, status).
type DailyMetricsRow struct {
	MetricDate           time.Time
	Status               string
	TotalCount           int64
	AvgCompletionSeconds *float64
	ValidationRatio      *float64
	LastRefreshedAt      time.Time
}

func (r DailyMetricsRow) Table() string { return DailyMetricsTable }

func (r DailyMetricsRow) Key() string {
	return fmt.Sprintf("%s/%s/%s", r.Table(), r.MetricDate.Format("2006-01-02"), r.Status)
}

// TechnicianLoadRow is the full upsert row for a technician.
type TechnicianLoadRow struct {
	TechnicianID         int64
	OpenCount            int64
	CompletedToday       int64
	AvgCompletionSeconds *float64
	LastRefreshedAt      time.Time
}

func (r TechnicianLoadRow) Table() string { return TechnicianLoadTable }

func (r TechnicianLoadRow) Key() string {
	return fmt.Sprintf("%s/%d", r.Table(), r.TechnicianID)
}

// GeoRow is the last-known-position row for an intervention.
type GeoRow struct {
	InterventionID int64
	Latitude       float64
	Longitude      float64
	Status         string
	TechnicianID   *int64
	PlannedAt      *time.Time
	UpdatedAt      time.Time
}

func (r GeoRow) Table() string { return GeoViewTable }

func (r GeoRow) Key() string {
	return fmt.Sprintf("%s/%d", r.Table(), r.InterventionID)
}

// GeoDeleteRow removes an intervention's position row.
type GeoDeleteRow struct {
	InterventionID int64
}

func (r GeoDeleteRow) Table() string { return GeoViewTable }

func (r GeoDeleteRow) Key() string {
	return fmt.Sprintf("%s/%d", r.Table(), r.InterventionID)
}

// Upserter applies emitted rows to the external store. Upsert must be
// idempotent: re-applying an identical row is a no-op, a newer row for the
// same key replaces the prior one.
type Upserter interface {
	Upsert(ctx context.Context, row Row) error
	Close() error
}
