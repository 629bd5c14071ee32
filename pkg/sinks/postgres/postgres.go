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

// Package postgres applies emitted rows to the analytics tables with
// idempotent INSERT ... ON CONFLICT upserts.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/smartip/intervention-analytics/pkg/shared/logging"
	"github.com/smartip/intervention-analytics/pkg/sinks"
)

const (
	upsertDailyMetricsSQL = `INSERT INTO analytics.intervention_daily_metrics
	(metric_date, status, total_count, avg_completion_seconds, validation_ratio, last_refreshed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (metric_date, status) DO UPDATE SET
	total_count = EXCLUDED.total_count,
	avg_completion_seconds = EXCLUDED.avg_completion_seconds,
	validation_ratio = EXCLUDED.validation_ratio,
	last_refreshed_at = EXCLUDED.last_refreshed_at`

	upsertTechnicianLoadSQL = `INSERT INTO analytics.intervention_technician_load
	(technician_id, open_count, completed_today, avg_completion_seconds, last_refreshed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (technician_id) DO UPDATE SET
	open_count = EXCLUDED.open_count,
	completed_today = EXCLUDED.completed_today,
	avg_completion_seconds = EXCLUDED.avg_completion_seconds,
	last_refreshed_at = EXCLUDED.last_refreshed_at`

	upsertGeoSQL = `INSERT INTO analytics.intervention_geo_view
	(intervention_id, latitude, longitude, status, technician_id, planned_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (intervention_id) DO UPDATE SET
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	status = EXCLUDED.status,
	technician_id = EXCLUDED.technician_id,
	planned_at = EXCLUDED.planned_at,
	updated_at = EXCLUDED.updated_at`

	deleteGeoSQL = `DELETE FROM analytics.intervention_geo_view WHERE intervention_id = $1`
)

// execer is the slice of pgxpool.Pool the upserter needs; tests substitute a
// fake.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Upserter writes rows to Postgres, retrying transient failures with a
// bounded exponential backoff. After the retries are exhausted the error is
// returned to the caller, which drops the single row and moves on.
type Upserter struct {
	db      execer
	pool    *pgxpool.Pool
	backoff wait.Backoff
	log     *zap.SugaredLogger
}

// Option customizes an Upserter.
type Option func(*Upserter)

// WithBackoff overrides the retry policy.
func WithBackoff(b wait.Backoff) Option {
	return func(u *Upserter) {
		u.backoff = b
	}
}

// NewUpserter connects a pgx pool to the given DSN.
func NewUpserter(ctx context.Context, dsn string, opts ...Option) (*Upserter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool, %w", err)
	}
	u := newUpserter(ctx, pool, opts...)
	u.pool = pool
	return u, nil
}

func newUpserter(ctx context.Context, db execer, opts ...Option) *Upserter {
	u := &Upserter{
		db: db,
		backoff: wait.Backoff{
			Duration: 100 * time.Millisecond,
			Factor:   2,
			Jitter:   0.1,
			Steps:    5,
		},
		log: logging.FromContext(ctx).With("component", "postgres-upserter"),
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Upsert applies one row. Re-applying an identical row is a no-op at the
// table level; a newer row for the same key replaces the prior one.
func (u *Upserter) Upsert(ctx context.Context, row sinks.Row) error {
	sql, args, err := statementFor(row)
	if err != nil {
		return err
	}

	attempt := 0
	var lastErr error
	err = wait.ExponentialBackoff(u.backoff, func() (bool, error) {
		attempt++
		if _, lastErr = u.db.Exec(ctx, sql, args...); lastErr == nil {
			return true, nil
		}
		sinkRetryCount.WithLabelValues(row.Table()).Inc()
		u.log.Warnw("Sink write failed, retrying",
			zap.String("table", row.Table()), zap.String("key", row.Key()),
			zap.Int("attempt", attempt), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
			return false, nil
		}
	})
	if err != nil {
		return fmt.Errorf("sink write for key %s failed after %d attempts, %w", row.Key(), attempt, lastErr)
	}
	return nil
}

// Close releases the pool.
func (u *Upserter) Close() error {
	if u.pool != nil {
		u.pool.Close()
	}
	return nil
}

func statementFor(row sinks.Row) (string, []any, error) {
	switch r := row.(type) {
	case sinks.DailyMetricsRow:
		return upsertDailyMetricsSQL, []any{
			r.MetricDate, r.Status, r.TotalCount, r.AvgCompletionSeconds, r.ValidationRatio, r.LastRefreshedAt,
		}, nil
	case sinks.TechnicianLoadRow:
		return upsertTechnicianLoadSQL, []any{
			r.TechnicianID, r.OpenCount, r.CompletedToday, r.AvgCompletionSeconds, r.LastRefreshedAt,
		}, nil
	case sinks.GeoRow:
		return upsertGeoSQL, []any{
			r.InterventionID, r.Latitude, r.Longitude, r.Status, r.TechnicianID, r.PlannedAt, r.UpdatedAt,
		}, nil
	case sinks.GeoDeleteRow:
		return deleteGeoSQL, []any{r.InterventionID}, nil
	default:
		return "", nil, fmt.Errorf("unknown row type %T", row)
	}
}
