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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_FullPayload(t *testing.T) {
	payload := []byte(`{
		"id": 42,
		"reference": "INT-0042",
		"title": "Replace meter",
		"status": "IN_PROGRESS",
		"assignment_mode": "SMART",
		"planned_at": "2024-01-01T10:00:00Z",
		"started_at": "2024-01-01T10:05:00Z",
		"technician_id": 7,
		"latitude": 48.8566,
		"longitude": 2.3522,
		"op": "u",
		"source_ts_ms": 1704103500000
	}`)
	ev, err := Classify(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ev.ID)
	assert.Equal(t, OpUpdate, ev.Op)
	assert.Equal(t, "IN_PROGRESS", ev.Status)
	require.NotNil(t, ev.TechnicianID)
	assert.Equal(t, int64(7), *ev.TechnicianID)
	assert.True(t, ev.HasCoordinates())
	assert.Equal(t, time.UnixMilli(1704103500000).UTC(), ev.SourceTS)
	d, ok := ev.MetricDate()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), d)
}

func TestClassify_OpForms(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		expected Op
	}{
		{name: "AbsentIsUpdate", op: "", expected: OpUpdate},
		{name: "ShortCreate", op: "c", expected: OpCreate},
		{name: "LongDelete", op: "DELETE", expected: OpDelete},
		{name: "SnapshotRead", op: "r", expected: OpSnapshot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Classify([]byte(`{"id": 1, "op": "` + tt.op + `", "source_ts_ms": 1704103500000}`))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ev.Op)
		})
	}
}

func TestClassify_TombstoneDeleteNeedsOnlyID(t *testing.T) {
	ev, err := Classify([]byte(`{"id": 9, "op": "d", "source_ts_ms": 1704103500000}`))
	require.NoError(t, err)
	assert.True(t, ev.Op.IsDelete())
	assert.Nil(t, ev.TechnicianID)
	assert.Nil(t, ev.PlannedAt)
}

func TestClassify_SourceTimestampFallback(t *testing.T) {
	ev, err := Classify([]byte(`{"id": 3, "updated_at": "2024-01-02T08:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), ev.SourceTS)

	ev, err = Classify([]byte(`{"id": 3, "created_at": 1704103500000}`))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1704103500000).UTC(), ev.SourceTS)
}

func TestClassify_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "NotJSON", payload: `{{{`},
		{name: "MissingID", payload: `{"status": "SCHEDULED", "source_ts_ms": 1704103500000}`},
		{name: "NoTimestampAtAll", payload: `{"id": 5}`},
		{name: "UnknownOp", payload: `{"id": 5, "op": "x", "source_ts_ms": 1704103500000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify([]byte(tt.payload))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestClassify_NullFieldsMapToNil(t *testing.T) {
	ev, err := Classify([]byte(`{"id": 6, "technician_id": null, "latitude": null, "planned_at": null, "source_ts_ms": 1704103500000}`))
	require.NoError(t, err)
	assert.Nil(t, ev.TechnicianID)
	assert.Nil(t, ev.Latitude)
	assert.False(t, ev.HasCoordinates())
	_, ok := ev.MetricDate()
	assert.False(t, ok)
}

func TestCompletionSeconds(t *testing.T) {
	started := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	completed := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	ev := &InterventionChangeEvent{StartedAt: &started, CompletedAt: &completed}
	secs, ok := ev.CompletionSeconds()
	require.True(t, ok)
	assert.Equal(t, float64(5400), secs)

	ev = &InterventionChangeEvent{StartedAt: &started}
	_, ok = ev.CompletionSeconds()
	assert.False(t, ok)
}
