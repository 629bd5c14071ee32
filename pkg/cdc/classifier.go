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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedEvent marks payloads that cannot be classified. Callers skip
// and count these, they never stop the stream.
var ErrMalformedEvent = errors.New("malformed change event")

// flexTime decodes the topic's timestamp wire forms: RFC3339 strings or
// epoch milliseconds (the connector emits TIMESTAMP_LTZ(3) as millis).
type flexTime struct {
	t  time.Time
	ok bool
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("unparseable timestamp %q, %w", s, err)
		}
		f.t, f.ok = t, true
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	f.t, f.ok = time.UnixMilli(ms).UTC(), true
	return nil
}

func (f *flexTime) ptr() *time.Time {
	if !f.ok {
		return nil
	}
	t := f.t
	return &t
}

// rawEvent mirrors the topic's JSON value fields. All value fields are
// optional except id.
type rawEvent struct {
	ID             *int64   `json:"id"`
	Reference      string   `json:"reference"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Status         string   `json:"status"`
	AssignmentMode string   `json:"assignment_mode"`
	PlannedAt      flexTime `json:"planned_at"`
	StartedAt      flexTime `json:"started_at"`
	CompletedAt    flexTime `json:"completed_at"`
	ValidatedAt    flexTime `json:"validated_at"`
	CreatedAt      flexTime `json:"created_at"`
	UpdatedAt      flexTime `json:"updated_at"`
	TechnicianID   *int64   `json:"technician_id"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	Op             string   `json:"op"`
	SourceTS       flexTime `json:"source_ts_ms"`
}

// Classify parses a raw payload into a typed event. It returns an error
// wrapping ErrMalformedEvent when the payload cannot carry its weight: not
// JSON, no id, or no usable source timestamp.
func Classify(payload []byte) (*InterventionChangeEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		malformedEventCount.Inc()
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw.ID == nil {
		malformedEventCount.Inc()
		return nil, fmt.Errorf("%w: missing id", ErrMalformedEvent)
	}

	op, err := classifyOp(raw.Op)
	if err != nil {
		malformedEventCount.Inc()
		return nil, err
	}

	// The watermark needs an event time. Fall back through the audit
	// columns before giving up.
	sourceTS := raw.SourceTS
	if !sourceTS.ok {
		sourceTS = raw.UpdatedAt
	}
	if !sourceTS.ok {
		sourceTS = raw.CreatedAt
	}
	if !sourceTS.ok {
		malformedEventCount.Inc()
		return nil, fmt.Errorf("%w: no source timestamp for id %d", ErrMalformedEvent, *raw.ID)
	}

	ev := &InterventionChangeEvent{
		ID:             *raw.ID,
		Reference:      raw.Reference,
		Title:          raw.Title,
		Description:    raw.Description,
		Status:         raw.Status,
		AssignmentMode: raw.AssignmentMode,
		PlannedAt:      raw.PlannedAt.ptr(),
		StartedAt:      raw.StartedAt.ptr(),
		CompletedAt:    raw.CompletedAt.ptr(),
		ValidatedAt:    raw.ValidatedAt.ptr(),
		CreatedAt:      raw.CreatedAt.ptr(),
		UpdatedAt:      raw.UpdatedAt.ptr(),
		TechnicianID:   raw.TechnicianID,
		Latitude:       raw.Latitude,
		Longitude:      raw.Longitude,
		Op:             op,
		SourceTS:       sourceTS.t,
	}
	classifiedEventCount.WithLabelValues(op.String()).Inc()
	return ev, nil
}

// classifyOp accepts both Debezium short codes and spelled-out operation
// names. An absent op is an upsert.
func classifyOp(op string) (Op, error) {
	switch strings.ToLower(op) {
	case "", "u", "update":
		return OpUpdate, nil
	case "c", "create", "insert":
		return OpCreate, nil
	case "d", "delete":
		return OpDelete, nil
	case "r", "read", "snapshot":
		return OpSnapshot, nil
	default:
		return 0, fmt.Errorf("%w: unknown op %q", ErrMalformedEvent, op)
	}
}
