package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// StateUpdate represents a sensor or actuator state reported by the field
type StateUpdate struct {
	ID        string    `json:"id"`
	Value     string    `json:"val"`
	Timestamp time.Time `json:"ts"`
	Source    string    `json:"-"`
}

// UnmarshalJSON accepts "val" as a string, number or boolean and "ts" as
// RFC 3339 text or epoch milliseconds.
func (u *StateUpdate) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    string          `json:"id"`
		Value json.RawMessage `json:"val"`
		TS    json.RawMessage `json:"ts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return fmt.Errorf("state update without id")
	}
	u.ID = raw.ID

	val := bytes.TrimSpace(raw.Value)
	switch {
	case len(val) == 0 || bytes.Equal(val, []byte("null")):
		return fmt.Errorf("state update %s without value", raw.ID)
	case val[0] == '"':
		if err := json.Unmarshal(val, &u.Value); err != nil {
			return err
		}
	default:
		u.Value = string(val)
	}

	ts := bytes.TrimSpace(raw.TS)
	switch {
	case len(ts) == 0 || bytes.Equal(ts, []byte("null")):
		u.Timestamp = time.Time{}
	case ts[0] == '"':
		if err := json.Unmarshal(ts, &u.Timestamp); err != nil {
			return err
		}
	default:
		ms, err := strconv.ParseInt(string(ts), 10, 64)
		if err != nil {
			return fmt.Errorf("state update %s: timestamp: %w", raw.ID, err)
		}
		u.Timestamp = time.UnixMilli(ms)
	}
	return nil
}

// StateWrite is a value the control cycle wants persisted in the state store
type StateWrite struct {
	ID    string
	Value string
	// Actuator marks writes that have a physical effect (valve positions, circuit setpoints)
	Actuator bool
}

// TelemetryPoint is a single record for the telemetry sink
type TelemetryPoint struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Timestamp   time.Time
}
