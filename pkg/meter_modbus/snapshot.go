package meter_modbus

import (
	"bytes"
	"encoding/json"
	"time"
)

// Reading is the outcome of one measurement read: a value, or an absence
// with its reason in Err.
type Reading struct {
	Name  string
	Value Value
	Err   error
}

func (r Reading) Present() bool {
	return r.Err == nil
}

func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Present() {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// Snapshot holds one reading per declared measurement, in declared order.
type Snapshot struct {
	Time     time.Time
	Readings []Reading
}

func AbsentSnapshot(names []string, reason error, at time.Time) Snapshot {
	snap := Snapshot{Time: at, Readings: make([]Reading, 0, len(names))}
	for _, name := range names {
		snap.Readings = append(snap.Readings, Reading{Name: name, Err: reason})
	}
	return snap
}

func (s Snapshot) Len() int {
	return len(s.Readings)
}

// PresentCount is the number of readings holding a value.
func (s Snapshot) PresentCount() int {
	n := 0
	for _, r := range s.Readings {
		if r.Present() {
			n++
		}
	}
	return n
}

func (s Snapshot) Get(name string) (Reading, bool) {
	for _, r := range s.Readings {
		if r.Name == name {
			return r, true
		}
	}
	return Reading{}, false
}

// Float returns the numeric value of a present reading.
func (s Snapshot) Float(name string) (float64, bool) {
	r, ok := s.Get(name)
	if !ok || !r.Present() {
		return 0, false
	}
	return r.Value.Float()
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	values, err := orderedReadings(s.Readings)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Time   time.Time       `json:"time"`
		Values json.RawMessage `json:"values"`
	}{
		Time:   s.Time,
		Values: values,
	})
}

func orderedReadings(readings []Reading) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range readings {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(r.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ScanRow pairs a measurement descriptor with its last reading.
type ScanRow struct {
	MeasurementMetadata
	Reading Reading
}

func (r ScanRow) MarshalJSON() ([]byte, error) {
	var errText string
	if r.Reading.Err != nil {
		errText = r.Reading.Err.Error()
	}
	return json.Marshal(struct {
		MeasurementMetadata
		Value Reading `json:"value"`
		Error string  `json:"error,omitempty"`
	}{
		MeasurementMetadata: r.MeasurementMetadata,
		Value:               r.Reading,
		Error:               errText,
	})
}
