// Package trace records what each pipeline stage did during a run.
//
// A StageTrace is observational only: it never influences which stages run.
// Events carry logical outcomes, not timings, so two runs that make the same
// decisions produce byte-identical traces.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"crusty/internal/fingerprint"
)

// StageTrace is the ordered record of one pipeline run.
type StageTrace struct {
	// RunKey identifies the build data the run was for.
	RunKey string
	Events []Event
}

// EventKind is the stable discriminator for Event. The string values are
// part of the canonical bytes; do not rename.
type EventKind string

const (
	EventStageSkipped   EventKind = "StageSkipped"
	EventStageBuilt     EventKind = "StageBuilt"
	EventStageRecovered EventKind = "StageRecovered"
	EventStageFailed    EventKind = "StageFailed"
)

// Event is one stage outcome.
//
// No timestamps and no error strings: Reason is a stable code such as a
// failure class.
type Event struct {
	Kind  EventKind
	Stage string
	// Artifact is the cache-relative path the stage is gated on.
	Artifact string
	Reason   string
}

// Validate checks that every event names its kind and stage.
func (t *StageTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.RunKey == "" {
		return errors.New("runKey is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Stage == "" {
			return fmt.Errorf("events[%d].stage is required for kind %q", i, e.Kind)
		}
	}
	return nil
}

// Stages returns the stage names that ended with kind, in order.
func (t StageTrace) Stages(kind EventKind) []string {
	var out []string
	for _, e := range t.Events {
		if e.Kind == kind {
			out = append(out, e.Stage)
		}
	}
	return out
}

// CanonicalJSON returns the canonical encoding. Stages run sequentially, so
// event order is already canonical and is kept as recorded.
func (t StageTrace) CanonicalJSON() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(t)
}

// Hash returns the fingerprint of the canonical encoding.
func (t StageTrace) Hash() (fingerprint.Sum, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return fingerprint.New().Field(b).Sum(), nil
}

// MarshalJSON fixes field order.
func (t StageTrace) MarshalJSON() ([]byte, error) {
	if t.RunKey == "" {
		return nil, errors.New("runKey is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"runKey":`)
	rk, _ := json.Marshal(t.RunKey)
	buf.Write(rk)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeField(&buf, "kind", string(e.Kind), true)
	writeField(&buf, "stage", e.Stage, false)
	writeField(&buf, "artifact", e.Artifact, false)
	writeField(&buf, "reason", e.Reason, false)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, name, value string, first bool) {
	if value == "" && !first {
		return
	}
	if !first {
		buf.WriteByte(',')
	}
	buf.WriteByte('"')
	buf.WriteString(name)
	buf.WriteString(`":`)
	vb, _ := json.Marshal(value)
	buf.Write(vb)
}

// UnmarshalJSON accepts the canonical encoding.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind     EventKind `json:"kind"`
		Stage    string    `json:"stage"`
		Artifact string    `json:"artifact"`
		Reason   string    `json:"reason"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event{Kind: raw.Kind, Stage: raw.Stage, Artifact: raw.Artifact, Reason: raw.Reason}
	return nil
}

// UnmarshalJSON accepts the canonical encoding.
func (t *StageTrace) UnmarshalJSON(data []byte) error {
	var raw struct {
		RunKey string  `json:"runKey"`
		Events []Event `json:"events"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.RunKey = raw.RunKey
	t.Events = raw.Events
	return nil
}
