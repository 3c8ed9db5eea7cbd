package slots

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sender identifies who produced a history entry.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Turn is one entry in a session's conversation history.
type Turn struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	// AskedFor is set on assistant turns that asked for a slot.
	AskedFor string `json:"asked_for,omitempty"`
}

// SlotValue is the state of one slot in a session.
type SlotValue struct {
	Name    string `json:"name"`
	Type    Type   `json:"type"`
	Raw     string `json:"raw,omitempty"`
	Value   any    `json:"value,omitempty"`
	Present bool   `json:"present"`
}

// UnmarshalJSON restores Value to its Go type; JSON decodes every number as
// float64, which would otherwise turn int slots into floats after a round trip.
func (v *SlotValue) UnmarshalJSON(data []byte) error {
	type plain SlotValue
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Present && p.Value != nil {
		d := Definition{Name: p.Name, Type: p.Type}
		typed, err := d.Coerce(p.Value)
		if err != nil {
			return fmt.Errorf("restore slot %q: %w", p.Name, err)
		}
		p.Value = typed
	}
	*v = SlotValue(p)
	return nil
}

// Int returns the value of an int slot.
func (v SlotValue) Int() (int64, bool) {
	n, ok := v.Value.(int64)
	return n, ok && v.Present
}

// Float returns the value of a float slot.
func (v SlotValue) Float() (float64, bool) {
	f, ok := v.Value.(float64)
	return f, ok && v.Present
}

// Text returns the value of a string slot.
func (v SlotValue) Text() (string, bool) {
	s, ok := v.Value.(string)
	return s, ok && v.Present
}

// Bool returns the value of a bool slot.
func (v SlotValue) Bool() (bool, bool) {
	b, ok := v.Value.(bool)
	return b, ok && v.Present
}

// Session is the durable state of one conversation.
type Session struct {
	ID           string               `json:"id"`
	Slots        map[string]SlotValue `json:"slots"`
	AllCollected bool                 `json:"all_collected"`
	History      []Turn               `json:"history"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// NewSession returns an empty session with every schema slot absent.
func NewSession(id string, schema Schema, now time.Time) *Session {
	s := &Session{
		ID:        id,
		Slots:     make(map[string]SlotValue, schema.Len()),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.clearSlots(schema)
	return s
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Slots = make(map[string]SlotValue, len(s.Slots))
	for k, v := range s.Slots {
		c.Slots[k] = v
	}
	c.History = append([]Turn(nil), s.History...)
	return &c
}

// Present reports whether the named slot currently holds a value.
func (s *Session) Present(name string) bool {
	return s.Slots[name].Present
}

// LastAskedFor returns the slot named by the most recent assistant turn, if
// that turn asked for one.
func (s *Session) LastAskedFor() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Sender == SenderAssistant {
			return s.History[i].AskedFor
		}
	}
	return ""
}

func (s *Session) clearSlots(schema Schema) {
	if s.Slots == nil {
		s.Slots = make(map[string]SlotValue, schema.Len())
	}
	for k := range s.Slots {
		delete(s.Slots, k)
	}
	for _, d := range schema.defs {
		s.Slots[d.Name] = SlotValue{Name: d.Name, Type: d.Type}
	}
	s.AllCollected = false
}

// complete reports whether every required slot is present.
func (s *Session) complete(schema Schema) bool {
	for _, d := range schema.defs {
		if d.Required && !s.Slots[d.Name].Present {
			return false
		}
	}
	return true
}
