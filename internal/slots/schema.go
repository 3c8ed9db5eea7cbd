// Package slots implements multi-turn parameter collection for chat sessions:
// a fixed slot schema, per-session slot state, and the engine that merges
// extracted values and decides what the assistant says next.
package slots

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type is the declared type of a slot value.
type Type string

const (
	TypeString Type = "string"
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeBool   Type = "bool"
)

// Valid reports whether t is one of the supported slot types.
func (t Type) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool:
		return true
	}
	return false
}

// Definition declares a single slot.
type Definition struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Required bool   `json:"required"`
	// Label is the human readable name used in suggestions.
	Label string `json:"label,omitempty"`
	// Question is what the assistant asks when the slot is missing.
	Question string `json:"question,omitempty"`
	// Description is passed to extractors to disambiguate the slot.
	Description string `json:"description,omitempty"`
}

// DisplayName returns the label, falling back to the slot name.
func (d Definition) DisplayName() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Name
}

// Prompt returns the question for the slot, with a generic fallback.
func (d Definition) Prompt() string {
	if d.Question != "" {
		return d.Question
	}
	return fmt.Sprintf("Could you tell me the %s?", strings.ToLower(d.DisplayName()))
}

// Schema is an ordered, immutable set of slot definitions.
type Schema struct {
	defs  []Definition
	index map[string]int
}

// NewSchema validates defs and builds a schema. Declaration order is kept and
// is the order in which missing slots are asked for.
func NewSchema(defs ...Definition) (Schema, error) {
	if len(defs) == 0 {
		return Schema{}, fmt.Errorf("schema must declare at least one slot")
	}
	s := Schema{
		defs:  make([]Definition, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		if strings.TrimSpace(d.Name) == "" {
			return Schema{}, fmt.Errorf("slot %d has an empty name", i)
		}
		if !d.Type.Valid() {
			return Schema{}, fmt.Errorf("slot %q has unsupported type %q", d.Name, d.Type)
		}
		if _, dup := s.index[d.Name]; dup {
			return Schema{}, fmt.Errorf("slot %q declared twice", d.Name)
		}
		s.defs[i] = d
		s.index[d.Name] = i
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on an invalid declaration.
func MustSchema(defs ...Definition) Schema {
	s, err := NewSchema(defs...)
	if err != nil {
		panic("slots: " + err.Error())
	}
	return s
}

// Definitions returns a copy of the slot definitions in declaration order.
func (s Schema) Definitions() []Definition {
	out := make([]Definition, len(s.defs))
	copy(out, s.defs)
	return out
}

// Lookup returns the definition for name.
func (s Schema) Lookup(name string) (Definition, bool) {
	i, ok := s.index[name]
	if !ok {
		return Definition{}, false
	}
	return s.defs[i], true
}

// Len returns the number of declared slots.
func (s Schema) Len() int { return len(s.defs) }

// MarshalJSON encodes the schema as its ordered definition list.
func (s Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.defs)
}

// DefaultSchema is the freezone intake: everything needed before a freezone
// can be recommended.
func DefaultSchema() Schema {
	return MustSchema(
		Definition{
			Name:        "shareholders",
			Type:        TypeInt,
			Required:    true,
			Label:       "Number of shareholders",
			Question:    "How many shareholders will the company have?",
			Description: "count of company shareholders/partners/owners",
		},
		Definition{
			Name:        "visas",
			Type:        TypeInt,
			Required:    true,
			Label:       "Number of visas",
			Question:    "How many residence visas do you need?",
			Description: "count of residence/employment visas required",
		},
		Definition{
			Name:        "activities",
			Type:        TypeString,
			Required:    true,
			Label:       "Activities",
			Question:    "Which business activities will the company carry out?",
			Description: "licensed business activities, e.g. consulting, trading, e-commerce",
		},
		Definition{
			Name:        "budget",
			Type:        TypeFloat,
			Required:    true,
			Label:       "Cost",
			Question:    "What is your budget for the licence setup, in AED?",
			Description: "setup budget in AED as a number",
		},
		Definition{
			Name:        "office_space",
			Type:        TypeBool,
			Required:    true,
			Label:       "Office space",
			Question:    "Do you need a dedicated physical office space?",
			Description: "true if a dedicated physical office is required, false for flexi-desk or virtual",
		},
	)
}

// Coerce converts an extracted raw value to the slot's declared type.
func (d Definition) Coerce(raw any) (any, error) {
	var (
		v   any
		err error
	)
	switch d.Type {
	case TypeString:
		v, err = coerceString(raw)
	case TypeInt:
		v, err = coerceInt(raw)
	case TypeFloat:
		v, err = coerceFloat(raw)
	case TypeBool:
		v, err = coerceBool(raw)
	default:
		err = fmt.Errorf("unsupported type %q", d.Type)
	}
	if err != nil {
		return nil, &CoercionError{Slot: d.Name, Type: d.Type, Raw: raw, Err: err}
	}
	return v, nil
}

func coerceString(raw any) (string, error) {
	var s string
	switch x := raw.(type) {
	case string:
		s = x
	case json.Number:
		s = x.String()
	case int, int64, int32, float64, float32, bool:
		s = fmt.Sprint(x)
	default:
		return "", fmt.Errorf("cannot use %T as string", raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty string")
	}
	return s, nil
}

func coerceInt(raw any) (int64, error) {
	var n int64
	switch x := raw.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float32:
		return coerceInt(float64(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not a whole number", x)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
		if x >= float64(math.MaxInt64) || x < float64(math.MinInt64) {
			return 0, fmt.Errorf("%v is out of range", x)
		}
		n = int64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return coerceInt(i)
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("parse %q as integer", x.String())
		}
		return coerceInt(f)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q as integer", x)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("cannot use %T as integer", raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	return n, nil
}

func coerceFloat(raw any) (float64, error) {
	var f float64
	switch x := raw.(type) {
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	case json.Number:
		return coerceFloat(x.String())
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q as number", x)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("cannot use %T as number", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not finite", f)
	}
	if f < 0 {
		return 0, fmt.Errorf("%v is negative", f)
	}
	return f, nil
}

func coerceBool(raw any) (bool, error) {
	switch x := raw.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "y", "on", "required", "needed":
			return true, nil
		case "0", "false", "no", "n", "off", "not required", "not needed":
			return false, nil
		}
		return false, fmt.Errorf("parse %q as yes/no", x)
	case int:
		return coerceBool(strconv.Itoa(x))
	case int32:
		return coerceBool(int64(x))
	case int64:
		return coerceBool(strconv.FormatInt(x, 10))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return false, fmt.Errorf("parse %q as yes/no", x.String())
		}
		return coerceBool(f)
	case float32:
		return coerceBool(float64(x))
	case float64:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
		return false, fmt.Errorf("%v is not a yes/no value", x)
	}
	return false, fmt.Errorf("cannot use %T as yes/no", raw)
}
