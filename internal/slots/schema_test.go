package slots

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchemaRejectsInvalidDeclarations(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
	}{
		{"empty", nil},
		{"blank name", []Definition{{Name: " ", Type: TypeInt}}},
		{"bad type", []Definition{{Name: "x", Type: "date"}}},
		{"duplicate", []Definition{{Name: "x", Type: TypeInt}, {Name: "x", Type: TypeString}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchema(tt.defs...)
			assert.Error(t, err)
		})
	}
}

func TestDefaultSchemaOrder(t *testing.T) {
	var names []string
	for _, d := range DefaultSchema().Definitions() {
		names = append(names, d.Name)
		assert.True(t, d.Required)
		assert.NotEmpty(t, d.Question)
	}
	assert.Equal(t, []string{"shareholders", "visas", "activities", "budget", "office_space"}, names)
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		raw     any
		want    any
		wantErr bool
	}{
		{"int from int", TypeInt, 2, int64(2), false},
		{"int from whole float", TypeInt, 3.0, int64(3), false},
		{"int from string", TypeInt, " 4 ", int64(4), false},
		{"int from json number", TypeInt, json.Number("5"), int64(5), false},
		{"int from json whole float", TypeInt, json.Number("2.0"), int64(2), false},
		{"int from json fraction", TypeInt, json.Number("2.5"), nil, true},
		{"int from huge float", TypeInt, 1e19, nil, true},
		{"int from float at overflow boundary", TypeInt, float64(math.MaxInt64), nil, true},
		{"int from word", TypeInt, "two", nil, true},
		{"int from fraction", TypeInt, 2.5, nil, true},
		{"int negative", TypeInt, -1, nil, true},
		{"float with commas", TypeFloat, "25,000", 25000.0, false},
		{"float negative", TypeFloat, -3.0, nil, true},
		{"bool yes", TypeBool, "Yes", true, false},
		{"bool not required", TypeBool, "not required", false, false},
		{"bool from one", TypeBool, 1.0, true, false},
		{"bool from json one", TypeBool, json.Number("1"), true, false},
		{"bool from json zero", TypeBool, json.Number("0"), false, false},
		{"bool from json two", TypeBool, json.Number("2"), nil, true},
		{"bool from float32", TypeBool, float32(0), false, false},
		{"bool from maybe", TypeBool, "maybe", nil, true},
		{"string trimmed", TypeString, "  trading ", "trading", false},
		{"string from number", TypeString, 12, "12", false},
		{"string blank", TypeString, "   ", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Definition{Name: "slot", Type: tt.typ}
			got, err := d.Coerce(tt.raw)
			if tt.wantErr {
				var ce *CoercionError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, "slot", ce.Slot)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlotValueSurvivesJSON(t *testing.T) {
	schema := DefaultSchema()
	s := NewSession("s", schema, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	s.Slots["shareholders"] = SlotValue{Name: "shareholders", Type: TypeInt, Raw: "2", Value: int64(2), Present: true}
	s.Slots["office_space"] = SlotValue{Name: "office_space", Type: TypeBool, Raw: "no", Value: false, Present: true}

	data, err := json.Marshal(s)
	require.NoError(t, err)
	var got Session
	require.NoError(t, json.Unmarshal(data, &got))

	n, ok := got.Slots["shareholders"].Int()
	require.True(t, ok)
	assert.Equal(t, int64(2), n)
	b, ok := got.Slots["office_space"].Bool()
	require.True(t, ok)
	assert.False(t, b)
	assert.False(t, got.Present("visas"))
}

func TestSessionClone(t *testing.T) {
	s := NewSession("s", DefaultSchema(), time.Now())
	c := s.Clone()
	assert.Equal(t, s, c)
	assert.Nil(t, c.History)

	c.Slots["visas"] = SlotValue{Name: "visas", Type: TypeInt, Raw: "2", Value: int64(2), Present: true}
	c.History = append(c.History, Turn{Sender: SenderUser, Text: "2 visas"})
	assert.False(t, s.Present("visas"))
	assert.Empty(t, s.History)
}

func TestLastAskedFor(t *testing.T) {
	s := &Session{History: []Turn{
		{Sender: SenderAssistant, AskedFor: "visas"},
		{Sender: SenderUser, Text: "3"},
	}}
	assert.Equal(t, "visas", s.LastAskedFor())

	s.History = append(s.History, Turn{Sender: SenderAssistant, Text: "suggestion"})
	assert.Empty(t, s.LastAskedFor())
}

func TestParseUnknownSlotPolicy(t *testing.T) {
	p, err := ParseUnknownSlotPolicy("fail")
	require.NoError(t, err)
	assert.Equal(t, RejectUnknown, p)

	p, err = ParseUnknownSlotPolicy("")
	require.NoError(t, err)
	assert.Equal(t, IgnoreUnknown, p)

	_, err = ParseUnknownSlotPolicy("sometimes")
	assert.Error(t, err)
}
