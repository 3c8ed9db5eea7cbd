package slots

import (
	"strconv"
	"strings"
)

// NotSpecified is rendered for slots without a value.
const NotSpecified = "not specified"

// FormatValue renders a slot value for display. Absent or mistyped values
// render as NotSpecified.
func FormatValue(d Definition, v SlotValue) string {
	if !v.Present {
		return NotSpecified
	}
	switch d.Type {
	case TypeInt:
		if n, ok := v.Int(); ok {
			return strconv.FormatInt(n, 10)
		}
	case TypeFloat:
		if f, ok := v.Float(); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	case TypeBool:
		if b, ok := v.Bool(); ok {
			if b {
				return "yes"
			}
			return "no"
		}
	case TypeString:
		if s, ok := v.Text(); ok {
			return s
		}
	}
	return NotSpecified
}

// Summarize lists every schema slot with its value in declaration order. It
// is the engine's default SuggestFunc.
func Summarize(schema Schema, slots map[string]SlotValue) string {
	var b strings.Builder
	b.WriteString("Thank you for providing all the details. Based on your input:\n")
	for _, d := range schema.defs {
		b.WriteString("- ")
		b.WriteString(d.DisplayName())
		b.WriteString(": ")
		b.WriteString(FormatValue(d, slots[d.Name]))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
