package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/freezone-advisor/internal/llm"
	"github.com/ashureev/freezone-advisor/internal/slots"
)

// DefaultHistoryTurns bounds how much conversation is sent with each request.
const DefaultHistoryTurns = 8

const extractionSystemPrompt = `You extract structured parameters from a user's message in a conversation about setting up a company in a UAE freezone.
Return a JSON object. Use only the parameter names listed below as keys.
Include a key only when the user's latest message states a value for it, or answers the assistant's last question about it.
Use null when the user explicitly declines to give a value. Never guess.
Numbers must be plain JSON numbers without units or separators. Booleans must be true or false.`

// LLM extracts slot values by asking a language model for a JSON object.
type LLM struct {
	client       llm.Client
	historyTurns int
	logger       *slog.Logger
}

// NewLLM returns an extractor backed by client.
func NewLLM(client llm.Client, logger *slog.Logger) *LLM {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{client: client, historyTurns: DefaultHistoryTurns, logger: logger}
}

// Extract implements slots.Extractor. Keys with null values are dropped;
// undeclared keys are passed through for the engine's unknown-slot policy.
func (e *LLM) Extract(ctx context.Context, text string, schema slots.Schema, history []slots.Turn) (map[string]any, error) {
	raw, err := e.client.Complete(ctx, llm.Request{
		System: extractionSystemPrompt + "\n\n" + describeSchema(schema),
		Prompt: e.userPrompt(text, history),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}
	out, err := ParseJSONObject(raw)
	if err != nil {
		e.logger.Warn("Discarding malformed extraction", "provider", e.client.Provider(), "error", err)
		return nil, err
	}
	return out, nil
}

func (e *LLM) userPrompt(text string, history []slots.Turn) string {
	var b strings.Builder
	if n := len(history); n > 0 {
		start := 0
		if n > e.historyTurns {
			start = n - e.historyTurns
		}
		b.WriteString("Conversation so far:\n")
		for _, t := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", t.Sender, t.Text)
		}
		b.WriteString("\n")
	}
	b.WriteString("Latest user message:\n")
	b.WriteString(text)
	return b.String()
}

func describeSchema(schema slots.Schema) string {
	var b strings.Builder
	b.WriteString("Parameters:\n")
	for _, d := range schema.Definitions() {
		fmt.Fprintf(&b, "- %s (%s)", d.Name, d.Type)
		if d.Description != "" {
			fmt.Fprintf(&b, ": %s", d.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ParseJSONObject decodes a model answer into raw slot values. Numbers are
// kept as json.Number so integer slots do not pass through float64, and list
// answers are joined into one string.
func ParseJSONObject(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(llm.StripFences(raw))))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	for k, v := range obj {
		switch x := v.(type) {
		case nil:
			delete(obj, k)
		case []any:
			parts := make([]string, 0, len(x))
			for _, item := range x {
				parts = append(parts, fmt.Sprint(item))
			}
			obj[k] = strings.Join(parts, ", ")
		}
	}
	return obj, nil
}
