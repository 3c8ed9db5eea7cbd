package docextract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/freezone-advisor/internal/llm"
)

// DefaultMaxInputChars bounds the document text sent to the model.
const DefaultMaxInputChars = 60_000

const structureTemperature = 0.3

const structureSystemPrompt = `You organise freezone package documents for an internal price catalogue.`

const structurePrompt = `Extract and organize the data from the uploaded document (Excel or PDF) into a well-structured format. The output should include the following:

1. Package Names: List all the names of the packages or categories mentioned in the document.

2. Pricing:
   - Extract all price-related information, including standard pricing, discounted pricing, and renewal costs if available.
   - Highlight any introductory offers or special terms for pricing.

3. Features/Inclusions:
   - List all included features for each package (e.g., WiFi, meeting room access, parking spaces, discounts).
   - Specify feature usage limits (e.g., "5 hours/month of meeting room usage").

4. Additional Services:
   - Extract details of any optional or add-on services, along with their associated costs.

5. Conditions/Notes:
   - Summarize any additional notes, terms, or conditions mentioned in the document.

6. Structure:
   - Output the information in a clear and readable format.
   - Ensure the data is aligned correctly with the associated categories. Retain any numerical values, units, or other specifications (e.g., hours, AED, percentages). If any information appears incomplete or ambiguous, note this explicitly.

Data:
`

// Structurer asks a model to reorganise raw document text into packages,
// pricing, features, add-ons and conditions.
type Structurer struct {
	client   llm.Client
	maxChars int
}

// NewStructurer creates a structurer backed by client.
func NewStructurer(client llm.Client) *Structurer {
	return &Structurer{client: client, maxChars: DefaultMaxInputChars}
}

// Structure returns the model's organised rendering of text. Input longer than
// the configured limit is truncated and the truncation noted in the prompt.
func (s *Structurer) Structure(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("document has no text to structure")
	}
	runes := []rune(text)
	if len(runes) > s.maxChars {
		text = string(runes[:s.maxChars]) + "\n[document truncated]"
	}

	out, err := s.client.Complete(ctx, llm.Request{
		System:      structureSystemPrompt,
		Prompt:      structurePrompt + text,
		Temperature: structureTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("structure document with %s: %w", s.client.Provider(), err)
	}
	return strings.TrimSpace(out), nil
}
