package enrichment

import (
	"encoding/json"
	"strings"

	"github.com/roadsentry/roadsentry-go/internal/errors"
)

// ParseStructured parses a model response that was asked to be a bare JSON
// object. Models occasionally wrap the object in prose or markdown fences,
// so on a parse failure the outermost {...} substring is extracted and
// parsed again before giving up.
func ParseStructured(text string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, errors.Newf("no JSON object found in response").
			Component("enrichment").
			Category(errors.CategoryValidation).
			Context("operation", "parse_structured_findings").
			Build()
	}

	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, errors.New(err).
			Component("enrichment").
			Category(errors.CategoryValidation).
			Context("operation", "parse_structured_findings").
			Build()
	}
	return out, nil
}
