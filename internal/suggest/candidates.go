// ABOUTME: Parsing and validation of the model's suggestion payload
// ABOUTME: Any malformed candidate rejects the whole batch

package suggest

import (
	"encoding/json"
	"errors"
	"fmt"
)

// candidate is one validated suggestion.
type candidate struct {
	TaskName    string
	Description string
}

var (
	errEmptyResponse = errors.New("no suggestions received from AI")
	errBadFormat     = errors.New("invalid response format from AI")
)

// parseCandidates requires a JSON object whose "todos" key holds an array of
// objects, each with a non-empty string taskName. A missing or non-string
// description becomes "".
func parseCandidates(content string) ([]candidate, error) {
	if content == "" {
		return nil, errEmptyResponse
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadFormat, err)
	}
	raw, ok := envelope["todos"]
	if !ok {
		return nil, fmt.Errorf("%w: missing todos", errBadFormat)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, fmt.Errorf("%w: todos is not an array", errBadFormat)
	}

	out := make([]candidate, 0, len(items))
	for i, item := range items {
		var fields map[string]any
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			return nil, fmt.Errorf("invalid task in AI response at index %d", i)
		}
		name, ok := fields["taskName"].(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid task name in AI response at index %d", i)
		}
		desc, _ := fields["description"].(string)
		out = append(out, candidate{TaskName: name, Description: desc})
	}
	return out, nil
}
