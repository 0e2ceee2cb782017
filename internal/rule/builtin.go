package rule

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed templates/builtin.json
var builtinJSON []byte

// Builtins decodes and validates the built-in strategy templates shipped
// with the binary. A template that fails validation rejects the whole load;
// the built-ins are part of the release and must never be half-usable.
func Builtins() ([]Template, error) {
	var templates []Template
	if err := json.Unmarshal(builtinJSON, &templates); err != nil {
		return nil, fmt.Errorf("decode builtin templates: %w", err)
	}
	seen := make(map[string]bool, len(templates))
	for i := range templates {
		t := &templates[i]
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("builtin templates: %w", err)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: duplicate builtin template id %q", ErrInvalidStrategy, t.ID)
		}
		seen[t.ID] = true
	}
	return templates, nil
}
