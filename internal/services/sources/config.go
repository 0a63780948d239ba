package sources

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is shared across handlers; validator.Validate is safe for
// concurrent use.
var validate = validator.New()

// decodeConfig converts the untyped source config map into a handler's
// typed config struct and runs struct validation. The map is never mutated.
func decodeConfig(raw map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
