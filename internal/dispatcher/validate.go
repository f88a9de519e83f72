package dispatcher

import (
	"fmt"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// validateArguments checks args against schema's required keys and
// declared primitive types. It hand-rolls this narrow check rather than
// reaching for a general JSON-schema validator: every parameter shape
// in this registry is a flat record of string/number/boolean fields,
// not a recursive document, so a schema-validation library would be
// unwarranted weight for what is a handful of type assertions.
func validateArguments(schema toolapi.ParameterSchema, args map[string]any) error {
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("missing required argument %q", key)
		}
	}

	for key, value := range args {
		field, declared := schema.Properties[key]
		if !declared {
			continue // undeclared extra keys are tolerated
		}
		if err := checkType(key, field, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(key string, field toolapi.ParameterField, value any) error {
	switch field.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", key)
		}
		if len(field.Enum) > 0 && !containsString(field.Enum, s) {
			return fmt.Errorf("argument %q must be one of %v", key, field.Enum)
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("argument %q must be a number", key)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", key)
		}
	}
	return nil
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
