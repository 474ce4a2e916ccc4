package tool

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// CheckArguments validates args against the tool's input schema and returns
// one line per problem. A tool without a schema accepts anything. The result
// is advisory: the worker remains the authority on what it accepts.
func CheckArguments(t Tool, args map[string]any) ([]string, error) {
	if len(t.InputSchema) == 0 {
		return nil, nil
	}
	if args == nil {
		args = map[string]any{}
	}

	schemaBytes, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("tool: encode schema for %s: %w", t.Name, err)
	}
	argBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("tool: encode arguments for %s: %w", t.Name, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(argBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("tool: validate arguments for %s: %w", t.Name, err)
	}
	if result.Valid() {
		return nil, nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return problems, nil
}
