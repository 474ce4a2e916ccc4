package tool

import (
	"maps"
	"slices"
	"strings"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool/rpc"
)

// Tool is one operation advertised by the worker.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Properties returns the top-level property names declared by the input
// schema.
func (t Tool) Properties() []string {
	props, _ := t.InputSchema["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func toolFromRPC(in rpc.Tool) Tool {
	return Tool{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		InputSchema: in.InputSchema,
	}
}

func cloneTool(in Tool) Tool {
	out := in
	if in.InputSchema != nil {
		out.InputSchema = maps.Clone(in.InputSchema)
	}
	return out
}

func cloneTools(in []Tool) []Tool {
	if in == nil {
		return nil
	}
	out := make([]Tool, 0, len(in))
	for _, t := range in {
		out = append(out, cloneTool(t))
	}
	return out
}
