// internal/agent/tools.go
package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/automate-cli/api/schemas"
)

// ToolName identifies one entry of the tool registry.
type ToolName string

const (
	ToolTouch      ToolName = "touch"
	ToolSwipe      ToolName = "swipe"
	ToolType       ToolName = "type"
	ToolSearchApps ToolName = "search_apps"
	ToolOpenApp    ToolName = "open_app"
	ToolOpenLink   ToolName = "open_link"
	ToolEndSubtask ToolName = "end_subtask"
)

// Tool is a registry entry: the contract the model sees for one action.
type Tool struct {
	Name        ToolName
	Description string
	Parameters  *schemas.ParameterSchema
	// ChangesScreen marks tools whose success is followed by a fresh screenshot.
	ChangesScreen bool
}

// Definition converts the tool into the provider-neutral wire form.
func (t Tool) Definition() schemas.ToolDefinition {
	return schemas.ToolDefinition{
		Name:        string(t.Name),
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

func float(v float64) *float64 { return &v }

func normalizedCoordinate(axis, edge string) *schemas.ParameterSchema {
	return &schemas.ParameterSchema{
		Type:        "number",
		Description: fmt.Sprintf("Normalized %s coordinate between 0 and 1, measured from the %s edge of the screen.", axis, edge),
		Minimum:     float(0),
		Maximum:     float(1),
	}
}

// registry is the fixed action vocabulary, in the order presented to the model.
var registry = []Tool{
	{
		Name:          ToolTouch,
		Description:   "Tap the screen at a normalized position. Use amount for repeated taps.",
		ChangesScreen: true,
		Parameters: &schemas.ParameterSchema{
			Type: "object",
			Properties: map[string]*schemas.ParameterSchema{
				"x":       normalizedCoordinate("x", "left"),
				"y":       normalizedCoordinate("y", "top"),
				"amount":  {Type: "integer", Description: "Number of taps.", Default: 1, Minimum: float(1)},
				"spacing": {Type: "integer", Description: "Milliseconds to wait between taps.", Default: 0, Minimum: float(0)},
			},
			Required: []string{"x", "y"},
		},
	},
	{
		Name:          ToolSwipe,
		Description:   "Drag a finger through an ordered list of normalized breakpoints. Use it to scroll or to move sliders.",
		ChangesScreen: true,
		Parameters: &schemas.ParameterSchema{
			Type: "object",
			Properties: map[string]*schemas.ParameterSchema{
				"breakpoints": {
					Type:        "array",
					Description: "At least two points the finger passes through, in order.",
					Items: &schemas.ParameterSchema{
						Type: "object",
						Properties: map[string]*schemas.ParameterSchema{
							"x": normalizedCoordinate("x", "left"),
							"y": normalizedCoordinate("y", "top"),
						},
						Required: []string{"x", "y"},
					},
				},
			},
			Required: []string{"breakpoints"},
		},
	},
	{
		Name:          ToolType,
		Description:   "Type text into the currently focused input field. Tap the field first.",
		ChangesScreen: true,
		Parameters: &schemas.ParameterSchema{
			Type: "object",
			Properties: map[string]*schemas.ParameterSchema{
				"text": {Type: "string", Description: "The text to enter."},
			},
			Required: []string{"text"},
		},
	},
	{
		Name:        ToolSearchApps,
		Description: "Search installed apps by name. Returns app names with their package identifiers.",
		Parameters: &schemas.ParameterSchema{
			Type: "object",
			Properties: map[string]*schemas.ParameterSchema{
				"query": {Type: "string", Description: "Part of the app name or package identifier."},
			},
			Required: []string{"query"},
		},
	},
	{
		Name:          ToolOpenApp,
		Description:   "Launch an installed app by package identifier. Use search_apps to find the identifier.",
		ChangesScreen: true,
		Parameters: &schemas.ParameterSchema{
			Type: "object",
			Properties: map[string]*schemas.ParameterSchema{
				"packageName": {Type: "string", Description: "Package identifier, e.g. com.android.settings."},
			},
			Required: []string{"packageName"},
		},
	},
	{
		Name:          ToolOpenLink,
		Description:   "Open a URL in the default browser or the app that handles it.",
		ChangesScreen: true,
		Parameters: &schemas.ParameterSchema{
			Type: "object",
			Properties: map[string]*schemas.ParameterSchema{
				"url": {Type: "string", Description: "Absolute URL to open."},
			},
			Required: []string{"url"},
		},
	},
	{
		Name:        ToolEndSubtask,
		Description: "Finish the current subtask. Set success to false and explain in error when it cannot be completed.",
		Parameters: &schemas.ParameterSchema{
			Type: "object",
			Properties: map[string]*schemas.ParameterSchema{
				"success": {Type: "boolean", Description: "Whether the subtask was completed."},
				"error":   {Type: "string", Description: "Why the subtask failed."},
			},
			Required: []string{"success"},
		},
	},
}

var registryIndex = func() map[ToolName]Tool {
	idx := make(map[ToolName]Tool, len(registry))
	for _, t := range registry {
		idx[t.Name] = t
	}
	return idx
}()

// Tools returns the registry in presentation order.
func Tools() []Tool {
	out := make([]Tool, len(registry))
	copy(out, registry)
	return out
}

// LookupTool resolves a model-supplied name against the registry.
func LookupTool(name string) (Tool, bool) {
	t, ok := registryIndex[ToolName(name)]
	return t, ok
}

// ToolDefinitions returns every tool in wire form for a model request.
func ToolDefinitions() []schemas.ToolDefinition {
	defs := make([]schemas.ToolDefinition, len(registry))
	for i, t := range registry {
		defs[i] = t.Definition()
	}
	return defs
}

// ToolCatalog lists names and descriptions only, one per line.
func ToolCatalog() string {
	var b strings.Builder
	for _, t := range registry {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
