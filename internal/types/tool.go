package types

import "encoding/json"

// ToolSchema describes a tool's name, human-facing description, and
// JSON-Schema-shaped parameter declaration, as presented to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
