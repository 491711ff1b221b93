package tools

import "fmt"

// ErrUnknownTool is returned when a call names a tool that is not in the
// registry.
type ErrUnknownTool struct {
	ToolName string
}

// Error implements the error interface. The text is what the model sees
// as the tool result.
func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.ToolName)
}
