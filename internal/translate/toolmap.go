package translate

import (
	"strings"

	"github.com/google/uuid"
)

// ToolIDs remembers the mapping from a freshly generated toolu_<id> back to
// the originating OpenAI function name, so that a later inbound tool_result
// block can be translated back into the right tool_call_id. Per spec §4.E
// and §9, this map is per-request and lives in the orchestrator's
// request-scoped state; it is never persisted.
type ToolIDs struct {
	names map[string]string
}

// NewToolIDs returns an empty tool-id map.
func NewToolIDs() *ToolIDs {
	return &ToolIDs{names: make(map[string]string)}
}

// New mints a fresh toolu_<id>, remembers it against name and returns it.
func (t *ToolIDs) New(name string) string {
	id := "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	t.names[id] = name
	return id
}

// NameFor returns the function name originally associated with id, if any.
func (t *ToolIDs) NameFor(id string) (string, bool) {
	name, ok := t.names[id]
	return name, ok
}
