package mcp

import (
	"context"
	"sort"

	"github.com/marcusd/internal/errs"
	"github.com/marcusd/internal/types"
)

// ToolHandler processes a tool call and returns its result
type ToolHandler func(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error)

// ParameterDef describes a tool parameter
type ParameterDef struct {
	Type        string
	Description string
	Required    bool
}

// ToolDefinition describes one tool on the dispatch surface
type ToolDefinition struct {
	Name        string
	Description string
	Roles       []types.Role // roles allowed to call; admin is always allowed
	Parameters  map[string]ParameterDef
	Handler     ToolHandler
}

// allows reports whether a role may call this tool
func (t ToolDefinition) allows(role types.Role) bool {
	if role == types.RoleAdmin {
		return true
	}
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Registry manages the available tools
type Registry struct {
	tools map[string]ToolDefinition
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolDefinition)}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool ToolDefinition) {
	r.tools[tool.Name] = tool
}

// Get returns a tool by name
func (r *Registry) Get(name string) (ToolDefinition, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// ListFor returns the sorted tool names available to a role
func (r *Registry) ListFor(role types.Role) []string {
	var names []string
	for name, tool := range r.tools {
		if tool.allows(role) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Execute runs a tool after the role gate
func (r *Registry) Execute(ctx context.Context, name string, role types.Role, clientID string, args map[string]interface{}) (interface{}, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, errs.Newf(errs.KindBusinessLogic, "unknown tool %q", name).WithOp(name)
	}
	if !tool.allows(role) {
		return nil, errs.Newf(errs.KindSecurity, "role %s is not authorized for %s", role, name).
			WithOp(name).WithExtra("client_id", clientID)
	}
	if err := checkRequired(tool, args); err != nil {
		return nil, err
	}
	return tool.Handler(ctx, clientID, args)
}

// checkRequired validates required parameters are present
func checkRequired(tool ToolDefinition, args map[string]interface{}) error {
	for name, def := range tool.Parameters {
		if !def.Required {
			continue
		}
		if _, ok := args[name]; !ok {
			return errs.Newf(errs.KindBusinessLogic, "missing required parameter %q", name).WithOp(tool.Name)
		}
	}
	return nil
}
