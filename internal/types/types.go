package types

import "time"

// Role determines which tools a connected client may call
type Role string

const (
	RoleObserver  Role = "observer"
	RoleDeveloper Role = "developer"
	RoleAgent     Role = "agent"
	RoleAdmin     Role = "admin"
)

// ValidRole reports whether r is a known role
func ValidRole(r Role) bool {
	switch r {
	case RoleObserver, RoleDeveloper, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// AgentStatus represents the current status of a registered agent
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentOffline AgentStatus = "offline"
)

// Agent represents a registered worker agent
type Agent struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Role          Role        `json:"role"`
	Capabilities  []string    `json:"capabilities"`
	Status        AgentStatus `json:"status"`
	CurrentTaskID string      `json:"current_task_id,omitempty"`
	RegisteredAt  time.Time   `json:"registered_at"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
}

// ToolRequest is an incoming tool call on the dispatch surface
type ToolRequest struct {
	Tool      string                 `json:"tool"`
	ClientID  string                 `json:"client_id"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolError is the failure envelope all tools share
type ToolError struct {
	Kind        string            `json:"kind"`
	Message     string            `json:"message"`
	Recoverable bool              `json:"recoverable"`
	Timestamp   time.Time         `json:"timestamp"`
	Context     map[string]string `json:"context,omitempty"`
}

// ToolResponse is the uniform tool result envelope
type ToolResponse struct {
	Success   bool                   `json:"success"`
	Result    interface{}            `json:"result,omitempty"`
	Error     *ToolError             `json:"error,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// WSMessage is the websocket frame for the live observer feed
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// WebSocket message type constants
const (
	WSTypeEvent         = "event"
	WSTypeProjectStatus = "project_status"
	WSTypeAlert         = "alert"
)
