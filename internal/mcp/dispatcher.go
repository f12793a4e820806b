package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcusd/internal/errs"
	"github.com/marcusd/internal/journal"
	"github.com/marcusd/internal/notify"
	"github.com/marcusd/internal/project"
	"github.com/marcusd/internal/tasks"
	"github.com/marcusd/internal/types"
)

// callTimeout is the default deadline for one tool call
const callTimeout = 30 * time.Second

// TaskProducer is the external natural-language project generator. Its
// returned dependencies should reference IDs in the same list; the
// validator repairs what it gets wrong.
type TaskProducer interface {
	Generate(ctx context.Context, description string, options map[string]interface{}) ([]*tasks.Task, error)
}

// Dispatcher maps named tool calls to core operations under role-based
// access control, logging every call for the post-project analyzer.
type Dispatcher struct {
	registry *Registry
	projects *project.Manager
	journal  *journal.Journal
	convlog  *journal.ConvLog
	producer TaskProducer
	notifier *notify.Router

	instanceID string
	startTime  time.Time

	mu      sync.Mutex
	clients map[string]types.Role
}

// NewDispatcher wires the tool surface over the core
func NewDispatcher(projects *project.Manager, j *journal.Journal, convlog *journal.ConvLog) *Dispatcher {
	d := &Dispatcher{
		registry:   NewRegistry(),
		projects:   projects,
		journal:    j,
		convlog:    convlog,
		instanceID: uuid.New().String(),
		startTime:  time.Now().UTC(),
		clients:    make(map[string]types.Role),
	}
	d.registerTools()
	return d
}

// SetTaskProducer wires the external project generator used by
// create_project to seed the task graph
func (d *Dispatcher) SetTaskProducer(p TaskProducer) {
	d.producer = p
}

// SetNotifier wires the operator alert router for blocker reports
func (d *Dispatcher) SetNotifier(r *notify.Router) {
	d.notifier = r
}

// roleOf returns a client's authenticated role; unauthenticated clients
// act as observers
func (d *Dispatcher) roleOf(clientID string) types.Role {
	d.mu.Lock()
	defer d.mu.Unlock()
	if role, ok := d.clients[clientID]; ok {
		return role
	}
	return types.RoleObserver
}

func (d *Dispatcher) setRole(clientID string, role types.Role) {
	d.mu.Lock()
	d.clients[clientID] = role
	d.mu.Unlock()
}

// Dispatch executes one tool request and always returns the uniform
// response envelope
func (d *Dispatcher) Dispatch(ctx context.Context, req types.ToolRequest) types.ToolResponse {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	role := d.roleOf(req.ClientID)
	result, err := d.registry.Execute(ctx, req.Tool, role, req.ClientID, req.Arguments)

	resp := d.buildResponse(req, result, err)
	d.logCall(req, resp)
	return resp
}

// buildResponse translates handler outcomes into the envelope. The
// not-found sentinel is a result, not an error.
func (d *Dispatcher) buildResponse(req types.ToolRequest, result interface{}, err error) types.ToolResponse {
	if err == nil {
		return types.ToolResponse{Success: true, Result: result, Tool: req.Tool}
	}

	if errs.IsNotFound(err) {
		return types.ToolResponse{
			Success: true,
			Result:  map[string]interface{}{"exists": false, "result": nil},
			Tool:    req.Tool,
		}
	}

	var tagged *errs.Error
	if !errors.As(err, &tagged) {
		tagged = errs.Wrap(errs.KindTransient, err, "internal error").WithOp(req.Tool)
	}

	toolErr := &types.ToolError{
		Kind:        string(tagged.Kind),
		Message:     tagged.Message,
		Recoverable: tagged.Recoverable,
		Timestamp:   tagged.Timestamp,
		Context:     contextMap(tagged),
	}
	return types.ToolResponse{
		Success:   false,
		Error:     toolErr,
		Tool:      req.Tool,
		Arguments: req.Arguments,
	}
}

func contextMap(e *errs.Error) map[string]string {
	out := make(map[string]string)
	if e.Context.Operation != "" {
		out["operation"] = e.Context.Operation
	}
	if e.Context.ProjectID != "" {
		out["project_id"] = e.Context.ProjectID
	}
	if e.Context.TaskID != "" {
		out["task_id"] = e.Context.TaskID
	}
	if e.Context.AgentID != "" {
		out["agent_id"] = e.Context.AgentID
	}
	for k, v := range e.Context.Extra {
		out[k] = v
	}
	return out
}

// logCall appends the request/response pair to the structured call log
func (d *Dispatcher) logCall(req types.ToolRequest, resp types.ToolResponse) {
	status := "ok"
	if !resp.Success {
		status = resp.Error.Kind
	}
	log.Printf("[MCP] %s tool=%s client=%s status=%s", d.instanceID[:8], req.Tool, req.ClientID, status)

	if d.convlog == nil {
		return
	}

	projectID := d.projects.ActiveID()
	taskID, _ := req.Arguments["task_id"].(string)

	reqLine, _ := json.Marshal(req.Arguments)
	if err := d.convlog.Append(journal.ConvEntry{
		Direction: "from_agent",
		AgentID:   req.ClientID,
		Content:   string(reqLine),
		Metadata: journal.ConvMetadata{
			ProjectID:   projectID,
			TaskID:      taskID,
			MessageType: req.Tool,
		},
	}); err != nil {
		log.Printf("[MCP] conversation log append failed: %v", err)
	}

	respLine, _ := json.Marshal(resp)
	if err := d.convlog.Append(journal.ConvEntry{
		Direction: "to_agent",
		AgentID:   req.ClientID,
		Content:   string(respLine),
		Metadata: journal.ConvMetadata{
			ProjectID:   projectID,
			TaskID:      taskID,
			MessageType: req.Tool + "_response",
		},
	}); err != nil {
		log.Printf("[MCP] conversation log append failed: %v", err)
	}
}

// Uptime reports how long this instance has been serving
func (d *Dispatcher) Uptime() time.Duration {
	return time.Since(d.startTime)
}

// InstanceID identifies this server process
func (d *Dispatcher) InstanceID() string {
	return d.instanceID
}
