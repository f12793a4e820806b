package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/marcusd/internal/errs"
	"github.com/marcusd/internal/journal"
	"github.com/marcusd/internal/notify"
	"github.com/marcusd/internal/project"
	"github.com/marcusd/internal/tasks"
	"github.com/marcusd/internal/types"
)

// argString extracts a string argument
func argString(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

// argFloat extracts a numeric argument
func argFloat(args map[string]interface{}, name string, fallback float64) float64 {
	if f, ok := args[name].(float64); ok {
		return f
	}
	return fallback
}

// argStrings extracts a string-list argument
func argStrings(args map[string]interface{}, name string) []string {
	raw, ok := args[name].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// registerTools wires the full tool surface
func (d *Dispatcher) registerTools() {
	agentRoles := []types.Role{types.RoleAgent}
	devRoles := []types.Role{types.RoleDeveloper}
	writeRoles := []types.Role{types.RoleDeveloper, types.RoleAgent}
	allRoles := []types.Role{types.RoleObserver, types.RoleDeveloper, types.RoleAgent}

	d.registry.Register(ToolDefinition{
		Name:        "authenticate",
		Description: "Register this client's role and list its available tools",
		Roles:       allRoles,
		Parameters: map[string]ParameterDef{
			"client_id":   {Type: "string", Description: "Stable client identifier", Required: true},
			"client_type": {Type: "string", Description: "Client implementation name", Required: true},
			"role":        {Type: "string", Description: "observer, developer, agent, or admin", Required: true},
			"metadata":    {Type: "object", Description: "Free-form client metadata"},
		},
		Handler: d.handleAuthenticate,
	})

	d.registry.Register(ToolDefinition{
		Name:        "register_agent",
		Description: "Register a worker agent and its capabilities",
		Roles:       agentRoles,
		Parameters: map[string]ParameterDef{
			"agent_id":     {Type: "string", Description: "Agent identifier", Required: true},
			"name":         {Type: "string", Description: "Display name", Required: true},
			"capabilities": {Type: "array", Description: "Capability tokens", Required: true},
		},
		Handler: d.handleRegisterAgent,
	})

	d.registry.Register(ToolDefinition{
		Name:        "request_next_task",
		Description: "Request the best eligible task under a lease",
		Roles:       agentRoles,
		Parameters: map[string]ParameterDef{
			"agent_id": {Type: "string", Description: "Requesting agent", Required: true},
		},
		Handler: d.handleRequestNextTask,
	})

	d.registry.Register(ToolDefinition{
		Name:        "report_task_progress",
		Description: "Report task status progress",
		Roles:       agentRoles,
		Parameters: map[string]ParameterDef{
			"task_id": {Type: "string", Description: "Task being reported", Required: true},
			"status":  {Type: "string", Description: "in_progress, completed, blocked, or failed", Required: true},
			"percent": {Type: "number", Description: "Completion percentage"},
			"notes":   {Type: "string", Description: "Free-form progress notes"},
		},
		Handler: d.handleReportProgress,
	})

	d.registry.Register(ToolDefinition{
		Name:        "report_blocker",
		Description: "Report a blocker on a task",
		Roles:       agentRoles,
		Parameters: map[string]ParameterDef{
			"task_id":     {Type: "string", Description: "Blocked task", Required: true},
			"description": {Type: "string", Description: "What is blocking", Required: true},
			"severity":    {Type: "string", Description: "low, medium, or high", Required: true},
		},
		Handler: d.handleReportBlocker,
	})

	d.registry.Register(ToolDefinition{
		Name:        "log_decision",
		Description: "Record an architectural or implementation decision",
		Roles:       writeRoles,
		Parameters: map[string]ParameterDef{
			"task_id":        {Type: "string", Description: "Related task", Required: true},
			"what":           {Type: "string", Description: "The decision", Required: true},
			"why":            {Type: "string", Description: "The rationale", Required: true},
			"impact":         {Type: "string", Description: "low, medium, major, or critical", Required: true},
			"affected_tasks": {Type: "array", Description: "Other task IDs affected"},
			"confidence":     {Type: "number", Description: "Confidence in [0,1]"},
		},
		Handler: d.handleLogDecision,
	})

	d.registry.Register(ToolDefinition{
		Name:        "log_artifact",
		Description: "Record metadata for a produced file",
		Roles:       writeRoles,
		Parameters: map[string]ParameterDef{
			"task_id":       {Type: "string", Description: "Producing task", Required: true},
			"filename":      {Type: "string", Description: "Artifact file name", Required: true},
			"artifact_type": {Type: "string", Description: "code, doc, config, ...", Required: true},
			"description":   {Type: "string", Description: "What the artifact is", Required: true},
			"relative_path": {Type: "string", Description: "Path inside the project"},
			"absolute_path": {Type: "string", Description: "Absolute path on disk"},
			"size_bytes":    {Type: "number", Description: "File size"},
			"sha256":        {Type: "string", Description: "Content hash"},
		},
		Handler: d.handleLogArtifact,
	})

	d.registry.Register(ToolDefinition{
		Name:        "create_project",
		Description: "Create a project (or resolve one, depending on mode)",
		Roles:       devRoles,
		Parameters: map[string]ParameterDef{
			"name":        {Type: "string", Description: "Project name", Required: true},
			"description": {Type: "string", Description: "Project description", Required: true},
			"options":     {Type: "object", Description: "mode and optional project_id"},
		},
		Handler: d.handleCreateProject,
	})

	d.registry.Register(ToolDefinition{
		Name:        "switch_project",
		Description: "Make another project the active one",
		Roles:       devRoles,
		Parameters: map[string]ParameterDef{
			"project_id": {Type: "string", Description: "Target project ID"},
			"name":       {Type: "string", Description: "Target project name"},
		},
		Handler: d.handleSwitchProject,
	})

	d.registry.Register(ToolDefinition{
		Name:        "list_projects",
		Description: "Enumerate known projects",
		Roles:       devRoles,
		Parameters:  map[string]ParameterDef{},
		Handler:     d.handleListProjects,
	})

	d.registry.Register(ToolDefinition{
		Name:        "get_project_status",
		Description: "Summarize a project's task totals and completion",
		Roles:       allRoles,
		Parameters: map[string]ParameterDef{
			"project_id": {Type: "string", Description: "Defaults to the active project"},
		},
		Handler: d.handleProjectStatus,
	})

	d.registry.Register(ToolDefinition{
		Name:        "get_task_context",
		Description: "Fetch a task with its decisions, artifacts, and conversation excerpts",
		Roles:       allRoles,
		Parameters: map[string]ParameterDef{
			"task_id": {Type: "string", Description: "Task to inspect", Required: true},
		},
		Handler: d.handleTaskContext,
	})

	d.registry.Register(ToolDefinition{
		Name:        "ping",
		Description: "Liveness check",
		Roles:       allRoles,
		Parameters:  map[string]ParameterDef{},
		Handler:     d.handlePing,
	})
}

func (d *Dispatcher) handleAuthenticate(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	role := types.Role(argString(args, "role"))
	if !types.ValidRole(role) {
		return nil, errs.Newf(errs.KindSecurity, "unknown role %q", role).WithOp("authenticate")
	}

	id := argString(args, "client_id")
	if id == "" {
		id = clientID
	}
	d.setRole(id, role)
	if id != clientID {
		d.setRole(clientID, role)
	}

	return map[string]interface{}{
		"success":         true,
		"role":            string(role),
		"available_tools": d.registry.ListFor(role),
	}, nil
}

func (d *Dispatcher) handleRegisterAgent(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	pc, err := d.projects.RequireCurrent()
	if err != nil {
		return nil, err
	}

	agent := &types.Agent{
		ID:           argString(args, "agent_id"),
		Name:         argString(args, "name"),
		Role:         d.roleOf(clientID),
		Capabilities: argStrings(args, "capabilities"),
	}
	pc.RegisterAgent(ctx, agent)
	pc.Heartbeat(agent.ID)

	return map[string]interface{}{
		"registered":      true,
		"agent_id":        agent.ID,
		"available_tools": d.registry.ListFor(agent.Role),
	}, nil
}

func (d *Dispatcher) handleRequestNextTask(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	pc, err := d.projects.RequireCurrent()
	if err != nil {
		return nil, err
	}

	agentID := argString(args, "agent_id")
	pc.Heartbeat(agentID)

	task, err := pc.RequestNextTask(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return map[string]interface{}{"task": nil}, nil
	}
	return map[string]interface{}{"task": task}, nil
}

func (d *Dispatcher) handleReportProgress(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	pc, err := d.projects.RequireCurrent()
	if err != nil {
		return nil, err
	}

	taskID := argString(args, "task_id")
	status := tasks.Status(argString(args, "status"))
	if err := pc.ReportProgress(ctx, taskID, status); err != nil {
		return nil, err
	}
	return map[string]interface{}{"acknowledged": true, "task_id": taskID, "status": string(status)}, nil
}

func (d *Dispatcher) handleReportBlocker(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	pc, err := d.projects.RequireCurrent()
	if err != nil {
		return nil, err
	}

	taskID := argString(args, "task_id")
	description := argString(args, "description")
	severity := argString(args, "severity")

	if err := pc.ReportProgress(ctx, taskID, tasks.StatusBlocked); err != nil {
		return nil, err
	}

	if d.notifier != nil {
		sev := notify.SeverityWarning
		if severity == "high" {
			sev = notify.SeverityCritical
		}
		d.notifier.Notify(notify.Alert{
			Severity:  sev,
			Title:     "Task blocked",
			Message:   description,
			ProjectID: pc.ProjectID,
			TaskID:    taskID,
			AgentID:   clientID,
		})
	}

	return map[string]interface{}{
		"acknowledged": true,
		"task_id":      taskID,
		"severity":     severity,
		"suggestions":  blockerSuggestions(description, severity),
	}, nil
}

// blockerSuggestions returns deterministic rule-based hints; report_blocker
// always uses them and does not call the external classifier
func blockerSuggestions(description, severity string) []string {
	suggestions := []string{
		"Log a decision capturing what was tried and why it failed",
	}
	lower := strings.ToLower(description)
	switch {
	case strings.Contains(lower, "depend"):
		suggestions = append(suggestions, "Check whether a prerequisite task is incomplete and report it")
	case strings.Contains(lower, "credential"), strings.Contains(lower, "permission"), strings.Contains(lower, "access"):
		suggestions = append(suggestions, "Verify credentials and access configuration before retrying")
	case strings.Contains(lower, "test"):
		suggestions = append(suggestions, "Isolate the failing test and attach its output as an artifact")
	default:
		suggestions = append(suggestions, "Break the task into smaller pieces and report which piece blocks")
	}
	if severity == "high" {
		suggestions = append(suggestions, "Escalate: high-severity blockers pause dependent work")
	}
	return suggestions
}

func (d *Dispatcher) handleLogDecision(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	decision := &journal.Decision{
		ProjectID:     d.projects.ActiveID(),
		TaskID:        argString(args, "task_id"),
		AgentID:       clientID,
		What:          argString(args, "what"),
		Why:           argString(args, "why"),
		Impact:        journal.Impact(argString(args, "impact")),
		AffectedTasks: argStrings(args, "affected_tasks"),
		Confidence:    argFloat(args, "confidence", 1.0),
	}

	recorded, err := d.journal.RecordDecision(ctx, decision)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"decision_id": recorded.ID}, nil
}

func (d *Dispatcher) handleLogArtifact(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	artifact := &journal.Artifact{
		ProjectID:    d.projects.ActiveID(),
		TaskID:       argString(args, "task_id"),
		AgentID:      clientID,
		ArtifactType: argString(args, "artifact_type"),
		Filename:     argString(args, "filename"),
		RelativePath: argString(args, "relative_path"),
		AbsolutePath: argString(args, "absolute_path"),
		Description:  argString(args, "description"),
		SizeBytes:    int64(argFloat(args, "size_bytes", 0)),
		SHA256:       argString(args, "sha256"),
	}

	recorded, err := d.journal.RecordArtifact(ctx, artifact)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"artifact_id": recorded.ID}, nil
}

func (d *Dispatcher) handleCreateProject(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	name := argString(args, "name")
	description := argString(args, "description")

	mode := project.ModeNewProject
	projectID := ""
	if opts, ok := args["options"].(map[string]interface{}); ok {
		if m := argString(opts, "mode"); m != "" {
			mode = project.CreateMode(m)
		}
		projectID = argString(opts, "project_id")
	}

	pc, err := d.projects.Create(ctx, name, description, mode, projectID)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{"project_id": pc.ProjectID}

	// Seed the task graph from the external producer when one is wired
	// and this was a fresh creation
	if d.producer != nil && pc.Pool.Len() == 0 && description != "" {
		opts, _ := args["options"].(map[string]interface{})
		generated, err := d.producer.Generate(ctx, description, opts)
		if err != nil {
			return nil, err
		}
		warnings, err := pc.SubmitTasks(ctx, generated)
		if err != nil {
			return nil, err
		}
		result["task_count"] = len(generated)
		if len(warnings) > 0 {
			result["warnings"] = warnings
		}
	}
	return result, nil
}

func (d *Dispatcher) handleSwitchProject(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	projectID := argString(args, "project_id")
	name := argString(args, "name")
	if projectID == "" && name == "" {
		return nil, errs.New(errs.KindBusinessLogic, "switch_project needs project_id or name").WithOp("switch_project")
	}

	if projectID == "" {
		list, err := d.projects.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range list {
			if p.Name == name {
				projectID = p.ProjectID
				break
			}
		}
		if projectID == "" {
			return nil, fmt.Errorf("switch_project %q: %w", name, errs.ErrNotFound)
		}
	}

	if _, err := d.projects.Switch(ctx, projectID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "active_project_id": projectID}, nil
}

func (d *Dispatcher) handleListProjects(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	list, err := d.projects.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"projects": list}, nil
}

func (d *Dispatcher) handleProjectStatus(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	projectID := argString(args, "project_id")

	var pc *project.Context
	var err error
	if projectID == "" || projectID == d.projects.ActiveID() {
		pc, err = d.projects.RequireCurrent()
	} else {
		pc, err = d.projects.GetOrCreate(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	return pc.Status(), nil
}

func (d *Dispatcher) handleTaskContext(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	pc, err := d.projects.RequireCurrent()
	if err != nil {
		return nil, err
	}

	taskID := argString(args, "task_id")
	task := pc.Pool.Get(taskID)
	if task == nil {
		return nil, fmt.Errorf("get_task_context %s: %w", taskID, errs.ErrNotFound)
	}

	decisions, err := d.journal.DecisionsForTask(ctx, pc.ProjectID, taskID)
	if err != nil {
		return nil, err
	}
	artifacts, err := d.journal.ArtifactsForTask(ctx, pc.ProjectID, taskID)
	if err != nil {
		return nil, err
	}

	var excerpts []journal.ConvEntry
	if d.convlog != nil {
		excerpts, err = d.convlog.Read(func(e journal.ConvEntry) bool {
			return e.Metadata.ProjectID == pc.ProjectID && e.Metadata.TaskID == taskID
		}, 20, 0)
		if err != nil {
			return nil, err
		}
	}

	return map[string]interface{}{
		"task":          task,
		"decisions":     decisions,
		"artifacts":     artifacts,
		"conversations": excerpts,
	}, nil
}

func (d *Dispatcher) handlePing(ctx context.Context, clientID string, args map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"pong":           true,
		"instance_id":    d.instanceID,
		"uptime_seconds": int(d.Uptime().Seconds()),
	}, nil
}
