package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/service"
)

// TaskHandler handles scheduled task endpoints.
type TaskHandler struct {
	tasks *service.TaskService
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// CreateTaskRequest is the request body for creating a task.
type CreateTaskRequest struct {
	Name        string `json:"name" doc:"Task name" minLength:"1" maxLength:"255"`
	Description string `json:"description,omitempty" doc:"Optional description" maxLength:"1024"`
	Type        string `json:"type" doc:"Job type" enum:"batch_image,sample_image,video"`
	Cron        string `json:"cron" doc:"5-field cron expression (minute hour dom month dow)" minLength:"1" maxLength:"100"`
	Enabled     *bool  `json:"enabled,omitempty" doc:"Whether the cron schedule fires (default: true)"`

	Config models.TaskConfig `json:"config" doc:"Input enumeration and detection configuration"`
	Output models.TaskOutput `json:"output,omitempty" doc:"Report output and retention"`
}

// ToModel converts the request to a task model.
func (r *CreateTaskRequest) ToModel() *models.Task {
	return &models.Task{
		Name:        r.Name,
		Description: r.Description,
		Type:        models.TaskType(r.Type),
		Cron:        r.Cron,
		Enabled:     r.Enabled,
		Config:      r.Config,
		Output:      r.Output,
	}
}

// UpdateTaskRequest is the request body for updating a task. Omitted
// fields keep their current values.
type UpdateTaskRequest struct {
	Name        *string `json:"name,omitempty" doc:"Task name" maxLength:"255"`
	Description *string `json:"description,omitempty" doc:"Optional description" maxLength:"1024"`
	Type        *string `json:"type,omitempty" doc:"Job type" enum:"batch_image,sample_image,video"`
	Cron        *string `json:"cron,omitempty" doc:"5-field cron expression" maxLength:"100"`
	Enabled     *bool   `json:"enabled,omitempty" doc:"Whether the cron schedule fires"`

	Config *models.TaskConfig `json:"config,omitempty" doc:"Input enumeration and detection configuration"`
	Output *models.TaskOutput `json:"output,omitempty" doc:"Report output and retention"`
}

// ApplyToModel applies the update request to an existing task.
func (r *UpdateTaskRequest) ApplyToModel(t *models.Task) {
	if r.Name != nil {
		t.Name = *r.Name
	}
	if r.Description != nil {
		t.Description = *r.Description
	}
	if r.Type != nil {
		t.Type = models.TaskType(*r.Type)
	}
	if r.Cron != nil {
		t.Cron = *r.Cron
	}
	if r.Enabled != nil {
		t.Enabled = r.Enabled
	}
	if r.Config != nil {
		t.Config = *r.Config
	}
	if r.Output != nil {
		t.Output = *r.Output
	}
}

// CreateTaskInput is the input for creating a task.
type CreateTaskInput struct {
	Body CreateTaskRequest
}

// UpdateTaskInput is the input for updating a task.
type UpdateTaskInput struct {
	ID   string `path:"id" doc:"Task ID (ULID)"`
	Body UpdateTaskRequest
}

// TaskIDInput identifies a task by path parameter.
type TaskIDInput struct {
	ID string `path:"id" doc:"Task ID (ULID)"`
}

// TaskOutputBody carries one task.
type TaskOutputBody struct {
	Body models.Task
}

// ListTasksInput is the input for listing tasks.
type ListTasksInput struct{}

// ListTasksOutput is the output for listing tasks.
type ListTasksOutput struct {
	Body struct {
		Tasks []*models.Task `json:"tasks"`
	}
}

// DeleteTaskOutput is the output for deleting a task.
type DeleteTaskOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// RunTaskOutput is the output for a manual trigger.
type RunTaskOutput struct {
	Body models.Execution
}

// ListTaskExecutionsInput is the input for listing one task's executions.
type ListTaskExecutionsInput struct {
	ID    string `path:"id" doc:"Task ID (ULID)"`
	Limit int    `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Maximum executions to return"`
}

// ListExecutionsInput is the input for listing executions across tasks.
type ListExecutionsInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Maximum executions to return"`
}

// ExecutionsOutput is the output for execution listings.
type ExecutionsOutput struct {
	Body struct {
		Executions []*models.Execution `json:"executions"`
	}
}

// ValidateCronInput is the input for cron validation.
type ValidateCronInput struct {
	Body ValidateCronRequest
}

// ValidateCronOutput is the output for cron validation.
type ValidateCronOutput struct {
	Body ValidateCronResponse
}

// Register registers the task routes with the API.
func (h *TaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "createTask",
		Method:      "POST",
		Path:        "/api/v1/tasks",
		Summary:     "Create task",
		Description: "Creates a cron-driven diagnosis task",
		Tags:        []string{"Tasks"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/api/v1/tasks",
		Summary:     "List tasks",
		Description: "Returns every task definition",
		Tags:        []string{"Tasks"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getTask",
		Method:      "GET",
		Path:        "/api/v1/tasks/{id}",
		Summary:     "Get task",
		Description: "Returns a task by ID",
		Tags:        []string{"Tasks"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateTask",
		Method:      "PUT",
		Path:        "/api/v1/tasks/{id}",
		Summary:     "Update task",
		Description: "Updates a task definition; omitted fields keep their current values",
		Tags:        []string{"Tasks"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteTask",
		Method:      "DELETE",
		Path:        "/api/v1/tasks/{id}",
		Summary:     "Delete task",
		Description: "Removes the task definition; execution history is preserved",
		Tags:        []string{"Tasks"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "enableTask",
		Method:      "POST",
		Path:        "/api/v1/tasks/{id}/enable",
		Summary:     "Enable task",
		Description: "Enables cron scheduling and recomputes the next run time",
		Tags:        []string{"Tasks"},
	}, h.Enable)

	huma.Register(api, huma.Operation{
		OperationID: "disableTask",
		Method:      "POST",
		Path:        "/api/v1/tasks/{id}/disable",
		Summary:     "Disable task",
		Description: "Disables cron scheduling; manual runs stay allowed",
		Tags:        []string{"Tasks"},
	}, h.Disable)

	huma.Register(api, huma.Operation{
		OperationID: "runTask",
		Method:      "POST",
		Path:        "/api/v1/tasks/{id}/run",
		Summary:     "Run task now",
		Description: "Triggers an immediate manual execution",
		Tags:        []string{"Tasks"},
	}, h.Run)

	huma.Register(api, huma.Operation{
		OperationID: "listTaskExecutions",
		Method:      "GET",
		Path:        "/api/v1/tasks/{id}/executions",
		Summary:     "List task executions",
		Description: "Returns execution history for one task, newest first",
		Tags:        []string{"Tasks"},
	}, h.ListTaskExecutions)

	huma.Register(api, huma.Operation{
		OperationID: "listExecutions",
		Method:      "GET",
		Path:        "/api/v1/executions",
		Summary:     "List executions",
		Description: "Returns execution history across all tasks, newest first",
		Tags:        []string{"Tasks"},
	}, h.ListExecutions)

	huma.Register(api, huma.Operation{
		OperationID: "validateCron",
		Method:      "POST",
		Path:        "/api/v1/tasks/cron/validate",
		Summary:     "Validate cron expression",
		Description: "Validates a 5-field cron expression and returns the next fire time",
		Tags:        []string{"Tasks"},
	}, h.ValidateCron)
}

// Create creates a task.
func (h *TaskHandler) Create(_ context.Context, input *CreateTaskInput) (*TaskOutputBody, error) {
	task, err := h.tasks.Create(input.Body.ToModel())
	if err != nil {
		return nil, serviceError(err)
	}
	return &TaskOutputBody{Body: *task}, nil
}

// List returns every task.
func (h *TaskHandler) List(_ context.Context, _ *ListTasksInput) (*ListTasksOutput, error) {
	tasks, err := h.tasks.List()
	if err != nil {
		return nil, serviceError(err)
	}
	resp := &ListTasksOutput{}
	resp.Body.Tasks = tasks
	return resp, nil
}

// Get returns a task by ID.
func (h *TaskHandler) Get(_ context.Context, input *TaskIDInput) (*TaskOutputBody, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID", err)
	}
	task, err := h.tasks.Get(id)
	if err != nil {
		return nil, serviceError(err)
	}
	return &TaskOutputBody{Body: *task}, nil
}

// Update updates a task definition.
func (h *TaskHandler) Update(_ context.Context, input *UpdateTaskInput) (*TaskOutputBody, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID", err)
	}

	task, err := h.tasks.Get(id)
	if err != nil {
		return nil, serviceError(err)
	}

	input.Body.ApplyToModel(task)
	updated, err := h.tasks.Update(task)
	if err != nil {
		return nil, serviceError(err)
	}
	return &TaskOutputBody{Body: *updated}, nil
}

// Delete removes a task definition.
func (h *TaskHandler) Delete(_ context.Context, input *TaskIDInput) (*DeleteTaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID", err)
	}
	if err := h.tasks.Delete(id); err != nil {
		return nil, serviceError(err)
	}
	resp := &DeleteTaskOutput{}
	resp.Body.Deleted = true
	return resp, nil
}

// Enable enables cron scheduling for a task.
func (h *TaskHandler) Enable(ctx context.Context, input *TaskIDInput) (*TaskOutputBody, error) {
	return h.setEnabled(input.ID, true)
}

// Disable disables cron scheduling for a task.
func (h *TaskHandler) Disable(ctx context.Context, input *TaskIDInput) (*TaskOutputBody, error) {
	return h.setEnabled(input.ID, false)
}

func (h *TaskHandler) setEnabled(rawID string, enabled bool) (*TaskOutputBody, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID", err)
	}
	task, err := h.tasks.SetEnabled(id, enabled)
	if err != nil {
		return nil, serviceError(err)
	}
	return &TaskOutputBody{Body: *task}, nil
}

// Run triggers an immediate manual execution.
func (h *TaskHandler) Run(_ context.Context, input *TaskIDInput) (*RunTaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID", err)
	}
	exec, err := h.tasks.Run(id)
	if err != nil {
		return nil, serviceError(err)
	}
	return &RunTaskOutput{Body: *exec}, nil
}

// ListTaskExecutions returns execution history for one task.
func (h *TaskHandler) ListTaskExecutions(_ context.Context, input *ListTaskExecutionsInput) (*ExecutionsOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID", err)
	}
	execs, err := h.tasks.ListExecutions(&id, input.Limit)
	if err != nil {
		return nil, serviceError(err)
	}
	resp := &ExecutionsOutput{}
	resp.Body.Executions = execs
	return resp, nil
}

// ListExecutions returns execution history across all tasks.
func (h *TaskHandler) ListExecutions(_ context.Context, input *ListExecutionsInput) (*ExecutionsOutput, error) {
	execs, err := h.tasks.ListExecutions(nil, input.Limit)
	if err != nil {
		return nil, serviceError(err)
	}
	resp := &ExecutionsOutput{}
	resp.Body.Executions = execs
	return resp, nil
}

// ValidateCron validates a cron expression.
func (h *TaskHandler) ValidateCron(_ context.Context, input *ValidateCronInput) (*ValidateCronOutput, error) {
	resp := &ValidateCronOutput{}
	if err := h.tasks.ValidateCron(input.Body.Expression); err != nil {
		resp.Body.Valid = false
		resp.Body.Error = err.Error()
		return resp, nil
	}

	resp.Body.Valid = true
	if next, err := h.tasks.NextRun(input.Body.Expression); err == nil {
		resp.Body.NextRun = next.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return resp, nil
}
