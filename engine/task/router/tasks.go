package tkrouter

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danmincu/pulstrate/engine/infra/server/router"
	"github.com/danmincu/pulstrate/engine/streaming"
	"github.com/danmincu/pulstrate/engine/task"
)

// respondServiceError translates task service errors into the HTTP error
// envelope. Reads collapse foreign tasks into 404 so callers cannot probe for
// other owners' task ids; writes distinguish 403.
func respondServiceError(c *gin.Context, err error, write bool) {
	status := http.StatusInternalServerError
	reason := "internal error"
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		status, reason = http.StatusNotFound, "task not found"
	case errors.Is(err, task.ErrForbidden):
		if write {
			status, reason = http.StatusForbidden, "task belongs to another owner"
		} else {
			status, reason = http.StatusNotFound, "task not found"
		}
	case errors.Is(err, task.ErrInvalidState):
		status, reason = http.StatusConflict, "task state does not allow this operation"
	case errors.Is(err, task.ErrInvalidRequest):
		status, reason = http.StatusBadRequest, "invalid request"
	}
	reqErr := router.NewRequestError(status, reason, err)
	router.RespondWithError(c, reqErr.StatusCode, reqErr)
}

// listTasks lists every task owned by the caller
//
//	@Summary		List tasks
//	@Description	Retrieve all tasks owned by the calling owner, roots and subtasks alike
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			X-Owner-ID	header		string							true	"Owner id"	example("team-billing")
//	@Success		200			{object}	router.Response{data=object{tasks=[]task.Item}}	"Tasks retrieved"
//	@Failure		400			{object}	router.ErrorResponse			"Missing owner header"
//	@Failure		500			{object}	router.ErrorResponse			"Internal server error"
//	@Router			/tasks [get]
func listTasks(c *gin.Context) {
	owner := router.GetOwnerID(c)
	if owner == "" {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	items, err := state.Service.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		respondServiceError(c, err, false)
		return
	}
	router.RespondOK(c, "tasks retrieved", gin.H{"tasks": items})
}

// getTask retrieves a single task by ID
//
//	@Summary		Get task
//	@Description	Retrieve a task by id. Tasks owned by other callers read as not found.
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			X-Owner-ID	header		string						true	"Owner id"	example("team-billing")
//	@Param			task_id		path		string						true	"Task ID"	example("0d0f53e0-87a4-4aa1-bb1e-1d9b301e7a82")
//	@Success		200			{object}	router.Response{data=task.Item}	"Task retrieved"
//	@Failure		400			{object}	router.ErrorResponse		"Invalid task ID"
//	@Failure		404			{object}	router.ErrorResponse		"Task not found"
//	@Router			/tasks/{task_id} [get]
func getTask(c *gin.Context) {
	owner := router.GetOwnerID(c)
	if owner == "" {
		return
	}
	taskID := router.GetTaskID(c)
	if taskID.IsZero() {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	item, err := state.Service.Get(c.Request.Context(), owner, taskID)
	if err != nil {
		respondServiceError(c, err, false)
		return
	}
	router.RespondOK(c, "task retrieved", item)
}

// listTaskChildren lists the direct children of a task
//
//	@Summary		List task children
//	@Description	Retrieve the direct subtasks of a task in creation order
//	@Tags			tasks
//	@Produce		json
//	@Param			X-Owner-ID	header		string	true	"Owner id"
//	@Param			task_id		path		string	true	"Task ID"
//	@Success		200			{object}	router.Response{data=object{children=[]task.Item}}	"Children retrieved"
//	@Failure		404			{object}	router.ErrorResponse	"Task not found"
//	@Router			/tasks/{task_id}/children [get]
func listTaskChildren(c *gin.Context) {
	owner := router.GetOwnerID(c)
	if owner == "" {
		return
	}
	taskID := router.GetTaskID(c)
	if taskID.IsZero() {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	items, err := state.Service.Children(c.Request.Context(), owner, taskID)
	if err != nil {
		respondServiceError(c, err, false)
		return
	}
	router.RespondOK(c, "task children retrieved", gin.H{"children": items})
}

// listTaskDescendants lists every task below a task, depth first
//
//	@Summary		List task descendants
//	@Description	Retrieve the whole subtree below a task, excluding the task itself
//	@Tags			tasks
//	@Produce		json
//	@Param			X-Owner-ID	header		string	true	"Owner id"
//	@Param			task_id		path		string	true	"Task ID"
//	@Success		200			{object}	router.Response{data=object{descendants=[]task.Item}}	"Descendants retrieved"
//	@Failure		404			{object}	router.ErrorResponse	"Task not found"
//	@Router			/tasks/{task_id}/descendants [get]
func listTaskDescendants(c *gin.Context) {
	owner := router.GetOwnerID(c)
	if owner == "" {
		return
	}
	taskID := router.GetTaskID(c)
	if taskID.IsZero() {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	items, err := state.Service.Descendants(c.Request.Context(), owner, taskID)
	if err != nil {
		respondServiceError(c, err, false)
		return
	}
	router.RespondOK(c, "task descendants retrieved", gin.H{"descendants": items})
}

// getTaskHistory returns the recorded event history of a task
//
//	@Summary		Get task history
//	@Description	Retrieve the recorded event envelopes of a history-tracked task. Aggregated progress roll-ups are excluded unless include_aggregated is set.
//	@Tags			tasks
//	@Produce		json
//	@Param			X-Owner-ID			header		string	true	"Owner id"
//	@Param			task_id				path		string	true	"Task ID"
//	@Param			include_aggregated	query		bool	false	"Include aggregated progress events"	example(true)
//	@Success		200					{object}	router.Response{data=object{events=[]streaming.Envelope}}	"History retrieved"
//	@Failure		404					{object}	router.ErrorResponse	"Task not found"
//	@Router			/tasks/{task_id}/history [get]
func getTaskHistory(c *gin.Context) {
	owner := router.GetOwnerID(c)
	if owner == "" {
		return
	}
	taskID := router.GetTaskID(c)
	if taskID.IsZero() {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	if _, err := state.Service.Get(c.Request.Context(), owner, taskID); err != nil {
		respondServiceError(c, err, false)
		return
	}
	var entries []streaming.Envelope
	if state.History != nil {
		entries = state.History.Entries(taskID, c.Query("include_aggregated") == "true")
	}
	if entries == nil {
		entries = []streaming.Envelope{}
	}
	router.RespondOK(c, "task history retrieved", gin.H{"events": entries})
}
