package tkrouter

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/danmincu/pulstrate/engine/infra/server/router"
	"github.com/danmincu/pulstrate/engine/task"
)

// createTask creates a root task
//
//	@Summary		Create task
//	@Description	Create a task for the calling owner. The task starts queued and is picked up by the dispatcher. An Authorization bearer token, when present, is snapshotted onto the task and inherited by its subtree.
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			X-Owner-ID	header		string						true	"Owner id"	example("team-billing")
//	@Param			request		body		task.CreateRequest			true	"Task to create"
//	@Success		201			{object}	router.Response{data=task.Item}	"Task created"
//	@Failure		400			{object}	router.ErrorResponse		"Invalid request"
//	@Failure		404			{object}	router.ErrorResponse		"Parent task not found"
//	@Router			/tasks [post]
func createTask(c *gin.Context) {
	owner := router.GetOwnerID(c)
	if owner == "" {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	req := &task.CreateRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		reqErr := router.NewRequestError(http.StatusBadRequest, "invalid request body", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	item, err := state.Service.Create(c.Request.Context(), owner, req, router.BearerToken(c))
	if err != nil {
		respondServiceError(c, err, true)
		return
	}
	router.RespondCreated(c, "task created", item)
}

// createTaskHierarchy creates a whole task tree in one request
//
//	@Summary		Create task hierarchy
//	@Description	Create a root task together with its nested subtasks in a single atomic request. Either the whole tree is created or nothing is.
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			X-Owner-ID	header		string						true	"Owner id"
//	@Param			request		body		task.TreeRequest			true	"Task tree to create"
//	@Success		201			{object}	router.Response{data=task.Item}	"Root task created"
//	@Failure		400			{object}	router.ErrorResponse		"Invalid request"
//	@Router			/tasks/hierarchy [post]
func createTaskHierarchy(c *gin.Context) {
	owner := router.GetOwnerID(c)
	if owner == "" {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	req := &task.TreeRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		reqErr := router.NewRequestError(http.StatusBadRequest, "invalid request body", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	item, err := state.Service.CreateHierarchy(c.Request.Context(), owner, req, router.BearerToken(c))
	if err != nil {
		respondServiceError(c, err, true)
		return
	}
	router.RespondCreated(c, "task hierarchy created", item)
}

// updateTask changes the priority and/or payload of a queued task
//
//	@Summary		Update queued task
//	@Description	Change the priority and/or payload of a task that is still queued. A priority change re-sorts the task into its new priority band.
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			X-Owner-ID	header		string						true	"Owner id"
//	@Param			task_id		path		string						true	"Task ID"
//	@Param			request		body		task.UpdateRequest			true	"Fields to update"
//	@Success		200			{object}	router.Response{data=task.Item}	"Task updated"
//	@Failure		400			{object}	router.ErrorResponse		"Invalid request"
//	@Failure		403			{object}	router.ErrorResponse		"Task belongs to another owner"
//	@Failure		404			{object}	router.ErrorResponse		"Task not found"
//	@Failure		409			{object}	router.ErrorResponse		"Task is no longer queued"
//	@Router			/tasks/{task_id} [patch]
func updateTask(c *gin.Context) {
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
	req := &task.UpdateRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		reqErr := router.NewRequestError(http.StatusBadRequest, "invalid request body", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	item, err := state.Service.UpdateQueued(c.Request.Context(), owner, taskID, req)
	if err != nil {
		respondServiceError(c, err, true)
		return
	}
	router.RespondOK(c, "task updated", item)
}

// cancelTask cancels a single task
//
//	@Summary		Cancel task
//	@Description	Move a queued or executing task to Cancelled. Already terminal tasks are a no-op returning the current snapshot. Children are untouched.
//	@Tags			tasks
//	@Produce		json
//	@Param			X-Owner-ID	header		string						true	"Owner id"
//	@Param			task_id		path		string						true	"Task ID"
//	@Success		200			{object}	router.Response{data=task.Item}	"Task cancelled"
//	@Failure		403			{object}	router.ErrorResponse		"Task belongs to another owner"
//	@Failure		404			{object}	router.ErrorResponse		"Task not found"
//	@Router			/tasks/{task_id}/cancel [post]
func cancelTask(c *gin.Context) {
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
	item, err := state.Service.Cancel(c.Request.Context(), owner, taskID)
	if err != nil {
		respondServiceError(c, err, true)
		return
	}
	router.RespondOK(c, "task cancelled", item)
}

// cancelTaskSubtree cancels a task and every live descendant
//
//	@Summary		Cancel task subtree
//	@Description	Cancel every live descendant leaves first, then the task itself
//	@Tags			tasks
//	@Produce		json
//	@Param			X-Owner-ID	header		string						true	"Owner id"
//	@Param			task_id		path		string						true	"Task ID"
//	@Success		200			{object}	router.Response{data=task.Item}	"Subtree cancelled"
//	@Failure		403			{object}	router.ErrorResponse		"Task belongs to another owner"
//	@Failure		404			{object}	router.ErrorResponse		"Task not found"
//	@Router			/tasks/{task_id}/cancel_subtree [post]
func cancelTaskSubtree(c *gin.Context) {
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
	item, err := state.Service.CancelSubtree(c.Request.Context(), owner, taskID)
	if err != nil {
		respondServiceError(c, err, true)
		return
	}
	router.RespondOK(c, "task subtree cancelled", item)
}

// deleteTask removes a single task
//
//	@Summary		Delete task
//	@Description	Remove a task, cancelling it first when it is still live
//	@Tags			tasks
//	@Param			X-Owner-ID	header	string	true	"Owner id"
//	@Param			task_id		path	string	true	"Task ID"
//	@Success		204			"Task deleted"
//	@Failure		403			{object}	router.ErrorResponse	"Task belongs to another owner"
//	@Failure		404			{object}	router.ErrorResponse	"Task not found"
//	@Router			/tasks/{task_id} [delete]
func deleteTask(c *gin.Context) {
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
	if err := state.Service.Delete(c.Request.Context(), owner, taskID); err != nil {
		respondServiceError(c, err, true)
		return
	}
	c.Status(http.StatusNoContent)
}

// deleteTaskSubtree removes a task and its whole subtree
//
//	@Summary		Delete task subtree
//	@Description	Cancel and remove a task together with every descendant, leaves first
//	@Tags			tasks
//	@Param			X-Owner-ID	header	string	true	"Owner id"
//	@Param			task_id		path	string	true	"Task ID"
//	@Success		204			"Subtree deleted"
//	@Failure		403			{object}	router.ErrorResponse	"Task belongs to another owner"
//	@Failure		404			{object}	router.ErrorResponse	"Task not found"
//	@Router			/tasks/{task_id}/subtree [delete]
func deleteTaskSubtree(c *gin.Context) {
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
	if err := state.Service.DeleteSubtree(c.Request.Context(), owner, taskID); err != nil {
		respondServiceError(c, err, true)
		return
	}
	c.Status(http.StatusNoContent)
}

// addSubtasks attaches one or more subtasks to a live parent
//
//	@Summary		Add subtasks
//	@Description	Attach subtasks to a queued or executing parent. The body is either a single task object or an array of them; subtasks inherit the parent's group and auth token.
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			X-Owner-ID	header		string						true	"Owner id"
//	@Param			task_id		path		string						true	"Parent task ID"
//	@Param			request		body		task.CreateRequest			true	"Subtask (or array of subtasks) to create"
//	@Success		201			{object}	router.Response{data=task.Item}	"Subtask created"
//	@Failure		400			{object}	router.ErrorResponse		"Invalid request"
//	@Failure		404			{object}	router.ErrorResponse		"Parent task not found"
//	@Failure		409			{object}	router.ErrorResponse		"Parent is terminal"
//	@Router			/tasks/{task_id}/subtasks [post]
func addSubtasks(c *gin.Context) {
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
	body, err := c.GetRawData()
	if err != nil {
		reqErr := router.NewRequestError(http.StatusBadRequest, "failed to read request body", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	if gjson.ParseBytes(body).IsArray() {
		var reqs []task.CreateRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			reqErr := router.NewRequestError(http.StatusBadRequest, "invalid request body", err)
			router.RespondWithError(c, reqErr.StatusCode, reqErr)
			return
		}
		items, err := state.Service.AddSubtasks(c.Request.Context(), owner, taskID, reqs)
		if err != nil {
			respondServiceError(c, err, true)
			return
		}
		router.RespondCreated(c, "subtasks created", gin.H{"tasks": items})
		return
	}
	req := &task.CreateRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		reqErr := router.NewRequestError(http.StatusBadRequest, "invalid request body", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	item, err := state.Service.AddSubtask(c.Request.Context(), owner, taskID, req)
	if err != nil {
		respondServiceError(c, err, true)
		return
	}
	router.RespondCreated(c, "subtask created", item)
}

// setTaskOutput records the output blob of an executing task
//
//	@Summary		Set task output
//	@Description	Record the raw output of an executing task. The body is stored verbatim; parent hooks read it after completion.
//	@Tags			tasks
//	@Accept			*/*
//	@Produce		json
//	@Param			X-Owner-ID	header		string						true	"Owner id"
//	@Param			task_id		path		string						true	"Task ID"
//	@Success		200			{object}	router.Response{data=task.Item}	"Output recorded"
//	@Failure		403			{object}	router.ErrorResponse		"Task belongs to another owner"
//	@Failure		404			{object}	router.ErrorResponse		"Task not found"
//	@Failure		409			{object}	router.ErrorResponse		"Task is not executing"
//	@Router			/tasks/{task_id}/output [put]
func setTaskOutput(c *gin.Context) {
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
	output, err := c.GetRawData()
	if err != nil {
		reqErr := router.NewRequestError(http.StatusBadRequest, "failed to read request body", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	item, err := state.Service.SetOutput(c.Request.Context(), owner, taskID, output)
	if err != nil {
		respondServiceError(c, err, true)
		return
	}
	router.RespondOK(c, "task output recorded", item)
}

// setTaskPayload replaces the payload of a queued task
//
//	@Summary		Set task payload
//	@Description	Replace the payload of a task that is still queued. The body is stored verbatim.
//	@Tags			tasks
//	@Accept			*/*
//	@Produce		json
//	@Param			X-Owner-ID	header		string						true	"Owner id"
//	@Param			task_id		path		string						true	"Task ID"
//	@Success		200			{object}	router.Response{data=task.Item}	"Payload updated"
//	@Failure		403			{object}	router.ErrorResponse		"Task belongs to another owner"
//	@Failure		404			{object}	router.ErrorResponse		"Task not found"
//	@Failure		409			{object}	router.ErrorResponse		"Task is no longer queued"
//	@Router			/tasks/{task_id}/payload [put]
func setTaskPayload(c *gin.Context) {
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
	payload, err := c.GetRawData()
	if err != nil {
		reqErr := router.NewRequestError(http.StatusBadRequest, "failed to read request body", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	item, err := state.Service.UpdateQueuedPayload(c.Request.Context(), owner, taskID, string(payload))
	if err != nil {
		respondServiceError(c, err, true)
		return
	}
	router.RespondOK(c, "task payload updated", item)
}
