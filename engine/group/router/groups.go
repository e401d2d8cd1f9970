package grouprouter

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danmincu/pulstrate/engine/group"
	"github.com/danmincu/pulstrate/engine/infra/server/router"
)

// respondGroupError translates registry errors into the HTTP error envelope.
// Anything outside the registry sentinels is a validation failure.
func respondGroupError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	reason := "invalid group"
	switch {
	case errors.Is(err, group.ErrNotFound):
		status, reason = http.StatusNotFound, "group not found"
	case errors.Is(err, group.ErrAlreadyExists):
		status, reason = http.StatusConflict, "group already exists"
	case errors.Is(err, group.ErrProtected):
		status, reason = http.StatusForbidden, "default group cannot be deleted"
	}
	reqErr := router.NewRequestError(status, reason, err)
	router.RespondWithError(c, reqErr.StatusCode, reqErr)
}

// listGroups lists every configured concurrency group
//
//	@Summary		List groups
//	@Description	Retrieve all concurrency groups sorted by id. The default group always exists.
//	@Tags			groups
//	@Produce		json
//	@Success		200	{object}	router.Response{data=object{groups=[]group.Config}}	"Groups retrieved"
//	@Router			/groups [get]
func listGroups(c *gin.Context) {
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	router.RespondOK(c, "groups retrieved", gin.H{"groups": state.Groups.List()})
}

// createGroup registers a new concurrency group
//
//	@Summary		Create group
//	@Description	Register a concurrency group. MaxParallelism 0 falls back to the engine default.
//	@Tags			groups
//	@Accept			json
//	@Produce		json
//	@Param			request	body		group.Config					true	"Group to create"
//	@Success		201		{object}	router.Response{data=group.Config}	"Group created"
//	@Failure		400		{object}	router.ErrorResponse			"Invalid group"
//	@Failure		409		{object}	router.ErrorResponse			"Group already exists"
//	@Router			/groups [post]
func createGroup(c *gin.Context) {
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	var cfg group.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		reqErr := router.NewRequestError(http.StatusBadRequest, "invalid request body", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	created, err := state.Groups.Create(cfg)
	if err != nil {
		respondGroupError(c, err)
		return
	}
	router.RespondCreated(c, "group created", created)
}

// getGroup retrieves a single group
//
//	@Summary		Get group
//	@Description	Retrieve one concurrency group by id
//	@Tags			groups
//	@Produce		json
//	@Param			group_id	path		string						true	"Group ID"	example("reports")
//	@Success		200			{object}	router.Response{data=group.Config}	"Group retrieved"
//	@Failure		404			{object}	router.ErrorResponse		"Group not found"
//	@Router			/groups/{group_id} [get]
func getGroup(c *gin.Context) {
	groupID := router.GetGroupID(c)
	if groupID == "" {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	cfg, err := state.Groups.Get(groupID)
	if err != nil {
		respondGroupError(c, err)
		return
	}
	router.RespondOK(c, "group retrieved", cfg)
}

// updateGroup replaces a group's configuration
//
//	@Summary		Update group
//	@Description	Replace the configuration of an existing group. The path id wins over any id in the body. Running tasks are unaffected; the new cap applies to future dispatches.
//	@Tags			groups
//	@Accept			json
//	@Produce		json
//	@Param			group_id	path		string						true	"Group ID"
//	@Param			request		body		group.Config				true	"New configuration"
//	@Success		200			{object}	router.Response{data=group.Config}	"Group updated"
//	@Failure		400			{object}	router.ErrorResponse		"Invalid group"
//	@Failure		404			{object}	router.ErrorResponse		"Group not found"
//	@Router			/groups/{group_id} [put]
func updateGroup(c *gin.Context) {
	groupID := router.GetGroupID(c)
	if groupID == "" {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	var cfg group.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		reqErr := router.NewRequestError(http.StatusBadRequest, "invalid request body", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	cfg.ID = groupID
	updated, err := state.Groups.Update(cfg)
	if err != nil {
		respondGroupError(c, err)
		return
	}
	router.RespondOK(c, "group updated", updated)
}

// deleteGroup removes a group
//
//	@Summary		Delete group
//	@Description	Remove a concurrency group. The default group is protected. Tasks referencing a removed group fall back to the default cap.
//	@Tags			groups
//	@Param			group_id	path	string	true	"Group ID"
//	@Success		204			"Group deleted"
//	@Failure		403			{object}	router.ErrorResponse	"Default group is protected"
//	@Failure		404			{object}	router.ErrorResponse	"Group not found"
//	@Router			/groups/{group_id} [delete]
func deleteGroup(c *gin.Context) {
	groupID := router.GetGroupID(c)
	if groupID == "" {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	if err := state.Groups.Delete(groupID); err != nil {
		respondGroupError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
