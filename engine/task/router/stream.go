package tkrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/infra/monitoring"
	"github.com/danmincu/pulstrate/engine/infra/server/router"
	"github.com/danmincu/pulstrate/engine/streaming"
	"github.com/danmincu/pulstrate/engine/task"
)

const (
	taskStreamHeartbeatFreq = 15 * time.Second
	taskReplayLimit         = 500
	// snapshotEvent is the stream's own opening event carrying the current
	// task; it is not part of the task event log and ignores the events
	// filter.
	snapshotEvent = "snapshot"
)

type taskStreamConfig struct {
	taskID      core.ID
	hub         streaming.Hub
	initial     *task.Item
	lastEventID int64
	events      map[string]struct{}
	heartbeat   time.Duration
	metrics     *monitoring.StreamingMetrics
}

// streamTask streams task events over Server-Sent Events
//
//	@Summary		Stream task events
//	@Description	Streams task lifecycle and progress events over Server-Sent Events. The first event is a snapshot of the current task; Last-Event-ID resumes the stream after the given envelope id. The stream ends when the task reaches a terminal state.
//	@Tags			tasks
//	@Accept			*/*
//	@Produce		text/event-stream
//	@Param			X-Owner-ID		header		string	true	"Owner id"
//	@Param			task_id			path		string	true	"Task ID"
//	@Param			Last-Event-ID	header		string	false	"Resume after the provided envelope id"	example("42")
//	@Param			events			query		string	false	"Comma-separated list of event types to emit (default: all)"	example("state_changed,progress")
//	@Success		200				{string}	string	"SSE stream"
//	@Failure		400				{object}	router.ErrorResponse	"Invalid request"
//	@Failure		404				{object}	router.ErrorResponse	"Task not found"
//	@Failure		503				{object}	router.ErrorResponse	"Streaming unavailable"
//	@Router			/tasks/{task_id}/stream [get]
func streamTask(c *gin.Context) {
	owner := router.GetOwnerID(c)
	if owner == "" {
		return
	}
	taskID := router.GetTaskID(c)
	if taskID.IsZero() {
		return
	}
	ctx := c.Request.Context()
	cfg, ok := prepareTaskStreamConfig(ctx, c, owner, taskID)
	if !ok {
		return
	}
	stream := router.StartSSE(c.Writer)
	if stream == nil {
		router.RespondWithServerError(c, router.ErrInternalCode, "failed to initialize stream", nil)
		return
	}
	runTaskStream(ctx, cfg, stream)
}

func prepareTaskStreamConfig(
	ctx context.Context,
	c *gin.Context,
	owner string,
	taskID core.ID,
) (*taskStreamConfig, bool) {
	state := router.GetAppState(c)
	if state == nil {
		return nil, false
	}
	if state.Hub == nil {
		reqErr := router.NewRequestError(http.StatusServiceUnavailable, "event streaming is unavailable", nil)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return nil, false
	}
	initial, err := state.Service.Get(ctx, owner, taskID)
	if err != nil {
		respondServiceError(c, err, false)
		return nil, false
	}
	lastEventID, ok := parseTaskLastEventID(c)
	if !ok {
		return nil, false
	}
	events, ok := parseTaskEventsParam(c)
	if !ok {
		return nil, false
	}
	var metrics *monitoring.StreamingMetrics
	if state.Monitoring != nil {
		metrics = state.Monitoring.StreamingMetrics()
	}
	return &taskStreamConfig{
		taskID:      taskID,
		hub:         state.Hub,
		initial:     initial,
		lastEventID: lastEventID,
		events:      events,
		heartbeat:   taskStreamHeartbeatFreq,
		metrics:     metrics,
	}, true
}

func parseTaskLastEventID(c *gin.Context) (int64, bool) {
	lastID, _, err := router.LastEventID(c.Request)
	if err != nil {
		reqErr := router.NewRequestError(http.StatusBadRequest, "invalid Last-Event-ID header", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return 0, false
	}
	return lastID, true
}

func parseTaskEventsParam(c *gin.Context) (map[string]struct{}, bool) {
	raw := strings.TrimSpace(c.Query("events"))
	if raw == "" {
		return nil, true
	}
	allowed := map[string]struct{}{
		string(task.EventTaskCreated):  {},
		string(task.EventTaskUpdated):  {},
		string(task.EventTaskDeleted):  {},
		string(task.EventStateChanged): {},
		string(task.EventProgress):     {},
	}
	set := make(map[string]struct{}, len(allowed))
	for _, token := range strings.Split(raw, ",") {
		event := strings.TrimSpace(token)
		if event == "" {
			continue
		}
		if _, ok := allowed[event]; !ok {
			reqErr := router.NewRequestError(http.StatusBadRequest, "unknown event type", fmt.Errorf("%s", event))
			router.RespondWithError(c, reqErr.StatusCode, reqErr)
			return nil, false
		}
		set[event] = struct{}{}
	}
	if len(set) == 0 {
		return nil, true
	}
	return set, true
}

func shouldEmit(cfg *taskStreamConfig, event string) bool {
	if len(cfg.events) == 0 {
		return true
	}
	_, ok := cfg.events[event]
	return ok
}

func streamFailed(closeInfo *router.StreamCloseInfo, phase string, err error) {
	if closeInfo.Error != nil {
		return
	}
	closeInfo.Reason = fmt.Sprintf("%s_error", phase)
	closeInfo.Error = err
}

func runTaskStream(ctx context.Context, cfg *taskStreamConfig, stream *router.SSEStream) {
	closeInfo := &router.StreamCloseInfo{
		Reason:      router.StreamReasonInitializing,
		Status:      cfg.initial.State,
		LastEventID: cfg.lastEventID,
	}
	telemetry := router.NewStreamTelemetry(ctx, "task", cfg.taskID, cfg.metrics)
	telemetry.Connected(cfg.lastEventID, "Task stream connected", "state", cfg.initial.State)
	defer telemetry.Close(closeInfo)
	ctx = telemetry.Context()
	if err := emitTaskSnapshot(stream, telemetry, cfg); err != nil {
		streamFailed(closeInfo, "snapshot", err)
		return
	}
	if cfg.initial.IsTerminal() {
		closeInfo.Reason = router.StreamReasonTerminal
		return
	}
	// Subscribe before replaying so no envelope published in between is lost;
	// duplicates are dropped by the id cursor instead.
	subscription, err := cfg.hub.Subscribe(ctx, cfg.taskID)
	if err != nil {
		streamFailed(closeInfo, "subscribe", err)
		return
	}
	defer subscription.Close()
	nextID, ok := emitTaskReplay(ctx, cfg, stream, telemetry, closeInfo)
	if !ok {
		return
	}
	taskEventLoop(ctx, cfg, telemetry, closeInfo, stream, subscription, nextID)
	if closeInfo.Reason == router.StreamReasonInitializing {
		closeInfo.Reason = router.StreamReasonCompleted
	}
}

// emitTaskSnapshot writes the opening snapshot. It rides at the resume cursor
// so a reconnecting client does not shift its Last-Event-ID.
func emitTaskSnapshot(stream *router.SSEStream, telemetry router.StreamTelemetry, cfg *taskStreamConfig) error {
	data, err := json.Marshal(cfg.initial)
	if err != nil {
		return err
	}
	if err := stream.WriteEvent(cfg.lastEventID, snapshotEvent, data); err != nil {
		return err
	}
	telemetry.RecordEvent(snapshotEvent, true)
	return nil
}

func emitTaskReplay(
	ctx context.Context,
	cfg *taskStreamConfig,
	stream *router.SSEStream,
	telemetry router.StreamTelemetry,
	closeInfo *router.StreamCloseInfo,
) (int64, bool) {
	envelopes, err := cfg.hub.Replay(ctx, cfg.taskID, cfg.lastEventID, taskReplayLimit)
	if err != nil {
		streamFailed(closeInfo, "replay", err)
		return cfg.lastEventID, false
	}
	nextID := cfg.lastEventID
	for i := range envelopes {
		if !writeTaskEnvelope(stream, telemetry, cfg, closeInfo, &envelopes[i], &nextID) {
			return nextID, false
		}
	}
	return nextID, true
}

func taskEventLoop(
	ctx context.Context,
	cfg *taskStreamConfig,
	telemetry router.StreamTelemetry,
	closeInfo *router.StreamCloseInfo,
	stream *router.SSEStream,
	subscription streaming.Subscription,
	startID int64,
) {
	heartbeat := time.NewTicker(cfg.heartbeat)
	defer heartbeat.Stop()
	nextID := startID
	for {
		select {
		case <-ctx.Done():
			closeInfo.Reason = router.StreamReasonContextCanceled
			closeInfo.Error = nil
			return
		case <-heartbeat.C:
			if err := stream.WriteHeartbeat(); err != nil {
				streamFailed(closeInfo, "heartbeat", err)
				return
			}
			telemetry.RecordHeartbeat()
		case <-subscription.Done():
			// Forgotten tasks may leave their final envelopes buffered.
			drainTaskEvents(stream, telemetry, cfg, closeInfo, subscription, &nextID)
			if err := subscription.Err(); err != nil {
				streamFailed(closeInfo, "subscription", err)
			}
			return
		case env := <-subscription.Events():
			if !writeTaskEnvelope(stream, telemetry, cfg, closeInfo, &env, &nextID) {
				return
			}
		}
	}
}

func drainTaskEvents(
	stream *router.SSEStream,
	telemetry router.StreamTelemetry,
	cfg *taskStreamConfig,
	closeInfo *router.StreamCloseInfo,
	subscription streaming.Subscription,
	nextID *int64,
) {
	for {
		select {
		case env := <-subscription.Events():
			if !writeTaskEnvelope(stream, telemetry, cfg, closeInfo, &env, nextID) {
				return
			}
		default:
			return
		}
	}
}

// writeTaskEnvelope forwards one envelope, advancing the cursor and flagging
// terminal transitions. It reports whether the stream should keep going.
func writeTaskEnvelope(
	stream *router.SSEStream,
	telemetry router.StreamTelemetry,
	cfg *taskStreamConfig,
	closeInfo *router.StreamCloseInfo,
	env *streaming.Envelope,
	nextID *int64,
) bool {
	if env.ID <= *nextID {
		return true
	}
	eventType := string(env.Type)
	if shouldEmit(cfg, eventType) {
		if err := stream.WriteEvent(env.ID, eventType, env.Data); err != nil {
			streamFailed(closeInfo, "write", err)
			return false
		}
		telemetry.RecordEvent(eventType, true)
	}
	*nextID = env.ID
	closeInfo.LastEventID = env.ID
	if env.Type == task.EventStateChanged {
		if state := gjson.GetBytes(env.Data, "new_state"); state.Exists() {
			status := core.StatusType(state.String())
			closeInfo.Status = status
			if status.IsTerminal() {
				closeInfo.Reason = router.StreamReasonTerminal
				return false
			}
		}
	}
	return true
}
