package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSSE(t *testing.T) {
	t.Run("Should switch the response into event-stream mode", func(t *testing.T) {
		w := httptest.NewRecorder()
		stream := StartSSE(w)
		require.NotNil(t, stream)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
		assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
	})
}

func TestSSEStream_WriteEvent(t *testing.T) {
	t.Run("Should frame id, event, and data lines", func(t *testing.T) {
		w := httptest.NewRecorder()
		stream := StartSSE(w)
		require.NotNil(t, stream)
		require.NoError(t, stream.WriteEvent(7, "state_changed", []byte(`{"new_state":"COMPLETED"}`)))
		assert.Equal(t, "id: 7\nevent: state_changed\ndata: {\"new_state\":\"COMPLETED\"}\n\n", w.Body.String())
	})
	t.Run("Should split multi-line payloads across data lines", func(t *testing.T) {
		w := httptest.NewRecorder()
		stream := StartSSE(w)
		require.NotNil(t, stream)
		require.NoError(t, stream.WriteEvent(1, "progress", []byte("line one\nline two")))
		assert.Equal(t, "id: 1\nevent: progress\ndata: line one\ndata: line two\n\n", w.Body.String())
	})
	t.Run("Should emit an empty data line for empty payloads", func(t *testing.T) {
		w := httptest.NewRecorder()
		stream := StartSSE(w)
		require.NotNil(t, stream)
		require.NoError(t, stream.WriteEvent(2, "snapshot", nil))
		assert.Equal(t, "id: 2\nevent: snapshot\ndata:\n\n", w.Body.String())
	})
}

func TestSSEStream_WriteHeartbeat(t *testing.T) {
	t.Run("Should emit a comment line", func(t *testing.T) {
		w := httptest.NewRecorder()
		stream := StartSSE(w)
		require.NotNil(t, stream)
		require.NoError(t, stream.WriteHeartbeat())
		assert.Equal(t, ": heartbeat\n\n", w.Body.String())
	})
}

func TestLastEventID(t *testing.T) {
	t.Run("Should default to zero when the header is absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/stream", http.NoBody)
		id, present, err := LastEventID(req)
		require.NoError(t, err)
		assert.False(t, present)
		assert.Zero(t, id)
	})
	t.Run("Should parse a numeric header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/stream", http.NoBody)
		req.Header.Set("Last-Event-ID", "42")
		id, present, err := LastEventID(req)
		require.NoError(t, err)
		assert.True(t, present)
		assert.Equal(t, int64(42), id)
	})
	t.Run("Should reject a non-numeric header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/stream", http.NoBody)
		req.Header.Set("Last-Event-ID", "not-a-number")
		_, _, err := LastEventID(req)
		assert.Error(t, err)
	})
	t.Run("Should reject a negative header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/stream", http.NoBody)
		req.Header.Set("Last-Event-ID", "-3")
		_, _, err := LastEventID(req)
		assert.Error(t, err)
	})
}
