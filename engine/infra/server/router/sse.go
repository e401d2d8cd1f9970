package router

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// SSEStream writes Server-Sent Events to a response, flushing after every
// event so consumers see updates as they happen.
type SSEStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// StartSSE switches the response into event-stream mode. It returns nil when
// the underlying writer cannot flush, in which case streaming is impossible.
func StartSSE(w http.ResponseWriter) *SSEStream {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEStream{w: w, flusher: flusher}
}

// WriteEvent emits one event with the given id, type, and payload. Payloads
// containing newlines are split across data lines per the SSE framing rules.
func (s *SSEStream) WriteEvent(id int64, event string, data []byte) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id: %d\n", id)
	fmt.Fprintf(&buf, "event: %s\n", event)
	if len(data) == 0 {
		buf.WriteString("data:\n")
	} else {
		for _, line := range bytes.Split(data, []byte("\n")) {
			buf.WriteString("data: ")
			buf.Write(line)
			buf.WriteByte('\n')
		}
	}
	buf.WriteByte('\n')
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteHeartbeat emits an SSE comment line. Clients ignore it; intermediaries
// see traffic and keep the connection open.
func (s *SSEStream) WriteHeartbeat() error {
	if _, err := io.WriteString(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// LastEventID parses the Last-Event-ID request header used to resume a
// stream. The second return reports whether the header was present.
func LastEventID(r *http.Request) (int64, bool, error) {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid Last-Event-ID %q: %w", raw, err)
	}
	if id < 0 {
		return 0, false, fmt.Errorf("Last-Event-ID must not be negative: %d", id)
	}
	return id, true, nil
}
