package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/tikrec/internal/domain"
	"github.com/bnema/tikrec/internal/infrastructure/logger"
)

const (
	keepAliveInterval = 15 * time.Second
	snapshotEvent     = "snapshot"
)

type SSEHandler struct {
	engine    Engine
	keepAlive time.Duration
}

func NewSSEHandler(engine Engine) *SSEHandler {
	return &SSEHandler{engine: engine, keepAlive: keepAliveInterval}
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	flush(w)
}

func sseWriteJSON(w http.ResponseWriter, eventName string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sseWrite(w, eventName, string(data))
	return nil
}

func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Events streams engine events. The stream opens with a snapshot of the
// job table (or the single job named by ?job=) and then relays every event
// under its kind. A slow client loses events instead of stalling the engine.
func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := r.URL.Query().Get("job")

		// Subscribe before the snapshot so nothing falls in between.
		sub := h.engine.Subscribe()
		defer func() {
			if dropped := sub.Dropped(); dropped > 0 {
				logger.Warn.Printf("event stream dropped %d events for a slow client", dropped)
			}
			sub.Close()
		}()

		snapshot, err := h.snapshot(jobID)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		if err := sseWriteJSON(w, snapshotEvent, snapshot); err != nil {
			logger.Error.Printf("encode snapshot: %v", err)
			return
		}

		ctx := r.Context()
		keepAlive := time.NewTicker(h.keepAlive)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendKeepAlive(w)
			case event, ok := <-sub.C:
				if !ok {
					return
				}
				if !wants(jobID, event) {
					continue
				}
				if err := sseWriteJSON(w, string(event.Kind), event); err != nil {
					logger.Error.Printf("encode %s event: %v", event.Kind, err)
				}
			}
		}
	}
}

func (h *SSEHandler) snapshot(jobID string) ([]domain.Job, error) {
	if jobID == "" {
		return h.engine.ListJobs(), nil
	}
	job, err := h.engine.Get(jobID)
	if err != nil {
		return nil, err
	}
	return []domain.Job{job}, nil
}

// wants filters a single-job stream. Quota events concern every job.
func wants(jobID string, event domain.Event) bool {
	return jobID == "" || event.JobID == jobID || event.Kind == domain.EventQuota
}
