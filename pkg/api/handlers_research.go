package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	scouterrors "github.com/odvcencio/scout/pkg/errors"
	"github.com/odvcencio/scout/pkg/logging"
	"github.com/odvcencio/scout/pkg/research"
)

const heartbeatInterval = 15 * time.Second

// handleResearchStream runs a research job and streams its progress events
// as SSE. Query parameters: topic, guidance (alias: guidelines), and
// sections as a comma-separated list of section titles.
func (s *Server) handleResearchStream(w http.ResponseWriter, r *http.Request) {
	job, verr := s.parseResearchRequest(r)
	if verr != nil {
		writeError(w, http.StatusBadRequest, verr.Message)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Request-Id", job.ID)

	s.logger.Log(logging.Event{
		Level:     logging.LevelInfo,
		Category:  logging.CategoryResearch,
		EventType: "job_started",
		RequestID: middleware.GetReqID(r.Context()),
		JobID:     job.ID,
		Details: map[string]any{
			"topic":    job.Topic,
			"sections": len(job.Sections),
		},
	})

	ctx := r.Context()
	events := s.orch.RunJob(ctx, job)
	if s.bridge != nil {
		events = s.bridge.Tee(ctx, job.ID, events)
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// parseResearchRequest validates the query parameters and builds the job.
func (s *Server) parseResearchRequest(r *http.Request) (research.Job, *scouterrors.Error) {
	q := r.URL.Query()

	topic := strings.TrimSpace(q.Get("topic"))
	if len(topic) < s.cfg.Research.MinTopicLength {
		return research.Job{}, invalidJob("topic must be at least " + strconv.Itoa(s.cfg.Research.MinTopicLength) + " characters long")
	}
	if len(topic) > s.cfg.Research.MaxTopicLength {
		return research.Job{}, invalidJob("topic must be less than " + strconv.Itoa(s.cfg.Research.MaxTopicLength) + " characters long")
	}

	guidance := strings.TrimSpace(q.Get("guidance"))
	if guidance == "" {
		guidance = strings.TrimSpace(q.Get("guidelines"))
	}
	if len(guidance) > s.cfg.Research.MaxGuidanceLength {
		return research.Job{}, invalidJob("guidance must be less than " + strconv.Itoa(s.cfg.Research.MaxGuidanceLength) + " characters long")
	}

	var sections []string
	for _, part := range strings.Split(q.Get("sections"), ",") {
		if title := strings.TrimSpace(part); title != "" {
			sections = append(sections, title)
		}
	}
	if len(sections) == 0 {
		return research.Job{}, invalidJob("at least one section is required")
	}
	if len(sections) > s.cfg.Research.MaxSections {
		return research.Job{}, invalidJob("maximum " + strconv.Itoa(s.cfg.Research.MaxSections) + " sections allowed")
	}
	for _, title := range sections {
		if len(title) > 100 {
			return research.Job{}, invalidJob("section titles must be less than 100 characters")
		}
	}

	return research.Job{
		ID:       ulid.Make().String(),
		Topic:    topic,
		Guidance: guidance,
		Sections: sections,
	}, nil
}

func invalidJob(message string) *scouterrors.Error {
	return scouterrors.New(scouterrors.ErrCodeJobInvalid, message)
}

