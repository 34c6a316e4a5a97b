package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/petrijr/docflow/pkg/api"
	"github.com/petrijr/docflow/pkg/dispatch"
	"github.com/petrijr/docflow/pkg/notify"
)

// DispatchRequest is the body of POST /api/jobs. Durations are in
// milliseconds.
type DispatchRequest struct {
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
	JobID   string         `json:"jobId,omitempty"`
	Options struct {
		Attempts         int    `json:"attempts,omitempty"`
		BackoffType      string `json:"backoffType,omitempty"`
		BackoffDelay     int    `json:"backoffDelay,omitempty"`
		Timeout          int    `json:"timeout,omitempty"`
		Delay            int    `json:"delay,omitempty"`
		Priority         int    `json:"priority,omitempty"`
		RemoveOnComplete int    `json:"removeOnComplete,omitempty"`
		RemoveOnFail     int    `json:"removeOnFail,omitempty"`
	} `json:"options"`
}

func (r DispatchRequest) dispatchOptions() []dispatch.Option {
	o := r.Options
	var opts []dispatch.Option
	if o.Attempts > 0 {
		opts = append(opts, dispatch.WithAttempts(o.Attempts))
	}
	if o.BackoffDelay > 0 {
		typ := api.BackoffType(o.BackoffType)
		if typ == "" {
			typ = api.BackoffExponential
		}
		opts = append(opts, dispatch.WithBackoff(typ, ms(o.BackoffDelay)))
	}
	if o.Timeout > 0 {
		opts = append(opts, dispatch.WithTimeout(ms(o.Timeout)))
	}
	if o.Delay > 0 {
		opts = append(opts, dispatch.WithDelay(ms(o.Delay)))
	}
	if o.Priority != 0 {
		opts = append(opts, dispatch.WithPriority(o.Priority))
	}
	if o.RemoveOnComplete > 0 || o.RemoveOnFail > 0 {
		opts = append(opts, dispatch.WithRetention(o.RemoveOnComplete, o.RemoveOnFail))
	}
	if r.JobID != "" {
		opts = append(opts, dispatch.WithJobID(r.JobID))
	}
	return opts
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

type healthResponse struct {
	Status        string                   `json:"status"`
	Queue         api.QueueStats           `json:"queue"`
	Notifications notify.HubStats          `json:"notifications"`
	Executions    api.BasicMetricsSnapshot `json:"executions"`
	JobTypes      []string                 `json:"jobTypes"`
	StepTypes     []string                 `json:"stepTypes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Dispatcher.Stats(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Queue:         stats,
		Notifications: s.app.Hub.Stats(),
		Executions:    s.app.Metrics.Snapshot(),
		JobTypes:      s.app.Jobs.Types(),
		StepTypes:     s.app.Steps.Types(),
	})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		s.writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	job, err := s.app.Dispatcher.Dispatch(r.Context(), req.Type, req.Data, req.dispatchOptions()...)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.app.Dispatcher.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleListJobs lists by correlation (?field=&value=) or by state
// (?state=&limit=).
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		jobs []*api.Job
		err  error
	)
	switch {
	case q.Get("field") != "":
		jobs, err = s.app.Dispatcher.JobsByCorrelation(r.Context(), q.Get("field"), q.Get("value"))
	case q.Get("state") != "":
		state, perr := api.ParseJobState(q.Get("state"))
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		jobs, err = s.app.Dispatcher.JobsByState(r.Context(), state, limit)
	default:
		s.writeError(w, http.StatusBadRequest, "field or state is required")
		return
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []*api.Job{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleCancelJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("field") == "" || q.Get("value") == "" {
		s.writeError(w, http.StatusBadRequest, "field and value are required")
		return
	}
	n, err := s.app.Dispatcher.CancelByCorrelation(r.Context(), q.Get("field"), q.Get("value"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.app.Dispatcher.Requeue(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	job, err := s.app.Dispatcher.GetJob(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Dispatcher.Stats(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCleanQueue(w http.ResponseWriter, r *http.Request) {
	state, err := api.ParseJobState(chi.URLParam(r, "state"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.app.Dispatcher.CleanState(r.Context(), state)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.app.Executor.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.app.Executor.GetExecution(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	events, err := s.app.Store.Events.ListEvents(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if events == nil {
		events = []api.ExecutionEvent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleCancelExecution stops a running execution before its next node and
// removes queued jobs correlated with it.
func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	running := s.app.Executor.Cancel(id)
	removed, err := s.app.Dispatcher.CancelByCorrelation(r.Context(), api.FieldExecutionID, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"running": running, "removedJobs": removed})
}
