package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

const defaultExecutionLimit = 20

type createJobRequest struct {
	CompetitorID      string                `json:"competitorId"`
	JobType           monitor.JobType       `json:"jobType"`
	URL               string                `json:"url"`
	Priority          monitor.Priority      `json:"priority"`
	FrequencyType     monitor.FrequencyType `json:"frequencyType"`
	FrequencyValue    string                `json:"frequencyValue"`
	FrequencyTimezone string                `json:"frequencyTimezone"`
	MaxRetries        *int                  `json:"maxRetries"`
	Config            monitor.ConfigInput   `json:"config"`
}

func (req createJobRequest) spec() monitor.JobSpec {
	return monitor.JobSpec{
		CompetitorID: req.CompetitorID,
		Type:         req.JobType,
		URL:          req.URL,
		Priority:     req.Priority,
		Frequency: monitor.Frequency{
			Type:     req.FrequencyType,
			Value:    req.FrequencyValue,
			Timezone: req.FrequencyTimezone,
		},
		MaxRetries: req.MaxRetries,
		Config:     req.Config,
	}
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	jobID, err := s.svc.AddJob(r.Context(), userFrom(r.Context()), req.spec())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := monitor.JobFilter{CompetitorID: query.Get("competitorId")}
	for _, status := range splitList(query.Get("status")) {
		filter.Statuses = append(filter.Statuses, monitor.JobStatus(status))
	}
	for _, jobType := range splitList(query.Get("jobType")) {
		filter.Types = append(filter.Types, monitor.JobType(jobType))
	}
	limit, ok := parseLimit(w, query.Get("limit"), 0)
	if !ok {
		return
	}
	filter.Limit = limit

	jobs, err := s.svc.ListJobs(r.Context(), userFrom(r.Context()), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetJob(r.Context(), userFrom(r.Context()), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r.URL.Query().Get("limit"), defaultExecutionLimit)
	if !ok {
		return
	}
	jobID := chi.URLParam(r, "job_id")
	results, err := s.svc.ListExecutions(r.Context(), userFrom(r.Context()), jobID, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": jobID, "executions": results})
}

type lifecycleFunc func(ctx context.Context, userID, jobID string) (monitor.Job, error)

// lifecycle adapts a job state transition to a POST handler.
func (s *Server) lifecycle(fn lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := fn(r.Context(), userFrom(r.Context()), chi.URLParam(r, "job_id"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobId": job.ID, "status": job.Status, "job": job})
	}
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.QueueStats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.HealthStatus(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) userMetrics(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.UserReport(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLimit(w http.ResponseWriter, raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}
