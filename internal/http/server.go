package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/arun84-eng/FlowBit/internal/log"
	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/arun84-eng/FlowBit/pkg/service"
	"github.com/arun84-eng/FlowBit/pkg/storage"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const sseKeepAlive = 30 * time.Second

// Server wires the orchestration services to their HTTP surface.
type Server struct {
	store       storage.Store
	exec        *service.ExecutionService
	scheduler   *service.CronScheduler
	broadcaster *service.LogBroadcaster
}

func NewServer(store storage.Store, exec *service.ExecutionService, scheduler *service.CronScheduler, broadcaster *service.LogBroadcaster) *Server {
	return &Server{
		store:       store,
		exec:        exec,
		scheduler:   scheduler,
		broadcaster: broadcaster,
	}
}

// StartServer constructs the full service stack over the given store and
// serves it on the port. It blocks until the listener fails.
func StartServer(ctx context.Context, port string, store storage.Store, schedulerStatePath string) error {
	logger := log.GetLogger()
	engine := service.NewHTTPEngineClient("", "", logger)
	exec := service.NewExecutionService(ctx, store, engine, logger)
	broadcaster := service.NewLogBroadcaster(store, logger)
	scheduler := service.NewCronScheduler(ctx, store, exec, logger, schedulerStatePath)
	if err := scheduler.Restore(); err != nil {
		logger.Errorf("Failed to restore cron schedules: %v", err)
	}
	defer scheduler.Stop()
	defer broadcaster.Shutdown()

	srv := NewServer(store, exec, scheduler, broadcaster)
	logger.Infof("Starting FlowBit server on :%s", port)
	return http.ListenAndServe(":"+port, srv.Router())
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/api/workflows", s.listWorkflows).Methods(http.MethodGet)
	r.HandleFunc("/api/runs", s.listRuns).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}", s.getRun).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}/stream", s.streamLogs).Methods(http.MethodGet)
	r.HandleFunc("/api/trigger", s.trigger).Methods(http.MethodPost)
	r.HandleFunc("/api/hooks/{workflowId}", s.webhookIngress).Methods(http.MethodPost)
	r.HandleFunc("/api/schedules", s.listSchedules).Methods(http.MethodGet)
	r.HandleFunc("/api/schedules", s.createSchedule).Methods(http.MethodPost)
	r.HandleFunc("/api/schedules/{id}", s.deleteSchedule).Methods(http.MethodDelete)
	r.HandleFunc("/api/webhooks", s.listWebhooks).Methods(http.MethodGet)
	r.HandleFunc("/api/webhooks/{workflowId}", s.updateWebhook).Methods(http.MethodPut)
	r.HandleFunc("/api/metrics", s.metrics).Methods(http.MethodGet)
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "FlowBit server is running")
}

func (s *Server) listWorkflows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.Workflows)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	runs, err := s.exec.ListRuns(limit, offset)
	if err != nil {
		log.GetLogger().Errorf("Failed to list runs: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"total": len(runs),
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := s.exec.GetRun(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		log.GetLogger().Errorf("Failed to get run %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	logs, err := s.exec.GetLogs(id)
	if err != nil {
		log.GetLogger().Errorf("Failed to get logs for run %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch run logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":  run,
		"logs": logs,
	})
}

// streamLogs is the SSE endpoint: full backlog first, then live entries,
// with periodic keep-alive comments. Disconnect unsubscribes.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.exec.GetRun(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.broadcaster.Subscribe(id)
	if err != nil {
		log.GetLogger().Errorf("Failed to subscribe to run %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case entry, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(entry)
			if err != nil {
				log.GetLogger().Errorf("Failed to encode log entry: %v", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID   string             `json:"workflow_id"`
		TriggerKind  models.TriggerKind `json:"trigger_kind"`
		InputPayload models.JSONMap     `json:"input_payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TriggerKind == "" {
		req.TriggerKind = models.ManualTrigger
	}
	run, err := s.exec.Start(r.Context(), req.WorkflowID, req.InputPayload, req.TriggerKind)
	if err != nil {
		if errors.Is(err, service.ErrUnknownWorkflow) {
			writeError(w, http.StatusBadRequest, "invalid workflow ID")
			return
		}
		log.GetLogger().Errorf("Failed to trigger workflow %s: %v", req.WorkflowID, err)
		writeError(w, http.StatusInternalServerError, "failed to trigger workflow")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"run_id":  run.ID,
		"run":     run,
	})
}

func (s *Server) webhookIngress(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["workflowId"]
	var payload models.JSONMap
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		payload = models.JSONMap{}
	}
	run, err := s.exec.StartWebhook(r.Context(), workflowID, payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWebhookDisabled):
			writeError(w, http.StatusNotFound, "webhook not found or disabled")
		case errors.Is(err, service.ErrUnknownWorkflow):
			writeError(w, http.StatusBadRequest, "invalid workflow ID")
		default:
			log.GetLogger().Errorf("Webhook execution failed for %s: %v", workflowID, err)
			writeError(w, http.StatusInternalServerError, "webhook execution failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"run_id":  run.ID,
		"message": "workflow triggered successfully",
	})
}

func (s *Server) listSchedules(w http.ResponseWriter, _ *http.Request) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		log.GetLogger().Errorf("Failed to list schedules: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch schedules")
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID string         `json:"workflow_id"`
		Expression string         `json:"cron_expression"`
		Payload    models.JSONMap `json:"payload"`
		Enabled    *bool          `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sched, err := s.scheduler.CreateSchedule(req.WorkflowID, req.Expression, req.Payload, enabled)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidExpression):
			writeError(w, http.StatusBadRequest, "invalid cron expression")
		case errors.Is(err, service.ErrUnknownWorkflow):
			writeError(w, http.StatusBadRequest, "invalid workflow ID")
		default:
			log.GetLogger().Errorf("Failed to create schedule: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to create schedule")
		}
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule ID")
		return
	}
	if err := s.scheduler.DeleteSchedule(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		log.GetLogger().Errorf("Failed to delete schedule %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.ListWebhookConfigs()
	if err != nil {
		log.GetLogger().Errorf("Failed to list webhook configs: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch webhook configurations")
		return
	}
	type webhookWithURL struct {
		models.WebhookConfig
		URL string `json:"url"`
	}
	out := make([]webhookWithURL, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, webhookWithURL{
			WebhookConfig: cfg,
			URL:           ingressURL(r, cfg.WorkflowID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateWebhook(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["workflowId"]
	var req struct {
		Enabled     bool `json:"enabled"`
		RequireAuth bool `json:"require_auth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg, err := s.store.UpdateWebhookConfig(workflowID, req.Enabled, req.RequireAuth)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook configuration not found")
			return
		}
		log.GetLogger().Errorf("Failed to update webhook config for %s: %v", workflowID, err)
		writeError(w, http.StatusInternalServerError, "failed to update webhook configuration")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) metrics(w http.ResponseWriter, _ *http.Request) {
	snapshot, err := s.exec.Metrics()
	if err != nil {
		log.GetLogger().Errorf("Failed to compute metrics: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch metrics")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func ingressURL(r *http.Request, workflowID string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/api/hooks/%s", scheme, r.Host, workflowID)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
