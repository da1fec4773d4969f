package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/docrules/internal/audit"
	"github.com/gyaneshwarpardhi/docrules/internal/condition"
	"github.com/gyaneshwarpardhi/docrules/internal/config"
	"github.com/gyaneshwarpardhi/docrules/internal/cronexpr"
	"github.com/gyaneshwarpardhi/docrules/internal/document"
	"github.com/gyaneshwarpardhi/docrules/internal/messaging"
	"github.com/gyaneshwarpardhi/docrules/internal/metrics"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
)

const (
	maxBatchSize = 100

	// ActorHeader names the caller; it becomes the owner of rules it creates.
	ActorHeader = "X-Actor"
)

// Scheduler is the part of the scheduler the API drives.
type Scheduler interface {
	TriggerNow(ctx context.Context, id string) (audit.Batch, error)
	ValidateCron(expr, tz string, n int) ([]time.Time, error)
}

// EventQueue accepts document events for asynchronous processing.
type EventQueue interface {
	Enqueue(ev messaging.Event) bool
	QueueUtilization() float64
}

// FolderStore holds the folder tree that folder scopes and move targets
// resolve against.
type FolderStore interface {
	PutFolder(f document.Folder) error
	Folders() []document.Folder
}

// Reloader re-reads the config file; callbacks registered on it re-seed
// the declarative rules.
type Reloader interface {
	Reload() (*config.Config, error)
}

// Deps are the handler dependencies. Only Rules is required.
type Deps struct {
	Rules     *rule.Service
	Scheduler Scheduler
	Events    messaging.EventHandler
	Queue     EventQueue
	Folders   FolderStore
	Reloader  Reloader
	// Ready reports backing-store health for /readyz.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Deps
}

// New creates an HTTP handler and registers all routes.
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &Handler{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(d.Logger))
	r.Use(middleware.Recoverer)

	r.Route("/v1/rules", func(r chi.Router) {
		r.Get("/", h.listRules)
		r.Post("/", h.createRule)
		r.Get("/templates", h.templates)
		r.Get("/stats", h.globalStats)
		r.Post("/validate-condition", h.validateCondition)
		r.Post("/validate-cron", h.validateCron)
		r.Post("/reload", h.reloadRules)

		r.Route("/{ruleID}", func(r chi.Router) {
			r.Get("/", h.getRule)
			r.Put("/", h.updateRule)
			r.Patch("/", h.updateRule)
			r.Delete("/", h.deleteRule)
			r.Post("/enable", h.setEnabled(true))
			r.Post("/disable", h.setEnabled(false))
			r.Post("/test", h.testRule)
			r.Get("/stats", h.ruleStats)
			r.Post("/run", h.triggerNow)
		})
	})
	r.Get("/v1/folders", h.listFolders)
	r.Put("/v1/folders/{folderID}", h.putFolder)
	r.Post("/v1/documents/events", h.ingestEvent)
	r.Post("/v1/documents/events/batch", h.ingestBatch)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// GET /v1/rules?owner=&q=&trigger=
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := rule.Filter{Owner: q.Get("owner"), Query: q.Get("q")}
	if t := q.Get("trigger"); t != "" {
		trig, ok := rule.ParseTrigger(t)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown trigger %q", t))
			return
		}
		f.Trigger = trig
	}
	rules, err := h.Rules.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views := make([]rule.View, 0, len(rules))
	for _, ru := range rules {
		views = append(views, rule.ToView(ru))
	}
	writeJSON(w, http.StatusOK, views)
}

// POST /v1/rules
func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var spec rule.Spec
	if !decode(w, r, &spec) {
		return
	}
	if spec.Owner == "" {
		spec.Owner = r.Header.Get(ActorHeader)
	}
	ru, err := h.Rules.Create(r.Context(), spec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule.ToView(ru))
}

// GET /v1/rules/{ruleID}
func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	ru, err := h.Rules.Get(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule.ToView(ru))
}

// PUT|PATCH /v1/rules/{ruleID}. Absent fields are left unchanged.
func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	var p rule.Patch
	if !decode(w, r, &p) {
		return
	}
	ru, err := h.Rules.Update(r.Context(), chi.URLParam(r, "ruleID"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule.ToView(ru))
}

// DELETE /v1/rules/{ruleID}
func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.Rules.Delete(r.Context(), chi.URLParam(r, "ruleID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/rules/{ruleID}/enable|disable
func (h *Handler) setEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ru, err := h.Rules.SetEnabled(r.Context(), chi.URLParam(r, "ruleID"), enabled)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rule.ToView(ru))
	}
}

// POST /v1/rules/{ruleID}/test runs the condition against a document field map.
func (h *Handler) testRule(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	res, err := h.Rules.Test(r.Context(), chi.URLParam(r, "ruleID"), fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /v1/rules/{ruleID}/stats
func (h *Handler) ruleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Rules.Stats(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /v1/rules/stats
func (h *Handler) globalStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Rules.GlobalStats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /v1/rules/templates
func (h *Handler) templates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rule.Templates())
}

// POST /v1/rules/validate-condition
func (h *Handler) validateCondition(w http.ResponseWriter, r *http.Request) {
	var spec condition.Spec
	if !decode(w, r, &spec) {
		return
	}
	writeJSON(w, http.StatusOK, rule.ValidateCondition(&spec))
}

type cronRequest struct {
	CronExpression string `json:"cronExpression"`
	Timezone       string `json:"timezone"`
	Count          int    `json:"count"`
}

type cronResponse struct {
	Valid    bool        `json:"valid"`
	Error    string      `json:"error,omitempty"`
	NextRuns []time.Time `json:"nextRuns,omitempty"`
}

// POST /v1/rules/validate-cron
func (h *Handler) validateCron(w http.ResponseWriter, r *http.Request) {
	var req cronRequest
	if !decode(w, r, &req) {
		return
	}
	var (
		next []time.Time
		err  error
	)
	if h.Scheduler != nil {
		next, err = h.Scheduler.ValidateCron(req.CronExpression, req.Timezone, req.Count)
	} else {
		n := req.Count
		if n <= 0 {
			n = 5
		}
		next, err = cronexpr.NextN(req.CronExpression, req.Timezone, time.Now(), n)
	}
	if err != nil {
		writeJSON(w, http.StatusOK, cronResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cronResponse{Valid: true, NextRuns: next})
}

type batchResponse struct {
	RuleID     string `json:"ruleId"`
	RuleName   string `json:"ruleName"`
	EventType  string `json:"eventType"`
	Processed  int    `json:"processed"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"durationMs"`
	Details    string `json:"details"`
}

// POST /v1/rules/{ruleID}/run runs a scheduled rule now.
func (h *Handler) triggerNow(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is disabled")
		return
	}
	b, err := h.Scheduler.TriggerNow(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{
		RuleID:     b.RuleID,
		RuleName:   b.RuleName,
		EventType:  b.EventType(),
		Processed:  b.Processed,
		Succeeded:  b.Succeeded,
		Failed:     b.Failed,
		DurationMs: b.DurationMs,
		Details:    b.Details(),
	})
}

// POST /v1/documents/events processes one event synchronously.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event processing is disabled")
		return
	}
	var wire messaging.DocumentEvent
	if !decode(w, r, &wire) {
		return
	}
	if wire.Actor == "" {
		wire.Actor = r.Header.Get(ActorHeader)
	}
	ev, err := wire.Decode()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.registerFolders(ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := h.Events.EvaluateAndExecute(r.Context(), ev.Actor, ev.Document, ev.Trigger)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": ev.Document.ID,
		"trigger":     ev.Trigger,
		"results":     results,
	})
}

// POST /v1/documents/events/batch queues up to 100 events.
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "event queue is disabled")
		return
	}
	var batch []messaging.DocumentEvent
	if !decode(w, r, &batch) {
		return
	}
	if len(batch) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(batch) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(batch), maxBatchSize))
		return
	}

	queued, invalid := 0, 0
	var errs []string
	for i, wire := range batch {
		if wire.Actor == "" {
			wire.Actor = r.Header.Get(ActorHeader)
		}
		ev, err := wire.Decode()
		if err == nil {
			err = h.registerFolders(ev)
		}
		if err != nil {
			invalid++
			errs = append(errs, fmt.Sprintf("events[%d]: %v", i, err))
			continue
		}
		if h.Queue.Enqueue(ev) {
			queued++
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"total":    len(batch),
		"queued":   queued,
		"invalid":  invalid,
		"rejected": len(batch) - queued - invalid,
		"errors":   errs,
	})
}

func (h *Handler) registerFolders(ev messaging.Event) error {
	if h.Folders == nil || len(ev.Folders) == 0 {
		return nil
	}
	return ev.RegisterFolders(h.Folders)
}

type folderRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

// GET /v1/folders
func (h *Handler) listFolders(w http.ResponseWriter, r *http.Request) {
	if h.Folders == nil {
		writeError(w, http.StatusServiceUnavailable, "folder registry is disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.Folders.Folders())
}

// PUT /v1/folders/{folderID} registers or replaces a folder.
func (h *Handler) putFolder(w http.ResponseWriter, r *http.Request) {
	if h.Folders == nil {
		writeError(w, http.StatusServiceUnavailable, "folder registry is disabled")
		return
	}
	var req folderRequest
	if !decode(w, r, &req) {
		return
	}
	f := document.Folder{ID: chi.URLParam(r, "folderID"), Name: req.Name, ParentID: req.ParentID}
	if err := h.Folders.PutFolder(f); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// POST /v1/rules/reload re-reads the config and re-seeds declarative rules.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	if h.Reloader == nil {
		writeError(w, http.StatusServiceUnavailable, "no config file to reload")
		return
	}
	cfg, err := h.Reloader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":    true,
		"version":     cfg.Version,
		"rules_count": len(cfg.Rules),
	})
}

// GET /healthz is the liveness check.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz is 503 if the store is unreachable or the event queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	var util float64
	if h.Queue != nil {
		util = h.Queue.QueueUtilization()
	}
	metrics.EventQueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	var v *rule.ValidationError
	if errors.As(err, &v) {
		writeJSON(w, status, errorResponse{Error: "invalid rule", Problems: v.Problems})
		return
	}
	writeError(w, status, err.Error())
}
