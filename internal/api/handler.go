// Package api exposes the rule engine over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/myrqyry/obs-copilot-sub005/internal/config"
	"github.com/myrqyry/obs-copilot-sub005/internal/engine"
	"github.com/myrqyry/obs-copilot-sub005/internal/feedback"
	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/metrics"
	"github.com/myrqyry/obs-copilot-sub005/internal/obs"
	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

const maxBodyBytes = 1 << 20

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng     *engine.Engine
	loader  *config.RulesLoader
	history *feedback.History
	log     *logger.Logger
	mux     *http.ServeMux
}

// New creates an HTTP handler and registers all routes. loader and history
// may be nil; the routes that need them then answer 404.
func New(eng *engine.Engine, loader *config.RulesLoader, history *feedback.History, log *logger.Logger) http.Handler {
	h := &Handler{eng: eng, loader: loader, history: history, log: log.With("component", "api"), mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/events", h.ingestEvent)
	h.mux.HandleFunc("POST /v1/events/async", h.ingestEventAsync)
	h.mux.HandleFunc("GET /v1/rules", h.listRules)
	h.mux.HandleFunc("PUT /v1/rules", h.replaceRules)
	h.mux.HandleFunc("POST /v1/rules/reload", h.reloadRules)
	h.mux.HandleFunc("POST /v1/rules/test", h.testAdHocRule)
	h.mux.HandleFunc("POST /v1/rules/{id}/test", h.testRule)
	h.mux.HandleFunc("POST /v1/rules/{id}/execute", h.executeRule)
	h.mux.HandleFunc("GET /v1/templates", h.templates)
	h.mux.HandleFunc("GET /v1/stats", h.stats)
	h.mux.HandleFunc("GET /v1/snapshot", h.getSnapshot)
	h.mux.HandleFunc("PUT /v1/snapshot", h.putSnapshot)
	h.mux.HandleFunc("GET /v1/messages", h.messages)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.log, h.mux)
}

type eventRequest struct {
	EventName string                 `json:"eventName"`
	EventData map[string]interface{} `json:"eventData"`
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return false
	}
	return true
}

func (h *Handler) decodeEvent(w http.ResponseWriter, r *http.Request) (*eventRequest, bool) {
	var req eventRequest
	if !decode(w, r, &req) {
		return nil, false
	}
	if req.EventName == "" {
		writeError(w, http.StatusBadRequest, "eventName is required")
		return nil, false
	}
	if req.EventData == nil {
		req.EventData = map[string]interface{}{}
	}
	metrics.EventsReceived.WithLabelValues("http").Inc()
	return &req, true
}

// POST /v1/events: unthrottled pass; responds with the rules that executed.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}
	start := time.Now()
	results, err := h.eng.ProcessEventSync(r.Context(), req.EventName, req.EventData)
	if err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	if results == nil {
		results = []*engine.ExecutionResult{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_name":  req.EventName,
		"results":     results,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// POST /v1/events/async: throttled, fire and forget.
func (h *Handler) ingestEventAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}
	h.eng.ProcessEvent(req.EventName, req.EventData)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted":   true,
		"event_name": req.EventName,
	})
}

// GET /v1/rules
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules := h.eng.Rules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// PUT /v1/rules: replace the installed rules.
func (h *Handler) replaceRules(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rules []*rule.Rule `json:"rules"`
	}
	if !decode(w, r, &body) {
		return
	}
	rule.DeriveIDs(body.Rules)
	rule.Normalize(body.Rules, time.Now())
	if err := rule.Validate(body.Rules); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.eng.UpdateRules(body.Rules)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"replaced":    true,
		"rules_count": len(body.Rules),
	})
}

// POST /v1/rules/reload: hot-reload rules from disk.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusNotFound, "no rules file configured")
		return
	}
	rs, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.eng.UpdateRules(rs.Rules)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":    true,
		"version":     rs.Version,
		"rules_count": len(rs.Rules),
	})
}

type testRequest struct {
	Rule      *rule.Rule             `json:"rule,omitempty"`
	EventData map[string]interface{} `json:"eventData"`
}

// POST /v1/rules/{id}/test: dry run of an installed rule.
func (h *Handler) testRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rl, ok := h.eng.Rule(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("rule %q not found", id))
		return
	}
	var req testRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.eng.TestRule(rl, req.EventData))
}

// POST /v1/rules/test: dry run of a rule that is not installed.
func (h *Handler) testAdHocRule(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Rule == nil {
		writeError(w, http.StatusBadRequest, "rule is required")
		return
	}
	rule.Normalize([]*rule.Rule{req.Rule}, time.Now())
	if err := rule.Validate([]*rule.Rule{req.Rule}); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.eng.TestRule(*req.Rule, req.EventData))
}

// POST /v1/rules/{id}/execute: run a rule's actions now, skipping its
// trigger, cooldown and conditions.
func (h *Handler) executeRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rl, ok := h.eng.Rule(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("rule %q not found", id))
		return
	}
	res, err := h.eng.ExecuteRule(r.Context(), &rl)
	if err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /v1/templates
func (h *Handler) templates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates":        rule.Templates(),
		"event_fields":     rule.EventDataFields(),
		"condition_fields": rule.ConditionFields(),
	})
}

// GET /v1/stats
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Statistics())
}

// GET /v1/snapshot
func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Snapshot())
}

// PUT /v1/snapshot: replace the OBS state conditions are evaluated against.
func (h *Handler) putSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap obs.Snapshot
	if !decode(w, r, &snap) {
		return
	}
	h.eng.UpdateObsData(snap)
	writeJSON(w, http.StatusOK, h.eng.Snapshot())
}

// GET /v1/messages?limit=N
func (h *Handler) messages(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "message history disabled")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", s))
			return
		}
		limit = n
	}
	msgs := h.history.Recent(limit)
	if msgs == nil {
		msgs = []feedback.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the dispatch queue is more than 80% full. Sinks that
// are unavailable are reported but do not fail readiness.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	status, code := "ready", http.StatusOK
	if util > 0.8 {
		status, code = "overloaded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":            status,
		"queue_utilization": util,
		"sinks":             h.eng.SinkAvailability(),
	})
}
