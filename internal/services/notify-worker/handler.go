package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/NordCoder/Shipnotify/internal/auth"
	"github.com/NordCoder/Shipnotify/internal/domain/notification"
	"github.com/NordCoder/Shipnotify/internal/notify/dispatch"
	"github.com/NordCoder/Shipnotify/internal/notify/enqueue"
	"github.com/NordCoder/Shipnotify/internal/obs"
)

type Enqueuer interface {
	EnqueueStatusChange(ctx context.Context, ev enqueue.Event) (enqueue.Outcome, error)
}

const (
	maxBodyBytes   = 1 << 20
	maxLimit       = 500
	historyDefault = 50
)

// API is the worker's HTTP surface next to /metrics and /healthz.
type API struct {
	Proc     Processor
	Enqueuer Enqueuer
	Logs     notification.LogRepo
	Secret   []byte
	Batch    int
	Log      *zap.Logger
}

func (a *API) Mount(r chi.Router) {
	log := obs.Component(a.Log, "notify-worker.api")
	r.With(auth.Require(a.Secret, auth.ScopeQueue, log)).Post("/v1/queue/process", a.process)
	r.With(auth.Require(a.Secret, auth.ScopeEvents, log)).Post("/v1/events/status-change", a.statusChange)
	r.With(auth.Require(a.Secret, auth.ScopeQueue, log)).Get("/v1/tenants/{tenantID}/shipments/{shipmentID}/notifications", a.history)
}

func (a *API) process(w http.ResponseWriter, r *http.Request) {
	def := a.Batch
	if def <= 0 {
		def = dispatch.DefaultBatch
	}
	limit, err := intParam(r, "limit", def)
	if err != nil || limit <= 0 || limit > maxLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxLimit))
		return
	}
	stats, err := a.Proc.ProcessQueue(r.Context(), limit)
	if err != nil {
		obs.WithTrace(r.Context(), a.logger()).Error("process queue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "process queue failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) statusChange(w http.ResponseWriter, r *http.Request) {
	var ev enqueue.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	out, err := a.Enqueuer.EnqueueStatusChange(r.Context(), ev)
	switch {
	case errors.Is(err, enqueue.ErrInvalidEvent), errors.Is(err, enqueue.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		obs.WithTrace(r.Context(), a.logger()).Error("enqueue failed", zap.String("tenant_id", ev.TenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	code := http.StatusAccepted
	if out.Result == enqueue.ResultTriggerDisabled {
		code = http.StatusOK
	}
	writeJSON(w, code, out)
}

type logView struct {
	ID           int64          `json:"id"`
	Channel      string         `json:"channel"`
	Recipient    string         `json:"recipient"`
	Status       string         `json:"status"`
	ProviderID   string         `json:"provider_id"`
	Trigger      string         `json:"trigger,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	SentAt       string         `json:"sent_at"`
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", historyDefault)
	if err != nil || limit <= 0 || limit > maxLimit {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	logs, err := a.Logs.ListByShipment(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "shipmentID"), limit)
	if err != nil {
		obs.WithTrace(r.Context(), a.logger()).Error("list notification logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	out := make([]logView, 0, len(logs))
	for _, l := range logs {
		out = append(out, logView{
			ID:           l.ID,
			Channel:      string(l.Channel),
			Recipient:    l.Recipient,
			Status:       string(l.Status),
			ProviderID:   l.ProviderID,
			Trigger:      l.Trigger(),
			ErrorMessage: l.ErrorMessage,
			Metadata:     l.Metadata,
			SentAt:       l.SentAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *API) logger() *zap.Logger {
	if a.Log == nil {
		return zap.NewNop()
	}
	return a.Log
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
