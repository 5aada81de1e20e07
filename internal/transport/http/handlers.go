package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snehjoshi/relayq/internal/broker"
	"github.com/snehjoshi/relayq/internal/config"
	"github.com/snehjoshi/relayq/internal/namespace"
	"github.com/snehjoshi/relayq/internal/queue"
	"github.com/snehjoshi/relayq/internal/registry"
)

// Handler groups all HTTP request handlers around a Broker.
type Handler struct {
	broker *broker.Broker
	ns     *namespace.Registry // may be nil
	start  time.Time
}

// ─── DTOs ────────────────────────────────────────────────────────────────────

type publishReq struct {
	// Body is base64; non-base64 input is accepted as raw UTF-8 bytes.
	Body    string `json:"body"`
	DelayMs int64  `json:"delay_ms"`
}

type publishResp struct {
	ID string `json:"id"`
}

type recordDTO struct {
	ID           string `json:"id"`
	Body         string `json:"body"` // base64
	Namespace    string `json:"namespace"`
	Queue        string `json:"queue"`
	ReceiveCount int    `json:"receive_count"`
	CreatedAt    int64  `json:"created_at"`   // unix ms
	ProcessedAt  int64  `json:"processed_at"` // unix ms, 0 on first delivery paths
}

type rejectReq struct {
	Requeue bool `json:"requeue"`
}

type createQueueReq struct {
	// Durations use Go syntax plus a "d" day suffix; empty fields keep the
	// server default policy.
	VisibilityTimeout string `json:"visibility_timeout"`
	RetentionPeriod   string `json:"retention_period"`
	MaxReceiveCount   *int   `json:"max_receive_count"`
}

type queueListResp struct {
	Queues []string `json:"queues"`
}

type drainResp struct {
	Records []recordDTO `json:"records"`
}

type replayResp struct {
	Replayed int `json:"replayed"`
}

type healthResp struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
	Queues int    `json:"queues"`
	Uptime string `json:"uptime"`
}

type statsResp struct {
	Summary broker.Summary     `json:"summary"`
	Queues  []broker.QueueInfo `json:"queues"`
}

// ─── health ──────────────────────────────────────────────────────────────────

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResp{
		Status: "ok",
		NodeID: h.broker.NodeID(),
		Queues: len(h.broker.ListQueues()),
		Uptime: time.Since(h.start).Round(time.Second).String(),
	})
}

// ─── namespaces ──────────────────────────────────────────────────────────────

type createNsReq struct {
	Name string `json:"name"`
}

type nsItem struct {
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"` // unix ms
}

func (h *Handler) createNamespace(w http.ResponseWriter, r *http.Request) {
	if h.ns == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "namespace registry not configured"})
		return
	}
	var req createNsReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if err := h.ns.Create(req.Name); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "name": req.Name})
}

func (h *Handler) listNamespaces(w http.ResponseWriter, r *http.Request) {
	items := []nsItem{}
	if h.ns != nil {
		for _, ns := range h.ns.List() {
			items = append(items, nsItem{Name: ns.Name, CreatedAt: ns.CreatedAt.UnixMilli()})
		}
	}
	writeJSON(w, http.StatusOK, map[string][]nsItem{"namespaces": items})
}

func (h *Handler) deleteNamespace(w http.ResponseWriter, r *http.Request) {
	if h.ns == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "namespace registry not configured"})
		return
	}
	if err := h.ns.Delete(chi.URLParam(r, "ns")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── queue management ────────────────────────────────────────────────────────

func (h *Handler) createQueue(w http.ResponseWriter, r *http.Request) {
	ns, name := chi.URLParam(r, "ns"), chi.URLParam(r, "name")

	var req createQueueReq
	if !decodeJSON(w, r, &req) {
		return
	}

	var pol *queue.Config
	if req.VisibilityTimeout != "" || req.RetentionPeriod != "" || req.MaxReceiveCount != nil {
		p := queue.DefaultConfig()
		if req.VisibilityTimeout != "" {
			d, err := config.ParseDuration(req.VisibilityTimeout)
			if err != nil || d <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid visibility_timeout"})
				return
			}
			p.VisibilityTimeout = d
		}
		if req.RetentionPeriod != "" {
			d, err := config.ParseDuration(req.RetentionPeriod)
			if err != nil || d < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid retention_period"})
				return
			}
			p.RetentionPeriod = d
		}
		if req.MaxReceiveCount != nil {
			if *req.MaxReceiveCount < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max_receive_count must be >= 0"})
				return
			}
			p.MaxReceiveCount = *req.MaxReceiveCount
		}
		pol = &p
	}

	if err := h.broker.CreateQueue(ns, name, pol); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (h *Handler) listQueues(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	queues := []string{}
	for _, key := range h.broker.ListQueues() {
		if strings.HasPrefix(key, ns+"/") {
			queues = append(queues, key)
		}
	}
	writeJSON(w, http.StatusOK, queueListResp{Queues: queues})
}

func (h *Handler) deleteQueue(w http.ResponseWriter, r *http.Request) {
	ns, name := chi.URLParam(r, "ns"), chi.URLParam(r, "name")
	if err := h.broker.DeleteQueue(ns, name); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) queueStats(w http.ResponseWriter, r *http.Request) {
	ns, name := chi.URLParam(r, "ns"), chi.URLParam(r, "name")
	info, err := h.broker.QueueInfoFor(ns, name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ─── publish / consume ───────────────────────────────────────────────────────

func (h *Handler) publishRecord(w http.ResponseWriter, r *http.Request) {
	ns, name := chi.URLParam(r, "ns"), chi.URLParam(r, "name")

	var req publishReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DelayMs < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "delay_ms must be >= 0"})
		return
	}

	body, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		body = []byte(req.Body)
	}

	resp, err := h.broker.Publish(broker.PublishRequest{
		Namespace: ns,
		Queue:     name,
		Body:      body,
		Delay:     time.Duration(req.DelayMs) * time.Millisecond,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, publishResp{ID: resp.RecordID})
}

func (h *Handler) consumeRecord(w http.ResponseWriter, r *http.Request) {
	ns, name := chi.URLParam(r, "ns"), chi.URLParam(r, "name")

	rec, err := h.broker.Consume(ns, name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(ns, name, rec))
}

// ─── ack / reject ────────────────────────────────────────────────────────────

func (h *Handler) ackRecord(w http.ResponseWriter, r *http.Request) {
	ns, name, id := chi.URLParam(r, "ns"), chi.URLParam(r, "name"), chi.URLParam(r, "id")
	if err := h.broker.Ack(ns, name, id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rejectRecord(w http.ResponseWriter, r *http.Request) {
	ns, name, id := chi.URLParam(r, "ns"), chi.URLParam(r, "name"), chi.URLParam(r, "id")

	// Omitting the body (or the field) means requeue.
	req := rejectReq{Requeue: true}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return
	}
	if err := h.broker.Reject(ns, name, id, req.Requeue); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── DLQ ─────────────────────────────────────────────────────────────────────

func (h *Handler) drainDLQ(w http.ResponseWriter, r *http.Request) {
	ns, name := chi.URLParam(r, "ns"), chi.URLParam(r, "name")
	limit := queryInt(r, "limit", 10)

	recs, err := h.broker.DrainDLQ(ns, name, limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make([]recordDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDTO(ns, name, rec))
	}
	writeJSON(w, http.StatusOK, drainResp{Records: out})
}

func (h *Handler) replayDLQ(w http.ResponseWriter, r *http.Request) {
	ns, name := chi.URLParam(r, "ns"), chi.URLParam(r, "name")
	limit := queryInt(r, "limit", 100)

	replayed, err := h.broker.ReplayDLQ(ns, name, limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, replayResp{Replayed: replayed})
}

func (h *Handler) ackDLQRecord(w http.ResponseWriter, r *http.Request) {
	ns, name, id := chi.URLParam(r, "ns"), chi.URLParam(r, "name"), chi.URLParam(r, "id")
	if err := h.broker.AckDLQ(ns, name, id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rejectDLQRecord(w http.ResponseWriter, r *http.Request) {
	ns, name, id := chi.URLParam(r, "ns"), chi.URLParam(r, "name"), chi.URLParam(r, "id")
	if err := h.broker.RejectDLQ(ns, name, id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── stats ───────────────────────────────────────────────────────────────────

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResp{
		Summary: h.broker.Summarize(),
		Queues:  h.broker.QueueStats(),
	})
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func toDTO(ns, name string, rec *queue.Record[[]byte]) recordDTO {
	dto := recordDTO{
		ID:           rec.ID,
		Body:         base64.StdEncoding.EncodeToString(rec.Payload),
		Namespace:    ns,
		Queue:        name,
		ReceiveCount: rec.ReceiveCount,
		CreatedAt:    rec.CreatedAt.UnixMilli(),
	}
	if !rec.ProcessedAt.IsZero() {
		dto.ProcessedAt = rec.ProcessedAt.UnixMilli()
	}
	return dto
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrMessageNotFound),
		errors.Is(err, registry.ErrQueueNotFound),
		errors.Is(err, namespace.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrQueueExists),
		errors.Is(err, namespace.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, namespace.ErrInvalidName),
		errors.Is(err, broker.ErrReservedName):
		return http.StatusBadRequest
	case errors.Is(err, broker.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}
