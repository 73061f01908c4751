// Package api exposes the lease kernel over HTTP. Every response is
// wrapped in a {success, message, data|errors} envelope; expected protocol
// outcomes (conflict, not found, unauthorized) map onto status codes while
// store faults surface as 503 since lock semantics cannot be guessed under
// store uncertainty.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/mirkobrombin/go-reslock/v1/eventbus"
	"github.com/mirkobrombin/go-reslock/v1/kernel"
	"github.com/mirkobrombin/go-reslock/v1/store"
)

// Handler serves the reslock HTTP API.
type Handler struct {
	kernel     *kernel.Kernel
	store      store.Store
	bus        eventbus.Bus
	production bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithBus enables the watch endpoints over the given bus.
func WithBus(bus eventbus.Bus) Option {
	return func(h *Handler) {
		h.bus = bus
	}
}

// WithProduction suppresses internal error detail in responses.
func WithProduction(production bool) Option {
	return func(h *Handler) {
		h.production = production
	}
}

// New returns a Handler over the given kernel and store.
func New(k *kernel.Kernel, s store.Store, opts ...Option) *Handler {
	h := &Handler{kernel: k, store: s}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the HTTP mux for the API, including the Prometheus
// endpoint when a registry is provided.
func (h *Handler) Routes(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /resources", h.handleList)
	mux.HandleFunc("GET /resources/{resourceName}", h.handleStatus)
	mux.HandleFunc("GET /resources/{resourceName}/watch", h.handleWatch)
	mux.HandleFunc("POST /resources/lock", h.handleLock)
	mux.HandleFunc("POST /resources/unlock", h.handleUnlock)
	mux.HandleFunc("PUT /resources/{resourceName}/extend", h.handleExtend)
	mux.HandleFunc("DELETE /resources/{resourceName}/force-unlock", h.handleForceUnlock)
	mux.HandleFunc("GET /health", h.handleHealth)
	if reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return mux
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *kernel.ValidationError
	var conflict *kernel.ConflictError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, envelope{
			Message: "invalid request",
			Errors:  verr.Fields,
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, envelope{
			Message: "resource is already locked",
			Data: map[string]any{
				"lockedBy":      conflict.Holder,
				"lockType":      conflict.Class,
				"remainingTime": conflict.RemainingSecs,
			},
		})
	case errors.Is(err, kernel.ErrNotFound):
		writeJSON(w, http.StatusNotFound, envelope{
			Message: "no active lock found for this resource and owner",
		})
	case errors.Is(err, kernel.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, envelope{
			Message: "invalid admin key",
		})
	default:
		log.WithError(err).Error("store operation failed")
		env := envelope{Message: "lock store unavailable"}
		if !h.production {
			env.Errors = err.Error()
		}
		writeJSON(w, http.StatusServiceUnavailable, env)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{
			Message: "invalid request body",
			Errors:  map[string]string{"body": "must be valid JSON"},
		})
		return false
	}
	return true
}
