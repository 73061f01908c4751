package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mirkobrombin/go-reslock/v1/kernel"
	"github.com/mirkobrombin/go-reslock/v1/lease"
)

const healthTimeout = 2 * time.Second

type lockRequest struct {
	Resource     string `json:"resourceName"`
	Owner        string `json:"lockedBy"`
	DurationSecs int64  `json:"lockDuration"`
	Class        string `json:"lockType"`
	Purpose      string `json:"purpose"`
	SessionID    string `json:"sessionId"`
}

type unlockRequest struct {
	Resource string `json:"resourceName"`
	Owner    string `json:"lockedBy"`
}

type extendRequest struct {
	Owner          string `json:"lockedBy"`
	AdditionalSecs int64  `json:"additionalSeconds"`
}

type forceUnlockRequest struct {
	AdminKey string `json:"adminKey"`
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	annotations := map[string]string{
		lease.AnnotationClientAddr: r.RemoteAddr,
	}
	if ua := r.UserAgent(); ua != "" {
		annotations[lease.AnnotationUserAgent] = ua
	}
	if req.Purpose != "" {
		annotations[lease.AnnotationPurpose] = req.Purpose
	}
	if req.SessionID != "" {
		annotations[lease.AnnotationSessionID] = req.SessionID
	}

	l, err := h.kernel.Acquire(r.Context(), kernel.AcquireRequest{
		Resource:     req.Resource,
		Owner:        req.Owner,
		DurationSecs: req.DurationSecs,
		Class:        lease.Class(req.Class),
		Annotations:  annotations,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	log.WithFields(log.Fields{
		"resource": l.Resource,
		"owner":    l.Owner,
		"duration": l.Duration,
	}).Info("lock acquired")
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Message: "lock acquired",
		Data:    l.ViewAt(l.AcquiredAt),
	})
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.kernel.Release(r.Context(), req.Resource, req.Owner); err != nil {
		h.writeError(w, err)
		return
	}
	log.WithFields(log.Fields{
		"resource": req.Resource,
		"owner":    req.Owner,
	}).Info("lock released")
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "lock released",
	})
}

func (h *Handler) handleExtend(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resourceName")
	var req extendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AdditionalSecs == 0 {
		req.AdditionalSecs = lease.DefaultDuration
	}
	v, err := h.kernel.Extend(r.Context(), resource, req.Owner, req.AdditionalSecs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "lock extended",
		Data:    v,
	})
}

func (h *Handler) handleForceUnlock(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resourceName")
	var req forceUnlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.kernel.ForceRelease(r.Context(), resource, req.AdminKey); err != nil {
		h.writeError(w, err)
		return
	}
	log.WithField("resource", resource).Warn("lock force released")
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "lock force released",
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resourceName")
	v, err := h.kernel.Status(r.Context(), resource)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if v == nil {
		writeJSON(w, http.StatusOK, envelope{
			Success: true,
			Message: "resource is available",
			Data:    map[string]any{"resourceName": resource, "locked": false},
		})
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "resource is locked",
		Data:    v,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := kernel.ListQuery{
		OwnerContains: r.URL.Query().Get("lockedBy"),
		Class:         lease.Class(r.URL.Query().Get("lockType")),
	}
	if v := r.URL.Query().Get("page"); v != "" {
		q.Page, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}
	res, err := h.kernel.List(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "active locks",
		Data:    res,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	storeUp := h.store.Ping(ctx) == nil
	msg := "ok"
	if !storeUp {
		msg = "degraded: lock store unreachable"
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: msg,
		Data:    map[string]any{"storeConnected": storeUp},
	})
}
