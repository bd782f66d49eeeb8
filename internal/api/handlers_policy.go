package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/assetgate/internal/policy"
	"github.com/org/assetgate/internal/storage"
	"github.com/org/assetgate/pkg/models"
)

// pairParams pulls the (asset, opType) key from the route and rejects
// unknown operation-type tags. The engine itself is tag-agnostic; this
// boundary check exists to catch typos before they become silent
// always-allow policies.
func pairParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	asset := chi.URLParam(r, "asset")
	opType := chi.URLParam(r, "opType")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset is required")
		return "", "", false
	}
	if !models.KnownOpType(opType) {
		writeError(w, http.StatusBadRequest, "unknown operation type: "+opType)
		return "", "", false
	}
	return asset, opType, true
}

// PolicyCreateHandler handles POST /v1/policy/{asset}/{opType}
func (s *Server) PolicyCreateHandler(w http.ResponseWriter, r *http.Request) {
	asset, opType, ok := pairParams(w, r)
	if !ok {
		return
	}

	var req struct {
		MaxAmount       uint64 `json:"max_amount"`
		DailyLimit      uint64 `json:"daily_limit"`
		CooldownSeconds uint64 `json:"cooldown_seconds"`
		ActivationTime  int64  `json:"activation_time"`
		ExpirationTime  int64  `json:"expiration_time"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaxAmount > maxWireAmount || req.DailyLimit > maxWireAmount || req.CooldownSeconds > maxWireAmount {
		writeError(w, http.StatusBadRequest, "limit out of range")
		return
	}

	err := s.policies.Create(r.Context(), asset, opType,
		req.MaxAmount, req.DailyLimit, req.CooldownSeconds,
		req.ActivationTime, req.ExpirationTime)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.refreshGauges(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// PolicyUpdateHandler handles PATCH /v1/policy/{asset}/{opType}
func (s *Server) PolicyUpdateHandler(w http.ResponseWriter, r *http.Request) {
	asset, opType, ok := pairParams(w, r)
	if !ok {
		return
	}

	var req struct {
		Active     bool   `json:"active"`
		MaxAmount  uint64 `json:"max_amount"`
		DailyLimit uint64 `json:"daily_limit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaxAmount > maxWireAmount || req.DailyLimit > maxWireAmount {
		writeError(w, http.StatusBadRequest, "limit out of range")
		return
	}

	err := s.policies.Update(r.Context(), asset, opType, req.Active, req.MaxAmount, req.DailyLimit)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "policy not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PolicyWindowHandler handles PUT /v1/policy/{asset}/{opType}/window
func (s *Server) PolicyWindowHandler(w http.ResponseWriter, r *http.Request) {
	asset, opType, ok := pairParams(w, r)
	if !ok {
		return
	}

	var req struct {
		ActivationTime int64 `json:"activation_time"`
		ExpirationTime int64 `json:"expiration_time"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.policies.SetTimeRestrictions(r.Context(), asset, opType, req.ActivationTime, req.ExpirationTime)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "policy not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WhitelistRequireHandler handles POST /v1/policy/{asset}/{opType}/whitelist/require
func (s *Server) WhitelistRequireHandler(w http.ResponseWriter, r *http.Request) {
	asset, opType, ok := pairParams(w, r)
	if !ok {
		return
	}

	if err := s.policies.EnableWhitelistRequirement(r.Context(), asset, opType); err != nil {
		if errors.Is(err, policy.ErrNotActive) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PolicyReadHandler handles GET /v1/policy/{asset}/{opType}.
// Never 404s: an absent policy reads as a zero-valued inactive one.
func (s *Server) PolicyReadHandler(w http.ResponseWriter, r *http.Request) {
	asset, opType, ok := pairParams(w, r)
	if !ok {
		return
	}

	pol, err := s.policies.Get(r.Context(), asset, opType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": pol})
}

// PolicyListHandler handles GET /v1/policy/{asset}
func (s *Server) PolicyListHandler(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	pols, err := s.policies.List(r.Context(), asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": pols})
}
