package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/assetgate/internal/whitelist"
	"github.com/org/assetgate/pkg/models"
)

// WhitelistAddHandler handles POST /v1/whitelist/{asset}/{opType}
func (s *Server) WhitelistAddHandler(w http.ResponseWriter, r *http.Request) {
	asset, opType, ok := pairParams(w, r)
	if !ok {
		return
	}

	var req struct {
		AccountID models.AccountID `json:"account_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.whitelist.Add(r.Context(), asset, opType, req.AccountID); err != nil {
		switch {
		case errors.Is(err, whitelist.ErrNilAccount):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, whitelist.ErrAlreadyMember):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WhitelistAddBatchHandler handles POST /v1/whitelist/{asset}/{opType}/batch.
// Nil and duplicate entries are skipped, never failed.
func (s *Server) WhitelistAddBatchHandler(w http.ResponseWriter, r *http.Request) {
	asset, opType, ok := pairParams(w, r)
	if !ok {
		return
	}

	var req struct {
		AccountIDs []models.AccountID `json:"account_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	added, err := s.whitelist.AddBatch(r.Context(), asset, opType, req.AccountIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added, "requested": len(req.AccountIDs)})
}

// WhitelistRemoveHandler handles DELETE /v1/whitelist/{asset}/{opType}/{id}
func (s *Server) WhitelistRemoveHandler(w http.ResponseWriter, r *http.Request) {
	asset, opType, ok := pairParams(w, r)
	if !ok {
		return
	}
	id := models.AccountID(chi.URLParam(r, "id"))

	if err := s.whitelist.Remove(r.Context(), asset, opType, id); err != nil {
		if errors.Is(err, whitelist.ErrNotMember) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WhitelistMemberHandler handles GET /v1/whitelist/{asset}/{opType}/{id}
func (s *Server) WhitelistMemberHandler(w http.ResponseWriter, r *http.Request) {
	asset, opType, ok := pairParams(w, r)
	if !ok {
		return
	}
	id := models.AccountID(chi.URLParam(r, "id"))

	member, err := s.whitelist.IsWhitelisted(r.Context(), asset, opType, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"whitelisted": member})
}

// WhitelistListHandler handles GET /v1/whitelist/{asset}/{opType}.
// Order of the returned members carries no meaning.
func (s *Server) WhitelistListHandler(w http.ResponseWriter, r *http.Request) {
	asset, opType, ok := pairParams(w, r)
	if !ok {
		return
	}

	members, err := s.whitelist.List(r.Context(), asset, opType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if members == nil {
		members = []models.AccountID{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": members})
}
