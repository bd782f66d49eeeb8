package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/org/assetgate/internal/storage"
	"github.com/org/assetgate/pkg/models"
)

// TokenCreateHandler handles POST /v1/auth/token/create
func (s *Server) TokenCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName  string   `json:"display_name"`
		Capabilities []string `json:"capabilities"`
		TTL          string   `json:"ttl"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		var err error
		ttl, err = time.ParseDuration(req.TTL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ttl format")
			return
		}
	}

	if len(req.Capabilities) == 0 {
		req.Capabilities = []string{models.CapValidate}
	}
	for _, c := range req.Capabilities {
		if c != models.CapManagement && c != models.CapValidate {
			writeError(w, http.StatusBadRequest, "unknown capability: "+c)
			return
		}
	}

	token, plaintext, err := s.tokens.CreateToken(r.Context(), req.DisplayName, req.Capabilities, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.refreshGauges(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"client_token":   plaintext,
			"token_id":       token.ID,
			"capabilities":   token.Capabilities,
			"lease_duration": int(token.TTL.Seconds()),
		},
	})
}

// TokenRevokeHandler handles POST /v1/auth/token/revoke
func (s *Server) TokenRevokeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token   string `json:"token"`
		TokenID string `json:"token_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tokenID := req.TokenID
	if tokenID == "" {
		// Revoke by plaintext: validate to resolve the ID.
		tok, err := s.tokens.ValidateToken(r.Context(), req.Token)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tokenID = tok.ID
	}

	if err := s.tokens.RevokeToken(r.Context(), tokenID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "token not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.refreshGauges(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
