package api

import (
	"math"
	"net/http"
	"time"

	"github.com/org/assetgate/pkg/models"
)

// maxWireAmount caps uint64 quantities accepted on the wire. Amounts
// and limits are persisted in BIGINT columns, so anything above
// MaxInt64 cannot round-trip through storage.
const maxWireAmount = math.MaxInt64

// ValidateHandler handles POST /v1/validate. This is the mutating
// decision path: an approval commits the amount to the principal's
// daily usage.
func (s *Server) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetID   string           `json:"asset_id"`
		Principal models.AccountID `json:"principal"`
		Target    models.AccountID `json:"target"`
		OpType    string           `json:"op_type"`
		Amount    uint64           `json:"amount"`
		Now       int64            `json:"now"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AssetID == "" || req.Principal.IsNil() {
		writeError(w, http.StatusBadRequest, "asset_id and principal are required")
		return
	}
	if !models.KnownOpType(req.OpType) {
		writeError(w, http.StatusBadRequest, "unknown operation type: "+req.OpType)
		return
	}
	if req.Amount > maxWireAmount {
		writeError(w, http.StatusBadRequest, "amount out of range")
		return
	}
	if req.Now == 0 {
		req.Now = time.Now().Unix()
	}

	decision, err := s.evaluator.Validate(r.Context(), req.AssetID, req.Principal, req.Target, req.OpType, req.Amount, req.Now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	observeDecision(req.OpType, decision.Approved)
	writeJSON(w, http.StatusOK, decision)
}

// PreviewHandler handles POST /v1/preview. Read-only; skips the
// time-window rule and never consumes quota — see Evaluator.Preview.
func (s *Server) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetID   string           `json:"asset_id"`
		Principal models.AccountID `json:"principal"`
		OpType    string           `json:"op_type"`
		Amount    uint64           `json:"amount"`
		Now       int64            `json:"now"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AssetID == "" || req.Principal.IsNil() {
		writeError(w, http.StatusBadRequest, "asset_id and principal are required")
		return
	}
	if !models.KnownOpType(req.OpType) {
		writeError(w, http.StatusBadRequest, "unknown operation type: "+req.OpType)
		return
	}
	if req.Amount > maxWireAmount {
		writeError(w, http.StatusBadRequest, "amount out of range")
		return
	}
	if req.Now == 0 {
		req.Now = time.Now().Unix()
	}

	decision, err := s.evaluator.Preview(r.Context(), req.AssetID, req.Principal, req.OpType, req.Amount, req.Now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
