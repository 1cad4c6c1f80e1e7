package v1

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/service/journal"
)

// POST /v1/entries
func (s *Server) postEntry(w http.ResponseWriter, r *http.Request) {
	var req postEntryRequest
	if !s.decode(w, r, &req) {
		return
	}
	amt, err := s.amount(req.AmountMinor)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	in := journal.EntryInput{
		AccountID:   req.AccountID,
		Side:        ledger.Side(req.Side),
		Amount:      amt,
		Description: req.Description,
		Method:      ledger.PaymentMethod(req.Method),
		BankID:      req.BankID,
		Date:        dateOr(req.Date),
	}
	e, replayed, err := s.Entries.CreateEntry(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		w.Header().Set(replayedHeader, "true")
		status = http.StatusOK
	}
	w.Header().Set("Location", "/v1/entries/"+strconv.FormatInt(e.ID, 10))
	toJSON(w, status, toEntryResponse(e))
}

// GET /v1/entries?account_id=
func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	accountID, ok := uuidQuery(w, r, "account_id")
	if !ok {
		return
	}
	if accountID == uuid.Nil {
		badRequest(w, "account_id is required")
		return
	}
	es, err := s.Entries.ListEntries(r.Context(), accountID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]entryResponse, 0, len(es))
	for _, e := range es {
		out = append(out, toEntryResponse(e))
	}
	toJSON(w, http.StatusOK, out)
}

// GET /v1/entries/{id}
func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	e, err := s.Entries.GetEntry(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toEntryResponse(e))
}

// DELETE /v1/entries/{id}
func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	if err := s.Entries.DeleteEntry(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
