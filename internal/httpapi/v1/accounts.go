package v1

import (
	"fmt"
	"net/http"

	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/report"
	"github.com/tinoosan/shopledger/internal/service/account"
)

// POST /v1/accounts
func (s *Server) postAccount(w http.ResponseWriter, r *http.Request) {
	var req postAccountRequest
	if !s.decode(w, r, &req) {
		return
	}
	opening, err := s.amount(req.OpeningBalanceMinor)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	in := account.CreateInput{
		Name:           req.Name,
		Code:           req.Code,
		Kind:           ledger.AccountKind(req.Kind),
		Phone:          req.Phone,
		OpeningBalance: opening,
		Date:           dateOr(req.Date),
	}
	a, err := s.Accounts.Create(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/accounts/"+a.ID.String())
	toJSON(w, http.StatusCreated, toAccountResponse(a))
}

// GET /v1/accounts?kind=
func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	kind := ledger.AccountKind(r.URL.Query().Get("kind"))
	as, err := s.Accounts.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]accountResponse, 0, len(as))
	for _, a := range as {
		if kind != "" && a.Kind != kind {
			continue
		}
		out = append(out, toAccountResponse(a))
	}
	toJSON(w, http.StatusOK, out)
}

// GET /v1/accounts/{id}
func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	a, err := s.Accounts.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toAccountResponse(a))
}

// PATCH /v1/accounts/{id}
func (s *Server) patchAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req patchAccountRequest
	if !s.decode(w, r, &req) {
		return
	}
	a, err := s.Accounts.Update(r.Context(), account.UpdateInput{ID: id, Name: req.Name, Code: req.Code, Phone: req.Phone})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toAccountResponse(a))
}

// DELETE /v1/accounts/{id}
func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := s.Accounts.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/accounts/{id}/adjust-balance
func (s *Server) adjustBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req adjustBalanceRequest
	if !s.decode(w, r, &req) {
		return
	}
	target, err := s.amount(*req.BalanceMinor)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	adj, err := s.Accounts.AdjustBalance(r.Context(), id, target, dateOr(req.Date))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := adjustmentResponse{Account: toAccountResponse(adj.Account)}
	if adj.Entry != nil {
		e := toEntryResponse(*adj.Entry)
		resp.Entry = &e
	}
	toJSON(w, http.StatusOK, resp)
}

// POST /v1/accounts/{id}/reconcile
func (s *Server) reconcileAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	d, drifted, err := s.Reconcile.Account(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := map[string]any{"account_id": id, "repaired": drifted}
	if drifted {
		resp["drift"] = toDriftResponse(d)
	}
	toJSON(w, http.StatusOK, resp)
}

// GET /v1/accounts/{id}/ledger
func (s *Server) getAccountLedger(w http.ResponseWriter, r *http.Request) {
	st, ok := s.statement(w, r)
	if !ok {
		return
	}
	toJSON(w, http.StatusOK, toLedgerResponse(st))
}

// GET /v1/accounts/{id}/statement.xlsx
func (s *Server) getAccountStatementXLSX(w http.ResponseWriter, r *http.Request) {
	st, ok := s.statement(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-statement.xlsx"`, st.Account.Code))
	if err := report.WriteXLSX(w, st); err != nil {
		// headers are gone once the body starts
		s.log.Error("statement export failed", "account_id", st.Account.ID.String(), "err", err)
	}
}

func (s *Server) statement(w http.ResponseWriter, r *http.Request) (report.Statement, bool) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return report.Statement{}, false
	}
	st, err := s.Reports.Statement(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return report.Statement{}, false
	}
	return st, true
}
