package v1

import (
	"net/http"

	"github.com/tinoosan/shopledger/internal/dictionary"
)

// GET /v1/dictionary
func (s *Server) getDictionary(w http.ResponseWriter, r *http.Request) {
	toJSON(w, http.StatusOK, struct {
		AccountKinds   []dictionary.Def `json:"account_kinds"`
		PaymentMethods []dictionary.Def `json:"payment_methods"`
		Currency       string           `json:"currency"`
	}{
		AccountKinds:   dictionary.AccountKinds(),
		PaymentMethods: dictionary.PaymentMethods(),
		Currency:       s.opts.Currency,
	})
}
