package v1

import (
	"net/http"

	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/service/purchase"
)

func (s *Server) toPurchaseInput(req postPurchaseRequest) (purchase.CreateInput, error) {
	in := purchase.CreateInput{
		SupplierID: req.SupplierID,
		InvoiceNo:  req.InvoiceNo,
		Date:       dateOr(req.Date),
		Notes:      req.Notes,
		Items:      make([]purchase.ItemInput, 0, len(req.Items)),
		Payments:   make([]purchase.PaymentInput, 0, len(req.Payments)),
	}
	for _, it := range req.Items {
		cost, err := s.amount(it.UnitCostMinor)
		if err != nil {
			return purchase.CreateInput{}, err
		}
		in.Items = append(in.Items, purchase.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity, UnitCost: cost})
	}
	for _, pm := range req.Payments {
		amt, err := s.amount(pm.AmountMinor)
		if err != nil {
			return purchase.CreateInput{}, err
		}
		in.Payments = append(in.Payments, purchase.PaymentInput{Amount: amt, Method: ledger.PaymentMethod(pm.Method), BankID: pm.BankID, Reference: pm.Reference})
	}
	return in, nil
}

// POST /v1/purchases
func (s *Server) postPurchase(w http.ResponseWriter, r *http.Request) {
	var req postPurchaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	in, err := s.toPurchaseInput(req)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	p, err := s.Purchases.Create(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/purchases/"+p.ID.String())
	toJSON(w, http.StatusCreated, toPurchaseResponse(p, s.opts.Currency))
}

// GET /v1/purchases?supplier_id=
func (s *Server) listPurchases(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := uuidQuery(w, r, "supplier_id")
	if !ok {
		return
	}
	ps, err := s.Purchases.List(r.Context(), supplierID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]purchaseResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPurchaseResponse(p, s.opts.Currency))
	}
	toJSON(w, http.StatusOK, out)
}

// GET /v1/purchases/{id}
func (s *Server) getPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	p, err := s.Purchases.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toPurchaseResponse(p, s.opts.Currency))
}

// DELETE /v1/purchases/{id}
func (s *Server) deletePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := s.Purchases.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
