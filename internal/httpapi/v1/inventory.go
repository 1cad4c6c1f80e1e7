package v1

import (
	"net/http"

	"github.com/tinoosan/shopledger/internal/service/inventory"
)

// POST /v1/products
func (s *Server) postProduct(w http.ResponseWriter, r *http.Request) {
	var req postProductRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.Inventory.CreateProduct(r.Context(), inventory.ProductInput{Name: req.Name, SKU: req.SKU})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toProductResponse(p))
}

// GET /v1/products
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := s.Inventory.ListProducts(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]productResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProductResponse(p))
	}
	toJSON(w, http.StatusOK, out)
}

// GET /v1/products/{id}
func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	p, err := s.Inventory.GetProduct(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toProductResponse(p))
}

// DELETE /v1/products/{id}
func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := s.Inventory.DeleteProduct(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/banks
func (s *Server) postBank(w http.ResponseWriter, r *http.Request) {
	var req postBankRequest
	if !s.decode(w, r, &req) {
		return
	}
	opening, err := s.amount(req.OpeningBalanceMinor)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	b, err := s.Inventory.CreateBank(r.Context(), inventory.BankInput{Name: req.Name, AccountNo: req.AccountNo, OpeningBalance: opening})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toBankResponse(b))
}

// GET /v1/banks
func (s *Server) listBanks(w http.ResponseWriter, r *http.Request) {
	bs, err := s.Inventory.ListBanks(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]bankResponse, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBankResponse(b))
	}
	toJSON(w, http.StatusOK, out)
}

// GET /v1/banks/{id}
func (s *Server) getBank(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	b, err := s.Inventory.GetBank(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toBankResponse(b))
}
