package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/report"
	"github.com/tinoosan/shopledger/internal/service/account"
	"github.com/tinoosan/shopledger/internal/service/cash"
	"github.com/tinoosan/shopledger/internal/service/inventory"
	"github.com/tinoosan/shopledger/internal/service/journal"
	"github.com/tinoosan/shopledger/internal/service/migrate"
	"github.com/tinoosan/shopledger/internal/service/purchase"
	"github.com/tinoosan/shopledger/internal/service/reconcile"
	"github.com/tinoosan/shopledger/internal/service/txn"
	"github.com/tinoosan/shopledger/internal/storage/memory"
)

const testSecret = "test-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type moneyResp struct {
	Minor int64  `json:"minor"`
	Amount string `json:"amount"`
}

type acctResp struct {
	ID      string    `json:"id"`
	Code    string    `json:"code"`
	Name    string    `json:"name"`
	Kind    string    `json:"kind"`
	Balance moneyResp `json:"balance"`
	System  bool      `json:"system"`
}

type entryResp struct {
	ID        int64     `json:"id"`
	AccountID string    `json:"account_id"`
	Side      string    `json:"side"`
	Amount    moneyResp `json:"amount"`
	MirrorOf  *int64    `json:"mirror_of"`
}

type errResp struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details"`
	Counts  map[string]int    `json:"counts"`
}

type env struct {
	h      http.Handler
	srv    *Server
	cashID uuid.UUID
}

func setup(t *testing.T, secret string) env {
	t.Helper()
	log := testLogger()
	store := memory.New()
	policy := cash.New("cash", "Cash Account", "PKR", log)
	acc, err := policy.Resolve(context.Background(), store)
	require.NoError(t, err)
	coord := txn.New(store, log, txn.Options{})
	srv := New(Deps{
		Accounts:  account.New(coord, "PKR"),
		Entries:   journal.New(coord, policy, "PKR"),
		Purchases: purchase.New(coord, policy, "PKR"),
		Inventory: inventory.New(coord, "PKR"),
		Reconcile: reconcile.New(coord, "PKR", 2, log),
		Migrate:   migrate.New(coord, policy, "Cash", log),
		Reports:   report.New(coord, "PKR"),
		Ready:     store.Ready,
	}, Options{Currency: "PKR", JWTSecret: secret}, log)
	return env{h: srv.Handler(), srv: srv, cashID: acc.ID}
}

func token(t *testing.T, sub string, role txn.Role) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

type call struct {
	method, path string
	body         any
	token        string
	headers      map[string]string
}

func (e env) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(c.method, c.path, rdr)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (e env) createAccount(t *testing.T, name, kind string, opening int64) acctResp {
	t.Helper()
	rr := e.do(t, call{method: http.MethodPost, path: "/v1/accounts", body: map[string]any{"name": name, "kind": kind, "opening_balance_minor": opening}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeBody[acctResp](t, rr)
}

func (e env) balance(t *testing.T, id string) int64 {
	t.Helper()
	rr := e.do(t, call{method: http.MethodGet, path: "/v1/accounts/" + id})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decodeBody[acctResp](t, rr).Balance.Minor
}

func TestAccounts_OpeningBalanceAndAdjust(t *testing.T) {
	e := setup(t, "")
	ali := e.createAccount(t, "Ali", "customer", 50000)
	assert.Equal(t, "ali", ali.Code)
	assert.Equal(t, int64(50000), ali.Balance.Minor)
	assert.Equal(t, "500.00", ali.Balance.Amount)

	rr := e.do(t, call{method: http.MethodPost, path: "/v1/accounts/" + ali.ID + "/adjust-balance", body: map[string]any{"balance_minor": 30000}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	adj := decodeBody[struct {
		Account acctResp   `json:"account"`
		Entry   *entryResp `json:"entry"`
	}](t, rr)
	assert.Equal(t, int64(30000), adj.Account.Balance.Minor)
	require.NotNil(t, adj.Entry)
	assert.Equal(t, "CREDIT", adj.Entry.Side)
	assert.Equal(t, int64(20000), adj.Entry.Amount.Minor)

	rr = e.do(t, call{method: http.MethodGet, path: "/v1/accounts/" + ali.ID + "/ledger"})
	require.Equal(t, http.StatusOK, rr.Code)
	led := decodeBody[struct {
		Lines []struct {
			Running moneyResp `json:"running_balance"`
		} `json:"lines"`
		Closing moneyResp `json:"closing_balance"`
		Drifted bool      `json:"drifted"`
	}](t, rr)
	require.Len(t, led.Lines, 2)
	assert.Equal(t, int64(50000), led.Lines[0].Running.Minor)
	assert.Equal(t, int64(30000), led.Closing.Minor)
	assert.False(t, led.Drifted)

	second := e.createAccount(t, "Ali", "customer", 0)
	assert.Equal(t, "ali_2", second.Code)
}

func TestEntries_CashMirrorAndReplay(t *testing.T) {
	e := setup(t, "")
	ali := e.createAccount(t, "Ali", "customer", 0)
	body := map[string]any{"account_id": ali.ID, "side": "CREDIT", "amount_minor": 24000, "description": "Advance for suit", "method": "CASH"}
	key := map[string]string{idempotencyHeader: "advance-ali-1"}

	rr := e.do(t, call{method: http.MethodPost, path: "/v1/entries", body: body, headers: key})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	first := decodeBody[entryResp](t, rr)

	rr = e.do(t, call{method: http.MethodPost, path: "/v1/entries", body: body, headers: key})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "true", rr.Header().Get(replayedHeader))
	assert.Equal(t, first.ID, decodeBody[entryResp](t, rr).ID)

	assert.Equal(t, int64(-24000), e.balance(t, ali.ID))
	assert.Equal(t, int64(24000), e.balance(t, e.cashID.String()))

	rr = e.do(t, call{method: http.MethodGet, path: "/v1/entries?account_id=" + e.cashID.String()})
	require.Equal(t, http.StatusOK, rr.Code)
	mirrors := decodeBody[[]entryResp](t, rr)
	require.Len(t, mirrors, 1)
	require.NotNil(t, mirrors[0].MirrorOf)
	assert.Equal(t, first.ID, *mirrors[0].MirrorOf)

	rr = e.do(t, call{method: http.MethodDelete, path: fmt.Sprintf("/v1/entries/%d", mirrors[0].ID)})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "mirrors go with their primary")

	rr = e.do(t, call{method: http.MethodDelete, path: fmt.Sprintf("/v1/entries/%d", first.ID)})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	assert.Equal(t, int64(0), e.balance(t, ali.ID))
	assert.Equal(t, int64(0), e.balance(t, e.cashID.String()))
}

func TestRequestValidation(t *testing.T) {
	e := setup(t, "")
	ali := e.createAccount(t, "Ali", "customer", 0)

	rr := e.do(t, call{method: http.MethodPost, path: "/v1/entries", body: map[string]any{"account_id": ali.ID, "side": "sideways", "amount_minor": 100}})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	er := decodeBody[errResp](t, rr)
	assert.Equal(t, "validation_error", er.Code)
	assert.Contains(t, er.Details, "Side")

	rr = e.do(t, call{method: http.MethodPost, path: "/v1/entries", body: map[string]any{"account_id": ali.ID, "side": "DEBIT", "amount_minor": 100, "method": "BANK"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "BANK needs bank_id")

	rr = e.do(t, call{method: http.MethodPost, path: "/v1/accounts", body: map[string]any{"name": "Galla", "kind": "cash"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = e.do(t, call{method: http.MethodPost, path: "/v1/purchases", body: map[string]any{
		"supplier_id": uuid.NewString(), "invoice_no": "INV-9",
		"items": []map[string]any{{"product_id": uuid.NewString(), "quantity": int64(1<<62 + 1), "unit_cost_minor": 4}},
	}})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	assert.Contains(t, decodeBody[errResp](t, rr).Details, "Quantity")

	req := httptest.NewRequest(http.MethodPost, "/v1/accounts", bytes.NewBufferString(`{"name":"x"`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/accounts", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rr = e.do(t, call{method: http.MethodGet, path: "/v1/accounts/not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = e.do(t, call{method: http.MethodGet, path: "/v1/accounts/" + uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAccountDelete_InUseAndSystem(t *testing.T) {
	e := setup(t, "")
	ali := e.createAccount(t, "Ali", "customer", 50000)

	rr := e.do(t, call{method: http.MethodDelete, path: "/v1/accounts/" + ali.ID})
	require.Equal(t, http.StatusConflict, rr.Code)
	er := decodeBody[errResp](t, rr)
	assert.Equal(t, "in_use", er.Code)
	assert.Equal(t, 1, er.Counts["journal entries"])

	rr = e.do(t, call{method: http.MethodDelete, path: "/v1/accounts/" + e.cashID.String()})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	empty := e.createAccount(t, "Bilal", "customer", 0)
	rr = e.do(t, call{method: http.MethodDelete, path: "/v1/accounts/" + empty.ID})
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestPurchases_CreateAndDeleteRestoresBalances(t *testing.T) {
	e := setup(t, "")
	supplier := e.createAccount(t, "Hamid Fabrics", "supplier", 0)
	rr := e.do(t, call{method: http.MethodPost, path: "/v1/products", body: map[string]any{"name": "Lawn"}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	product := decodeBody[struct {
		ID    string `json:"id"`
		Stock int64  `json:"stock"`
	}](t, rr)

	rr = e.do(t, call{method: http.MethodPost, path: "/v1/purchases", body: map[string]any{
		"supplier_id": supplier.ID,
		"invoice_no":  "INV-1",
		"items":       []map[string]any{{"product_id": product.ID, "quantity": 10, "unit_cost_minor": 10000}},
		"payments":    []map[string]any{{"amount_minor": 40000, "method": "CASH"}},
	}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	p := decodeBody[struct {
		ID    string    `json:"id"`
		Total moneyResp `json:"total"`
		Paid  moneyResp `json:"paid"`
	}](t, rr)
	assert.Equal(t, int64(100000), p.Total.Minor)
	assert.Equal(t, int64(40000), p.Paid.Minor)
	assert.Equal(t, int64(-60000), e.balance(t, supplier.ID))
	assert.Equal(t, int64(-40000), e.balance(t, e.cashID.String()))

	rr = e.do(t, call{method: http.MethodGet, path: "/v1/products/" + product.ID})
	assert.Equal(t, int64(10), decodeBody[struct {
		Stock int64 `json:"stock"`
	}](t, rr).Stock)

	rr = e.do(t, call{method: http.MethodDelete, path: "/v1/purchases/" + p.ID})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	assert.Equal(t, int64(0), e.balance(t, supplier.ID))
	assert.Equal(t, int64(0), e.balance(t, e.cashID.String()))

	rr = e.do(t, call{method: http.MethodGet, path: "/v1/purchases/" + p.ID})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAuth_JWTRoles(t *testing.T) {
	e := setup(t, testSecret)
	admin := token(t, "owner", txn.RoleAdmin)
	staff := token(t, "clerk", txn.RoleStaff)

	rr := e.do(t, call{method: http.MethodGet, path: "/v1/accounts"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = e.do(t, call{method: http.MethodGet, path: "/v1/accounts", token: "not.a.jwt"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = e.do(t, call{method: http.MethodPost, path: "/v1/accounts", token: staff, body: map[string]any{"name": "Ali", "kind": "customer", "opening_balance_minor": 100}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	ali := decodeBody[acctResp](t, rr)

	rr = e.do(t, call{method: http.MethodPost, path: "/v1/accounts/" + ali.ID + "/adjust-balance", token: staff, body: map[string]any{"balance_minor": 0}})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = e.do(t, call{method: http.MethodPost, path: "/v1/reconcile", token: staff})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(t, call{method: http.MethodPost, path: "/v1/reconcile", token: admin})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rep := decodeBody[struct {
		Accounts int `json:"accounts"`
		Repaired int `json:"repaired"`
	}](t, rr)
	assert.Equal(t, 2, rep.Accounts)
	assert.Equal(t, 0, rep.Repaired)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}}).SignedString([]byte("other"))
	require.NoError(t, err)
	rr = e.do(t, call{method: http.MethodPost, path: "/v1/reconcile", token: forged})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = e.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rr.Code, "health is unauthenticated")
}

func TestLegacyCashMigrationEndpoint(t *testing.T) {
	e := setup(t, "")
	rr := e.do(t, call{method: http.MethodPost, path: "/v1/migrations/legacy-cash"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rep := decodeBody[map[string]int](t, rr)
	assert.Equal(t, 0, rep["posted"])
}

func TestStatementXLSX(t *testing.T) {
	e := setup(t, "")
	ali := e.createAccount(t, "Ali", "customer", 50000)

	rr := e.do(t, call{method: http.MethodGet, path: "/v1/accounts/" + ali.ID + "/statement.xlsx"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "ali-statement.xlsx")

	f, err := excelize.OpenReader(rr.Body)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue("Statement", "G6")
	require.NoError(t, err)
	assert.Equal(t, "500.00", v)
}

func TestHealthReadyMetricsDictionary(t *testing.T) {
	e := setup(t, "")
	for _, p := range []string{"/healthz", "/readyz", "/metrics", "/v1/dictionary"} {
		rr := e.do(t, call{method: http.MethodGet, path: p})
		assert.Equal(t, http.StatusOK, rr.Code, p)
	}
	rr := e.do(t, call{method: http.MethodGet, path: "/metrics"})
	assert.Contains(t, rr.Body.String(), "shopledger_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	base := setup(t, testSecret)
	e := env{h: New(base.srv.Deps, Options{Currency: "PKR", JWTSecret: testSecret, AllowedOrigins: []string{"https://shop.example"}}, testLogger()).Handler()}

	rr := e.do(t, call{method: http.MethodOptions, path: "/v1/entries", headers: map[string]string{
		"Origin":                         "https://shop.example",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "Idempotency-Key",
	}})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://shop.example", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = e.do(t, call{method: http.MethodGet, path: "/v1/accounts", headers: map[string]string{"Origin": "https://other.example"}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestWriteServiceError_StatusMapping(t *testing.T) {
	e := setup(t, "")
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{errs.Invalidf("amount must be > 0"), http.StatusUnprocessableEntity, "validation_error"},
		{fmt.Errorf("account: %w", errs.ErrNotFound), http.StatusNotFound, "not_found"},
		{errs.ErrConflict, http.StatusConflict, "conflict"},
		{errs.InUse("product", map[string]int{"purchase items": 2}), http.StatusConflict, "in_use"},
		{fmt.Errorf("%w: %w", errs.ErrForbidden, errs.ErrSystemAccount), http.StatusForbidden, "system_account"},
		{errs.ErrForbidden, http.StatusForbidden, "forbidden"},
		{fmt.Errorf("%w: waited 5s", errs.ErrTxTimeout), http.StatusServiceUnavailable, "tx_timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		e.srv.writeServiceError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		assert.Equal(t, tc.status, rr.Code, tc.err.Error())
		assert.Equal(t, tc.code, decodeBody[errResp](t, rr).Code, tc.err.Error())
		if tc.status == http.StatusServiceUnavailable {
			assert.Equal(t, "2", rr.Header().Get("Retry-After"))
		}
	}
}
