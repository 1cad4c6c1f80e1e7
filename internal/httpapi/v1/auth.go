package v1

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinoosan/shopledger/internal/service/txn"
)

// DevActor is the principal every request runs as when no JWT secret is configured.
var DevActor = txn.Actor{ID: "dev", Role: txn.RoleAdmin}

// Claims are the bearer token claims: sub is the actor ID, role its Role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func parseBearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// actorFromToken verifies an HS256 token and returns the actor it names.
func actorFromToken(tok, secret string) (txn.Actor, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(tok, &c, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return txn.Actor{}, err
	}
	role := txn.Role(strings.ToLower(c.Role))
	if c.Subject == "" || !role.Valid() {
		return txn.Actor{}, jwt.ErrTokenInvalidClaims
	}
	return txn.Actor{ID: c.Subject, Role: role}, nil
}

// authenticate attaches the request's actor to its context. With an empty
// secret every request is DevActor.
func authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r.WithContext(txn.WithActor(r.Context(), DevActor)))
				return
			}
			tok, ok := parseBearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="shopledger"`)
				writeErr(w, http.StatusUnauthorized, "missing bearer token", "unauthorized")
				return
			}
			actor, err := actorFromToken(tok, secret)
			if err != nil {
				writeErr(w, http.StatusUnauthorized, "invalid token", "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(txn.WithActor(r.Context(), actor)))
		})
	}
}
