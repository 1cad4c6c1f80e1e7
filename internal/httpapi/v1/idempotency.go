package v1

import (
	"net/http"

	"github.com/tinoosan/shopledger/internal/service/txn"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxKeyLen         = 200
)

// idempotency forwards the Idempotency-Key header to the coordinator, which
// records it in the same transaction as the mutation.
func idempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxKeyLen {
			badRequest(w, "Idempotency-Key too long")
			return
		}
		next.ServeHTTP(w, r.WithContext(txn.WithIdempotencyKey(r.Context(), key)))
	})
}
