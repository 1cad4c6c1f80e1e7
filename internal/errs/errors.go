package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound  = errors.New("not_found")
	ErrForbidden = errors.New("forbidden")
	// ErrConflict signals a unique-constraint violation (duplicate name/code/invoice)
	// or an idempotency key reused for a different operation.
	ErrConflict = errors.New("conflict")
	// ErrInvalid is returned for missing or malformed input, before any write.
	ErrInvalid = errors.New("invalid")
	// ErrTxTimeout means the atomic unit exceeded its time budget or wait queue.
	// Nothing was committed; the caller may retry.
	ErrTxTimeout = errors.New("tx_timeout")
	// ErrInUse blocks a delete while dependent records exist. See InUseError.
	ErrInUse = errors.New("in_use")
	// ErrDrift is soft: logged when a mirror or migration cannot find its counterpart.
	ErrDrift = errors.New("reconciliation_drift")
	// ErrSystemAccount indicates a system account cannot be modified/deleted
	ErrSystemAccount = errors.New("system_account")
)

// Invalidf wraps ErrInvalid with a field-level message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// InUseError enumerates the dependent records that block a delete.
type InUseError struct {
	Resource string
	Counts   map[string]int
}

func (e *InUseError) Error() string {
	keys := make([]string, 0, len(e.Counts))
	for k := range e.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%d %s", e.Counts[k], k))
	}
	return e.Resource + " has " + strings.Join(parts, ", ")
}

func (e *InUseError) Is(target error) bool { return target == ErrInUse }

// InUse returns an *InUseError when any count is positive, nil otherwise.
func InUse(resource string, counts map[string]int) error {
	blocking := make(map[string]int, len(counts))
	for k, n := range counts {
		if n > 0 {
			blocking[k] = n
		}
	}
	if len(blocking) == 0 {
		return nil
	}
	return &InUseError{Resource: resource, Counts: blocking}
}
