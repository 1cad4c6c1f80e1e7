package txn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/storage"
	"github.com/tinoosan/shopledger/internal/storage/memory"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func adminCtx() context.Context {
	return WithActor(context.Background(), Actor{ID: "owner", Role: RoleAdmin})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), Actor{ID: "clerk", Role: RoleStaff})
}

func createAccountOp(id uuid.UUID, name string) Operation {
	return Func{Op: OpAccountCreate, Fn: func(ctx context.Context, tx storage.Tx) (Result, error) {
		a := ledger.Account{ID: id, Code: name, Name: name, Kind: ledger.AccountKindCustomer, Balance: ledger.Zero("PKR")}
		if err := tx.CreateAccount(ctx, a); err != nil {
			return Result{}, err
		}
		return Result{ResourceID: id.String()}, nil
	}}
}

func countAccounts(t *testing.T, c *Coordinator) int {
	t.Helper()
	var n int
	require.NoError(t, c.View(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		as, err := tx.ListAccounts(ctx)
		n = len(as)
		return err
	}))
	return n
}

func TestExecute_RequiresActor(t *testing.T) {
	c := New(memory.New(), quietLogger(), Options{})
	_, err := c.Execute(context.Background(), createAccountOp(uuid.New(), "ali"))
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestExecute_AdminOnlyOperations(t *testing.T) {
	c := New(memory.New(), quietLogger(), Options{})
	called := false
	op := Func{Op: OpPurchaseDelete, Fn: func(context.Context, storage.Tx) (Result, error) {
		called = true
		return Result{}, nil
	}}

	_, err := c.Execute(staffCtx(), op)
	assert.ErrorIs(t, err, errs.ErrForbidden)
	assert.False(t, called)

	_, err = c.Execute(adminCtx(), op)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestExecute_IdempotentReplayAppliesNothing(t *testing.T) {
	c := New(memory.New(), quietLogger(), Options{})
	ctx := WithIdempotencyKey(staffCtx(), "req-1")
	id := uuid.New()

	first, err := c.Execute(ctx, createAccountOp(id, "ali"))
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	// a second apply would conflict on the name if it ran
	second, err := c.Execute(ctx, createAccountOp(uuid.New(), "ali"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, id.String(), second.ResourceID)
	assert.Equal(t, 1, countAccounts(t, c))
}

func TestExecute_KeyReusedForDifferentOperationConflicts(t *testing.T) {
	c := New(memory.New(), quietLogger(), Options{})
	ctx := WithIdempotencyKey(adminCtx(), "req-1")
	_, err := c.Execute(ctx, createAccountOp(uuid.New(), "ali"))
	require.NoError(t, err)

	_, err = c.Execute(ctx, Func{Op: OpBankCreate, Fn: func(context.Context, storage.Tx) (Result, error) {
		return Result{}, nil
	}})
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestExecute_FailedUnitDoesNotRecordKey(t *testing.T) {
	c := New(memory.New(), quietLogger(), Options{})
	ctx := WithIdempotencyKey(staffCtx(), "req-1")
	boom := errors.New("boom")
	_, err := c.Execute(ctx, Func{Op: OpAccountCreate, Fn: func(context.Context, storage.Tx) (Result, error) {
		return Result{}, boom
	}})
	require.ErrorIs(t, err, boom)

	res, err := c.Execute(ctx, createAccountOp(uuid.New(), "ali"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestExecute_TimeoutIsRetryable(t *testing.T) {
	c := New(memory.New(), quietLogger(), Options{Timeout: 10 * time.Millisecond})
	_, err := c.Execute(staffCtx(), Func{Op: OpAccountCreate, Fn: func(ctx context.Context, tx storage.Tx) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}})
	assert.ErrorIs(t, err, errs.ErrTxTimeout)
	assert.Equal(t, 0, countAccounts(t, c))
}

func TestExecute_WaitQueueBounded(t *testing.T) {
	c := New(memory.New(), quietLogger(), Options{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond, Timeout: time.Second})
	hold := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Execute(staffCtx(), Func{Op: OpAccountCreate, Fn: func(context.Context, storage.Tx) (Result, error) {
			close(started)
			<-hold
			return Result{}, nil
		}})
	}()
	<-started

	_, err := c.Execute(staffCtx(), createAccountOp(uuid.New(), "ali"))
	assert.ErrorIs(t, err, errs.ErrTxTimeout)

	close(hold)
	wg.Wait()
}
