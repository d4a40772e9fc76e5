package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFutureSettleOnce(t *testing.T) {
	f := newFuture()
	require.False(t, f.isSettled())

	f.settle(errors.New("boom"))
	f.settle(nil) // second settle must be a no-op

	require.True(t, f.isSettled())
	require.EqualError(t, f.wait(context.Background()), "boom")
}

func TestFutureWaitRespectsContext(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := f.wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFutureWaitUnblocksOnSettle(t *testing.T) {
	f := newFuture()
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.settle(nil)
	}()

	require.NoError(t, f.wait(context.Background()))
}
