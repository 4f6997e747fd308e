package relay

import (
	"context"
	"runtime/debug"
)

// fanOut runs fn for indexes 0..n-1 concurrently and returns the first
// error, without waiting for the remaining calls. Calls still running keep
// running; their results are drained into a buffered channel. Panics become
// *PanicError values labelled with msgType.
func fanOut(ctx context.Context, n int, msgType string, fn func(ctx context.Context, i int) error) error {
	switch n {
	case 0:
		return nil
	case 1:
		return safeCall(msgType, func() error { return fn(ctx, 0) })
	}

	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			errCh <- safeCall(msgType, func() error { return fn(ctx, i) })
		}(i)
	}

	for i := 0; i < n; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func safeCall(msgType string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewPanicError(msgType, r, string(debug.Stack()))
		}
	}()
	return fn()
}
