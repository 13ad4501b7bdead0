package runtime

import (
	"context"
	"fmt"
	"time"

	xerrors "orchestrall/internal/errors"
)

// invokeWithTimeout runs fn under a bounded deadline. When the deadline
// expires the invocation is abandoned: the goroutine may still be running,
// but the caller gets a TIMEOUT error instead of blocking on a misbehaving
// plugin.
func invokeWithTimeout(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) (err error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s panicked: %v", op, r)
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return xerrors.Wrap(xerrors.CodeTimeout, callCtx.Err(), op+" abandoned after deadline")
	}
}
