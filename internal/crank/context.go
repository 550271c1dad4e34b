package crank

import "context"

type requestIDKey struct{}

// WithRequestID tags ctx with the id of the trigger that started the work.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// runLock serializes work signed by the one authority key. A second caller
// waits for the first to finish.
type runLock chan struct{}

func newRunLock() runLock { return make(runLock, 1) }

func (l runLock) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l runLock) release() { <-l }
