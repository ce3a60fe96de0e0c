package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tathienbao/quant-exec/internal/types"
)

// lockMap hands out one mutex per position, created lazily and cached.
// Acquisition is bounded by a timeout so a stuck holder cannot wedge the
// update stream.
type lockMap struct {
	locks sync.Map // position id -> chan struct{}
}

func (m *lockMap) get(id string) chan struct{} {
	if l, ok := m.locks.Load(id); ok {
		return l.(chan struct{})
	}
	l, _ := m.locks.LoadOrStore(id, make(chan struct{}, 1))
	return l.(chan struct{})
}

// acquire locks id and returns its release func. It fails with
// ErrLockTimeout after timeout, or with the context error.
func (m *lockMap) acquire(ctx context.Context, id string, timeout time.Duration) (func(), error) {
	l := m.get(id)

	// Fast path.
	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: position %s after %s", types.ErrLockTimeout, id, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

