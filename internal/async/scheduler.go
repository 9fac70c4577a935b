package async

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/ooni/tlsprovider/internal/model"
	"github.com/ooni/tlsprovider/internal/netsock"
	"github.com/ooni/tlsprovider/internal/runtimex"
	"golang.org/x/sys/unix"
)

// Coroutine is a state machine driven by Run.
type Coroutine[T any] interface {
	// Act performs the next step and returns what to do next.
	Act() Action

	// Result returns the result after Act returned Finish.
	Result() T

	// Close releases the resources held by the coroutine. The scheduler
	// calls Close exactly once after the coroutine terminates, fails, or
	// is interrupted.
	Close() error
}

// Default scheduler settings.
const (
	DefaultRetryInterval = 10 * time.Millisecond
	DefaultPollSlice     = 100 * time.Millisecond
)

// ErrUnknownAction indicates that a coroutine returned an invalid Action.
var ErrUnknownAction = errors.New("async: unknown action")

// Scheduler runs coroutines. The zero value is ready to use.
type Scheduler struct {
	// Logger is the optional logger.
	Logger model.DebugLogger

	// PollSlice is the maximum time spent in a single poll before checking
	// whether the context is done. Zero means DefaultPollSlice.
	PollSlice time.Duration

	// RetryInterval is the time waited by WaitRetry. Zero means
	// DefaultRetryInterval.
	RetryInterval time.Duration
}

func (s *Scheduler) logger() model.DebugLogger {
	if s != nil && s.Logger != nil {
		return s.Logger
	}
	return model.DiscardLogger
}

func (s *Scheduler) pollSlice() time.Duration {
	if s != nil && s.PollSlice > 0 {
		return s.PollSlice
	}
	return DefaultPollSlice
}

func (s *Scheduler) retryInterval() time.Duration {
	if s != nil && s.RetryInterval > 0 {
		return s.RetryInterval
	}
	return DefaultRetryInterval
}

// Run drives co until it terminates or ctx is done and returns its result.
// Run always calls co.Close exactly once before returning. A nil scheduler
// uses the default settings.
func Run[T any](ctx context.Context, s *Scheduler, co Coroutine[T]) (T, error) {
	runtimex.Assert(co != nil, "async: nil coroutine")
	defer func() {
		if err := co.Close(); err != nil {
			s.logger().Debugf("async: close: %s", err.Error())
		}
	}()
	var zero T
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		action := co.Act()
		switch action.kind {
		case actionRepeat:
			// nothing
		case actionYield:
			runtime.Gosched()
		case actionWaitRetry:
			if err := s.sleep(ctx); err != nil {
				return zero, err
			}
		case actionWaitWritable:
			if err := netsock.Poll(ctx, action.fd, unix.POLLOUT, s.pollSlice()); err != nil {
				return zero, err
			}
		case actionWaitReadable:
			if err := netsock.Poll(ctx, action.fd, unix.POLLIN, s.pollSlice()); err != nil {
				return zero, err
			}
		case actionWaitReady:
			select {
			case <-action.ready:
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		case actionFinish:
			return co.Result(), nil
		case actionFail:
			return zero, action.err
		default:
			return zero, ErrUnknownAction
		}
	}
}

func (s *Scheduler) sleep(ctx context.Context) error {
	timer := time.NewTimer(s.retryInterval())
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs co in a background goroutine and returns a Future
// completed with the result of Run.
func Start[T any](ctx context.Context, s *Scheduler, co Coroutine[T]) *Future[T] {
	runtimex.Assert(co != nil, "async: nil coroutine")
	future := newFuture[T]()
	go func() {
		future.complete(Run(ctx, s, co))
	}()
	return future
}
