// Package async contains a small cooperative scheduler. A Coroutine is a
// state machine whose Act method returns an Action telling the scheduler
// what to do next: run again, wait for a file descriptor or a channel,
// or terminate.
package async

import "fmt"

// actionKind is the kind of an Action.
type actionKind int

const (
	actionRepeat = actionKind(iota)
	actionYield
	actionWaitRetry
	actionWaitWritable
	actionWaitReadable
	actionWaitReady
	actionFinish
	actionFail
)

// Action is the value returned by Coroutine.Act.
type Action struct {
	kind  actionKind
	fd    int
	ready <-chan struct{}
	err   error
}

// Repeat runs the coroutine again immediately.
func Repeat() Action {
	return Action{kind: actionRepeat}
}

// Yield lets other goroutines run before running the coroutine again.
func Yield() Action {
	return Action{kind: actionYield}
}

// WaitRetry runs the coroutine again after the scheduler retry interval.
func WaitRetry() Action {
	return Action{kind: actionWaitRetry}
}

// WaitWritable runs the coroutine again when fd is writable.
func WaitWritable(fd int) Action {
	return Action{kind: actionWaitWritable, fd: fd}
}

// WaitReadable runs the coroutine again when fd is readable.
func WaitReadable(fd int) Action {
	return Action{kind: actionWaitReadable, fd: fd}
}

// WaitReady runs the coroutine again when ready is closed or readable.
func WaitReady(ready <-chan struct{}) Action {
	return Action{kind: actionWaitReady, ready: ready}
}

// Finish terminates the coroutine successfully.
func Finish() Action {
	return Action{kind: actionFinish}
}

// Fail terminates the coroutine with the given error.
func Fail(err error) Action {
	return Action{kind: actionFail, err: err}
}

// IsWait returns whether the action suspends the coroutine.
func (a Action) IsWait() bool {
	switch a.kind {
	case actionWaitRetry, actionWaitWritable, actionWaitReadable, actionWaitReady:
		return true
	default:
		return false
	}
}

// IsTerminal returns whether the action terminates the coroutine.
func (a Action) IsTerminal() bool {
	return a.kind == actionFinish || a.kind == actionFail
}

// Err returns the error of a Fail action and nil otherwise.
func (a Action) Err() error {
	return a.err
}

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a.kind {
	case actionRepeat:
		return "repeat"
	case actionYield:
		return "yield"
	case actionWaitRetry:
		return "wait_retry"
	case actionWaitWritable:
		return fmt.Sprintf("wait_writable(%d)", a.fd)
	case actionWaitReadable:
		return fmt.Sprintf("wait_readable(%d)", a.fd)
	case actionWaitReady:
		return "wait_ready"
	case actionFinish:
		return "finish"
	case actionFail:
		return fmt.Sprintf("fail(%s)", a.err)
	default:
		return "unknown"
	}
}
