package async

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// scriptedCoroutine returns the given actions in order.
type scriptedCoroutine struct {
	actions []Action
	acts    int
	closes  int
	result  string
}

func (co *scriptedCoroutine) Act() Action {
	action := co.actions[co.acts]
	co.acts++
	return action
}

func (co *scriptedCoroutine) Result() string {
	return co.result
}

func (co *scriptedCoroutine) Close() error {
	co.closes++
	return nil
}

func TestRun(t *testing.T) {
	t.Run("with a successful coroutine", func(t *testing.T) {
		ready := make(chan struct{})
		close(ready)
		co := &scriptedCoroutine{
			actions: []Action{Repeat(), Yield(), WaitRetry(), WaitReady(ready), Finish()},
			result:  "antani",
		}
		sched := &Scheduler{RetryInterval: time.Millisecond}
		result, err := Run[string](context.Background(), sched, co)
		if err != nil {
			t.Fatal(err)
		}
		if result != "antani" {
			t.Fatal("unexpected result", result)
		}
		if co.acts != 5 || co.closes != 1 {
			t.Fatal("unexpected counters", co.acts, co.closes)
		}
	})

	t.Run("with a failing coroutine", func(t *testing.T) {
		expected := errors.New("mocked error")
		co := &scriptedCoroutine{actions: []Action{Repeat(), Fail(expected)}}
		_, err := Run[string](context.Background(), nil, co)
		if !errors.Is(err, expected) {
			t.Fatal("unexpected error", err)
		}
		if co.closes != 1 {
			t.Fatal("expected one close")
		}
	})

	t.Run("with an unknown action", func(t *testing.T) {
		co := &scriptedCoroutine{actions: []Action{{kind: actionKind(1000)}}}
		_, err := Run[string](context.Background(), nil, co)
		if !errors.Is(err, ErrUnknownAction) {
			t.Fatal("unexpected error", err)
		}
		if co.closes != 1 {
			t.Fatal("expected one close")
		}
	})

	t.Run("with an already canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		co := &scriptedCoroutine{actions: []Action{Finish()}}
		_, err := Run[string](ctx, nil, co)
		if !errors.Is(err, context.Canceled) {
			t.Fatal("unexpected error", err)
		}
		if co.acts != 0 || co.closes != 1 {
			t.Fatal("unexpected counters", co.acts, co.closes)
		}
	})

	t.Run("cancellation while waiting for a channel", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		co := &scriptedCoroutine{actions: []Action{WaitReady(make(chan struct{}))}}
		_, err := Run[string](ctx, nil, co)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatal("unexpected error", err)
		}
		if co.closes != 1 {
			t.Fatal("expected one close")
		}
	})

	t.Run("cancellation while waiting for a descriptor", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		defer listener.Close()
		rawConn, err := listener.(*net.TCPListener).SyscallConn()
		if err != nil {
			t.Fatal(err)
		}
		var fd int
		rawConn.Control(func(v uintptr) {
			fd = int(v)
		})
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		co := &scriptedCoroutine{actions: []Action{WaitReadable(fd)}}
		sched := &Scheduler{PollSlice: 10 * time.Millisecond}
		_, err = Run[string](ctx, sched, co)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatal("unexpected error", err)
		}
	})

	t.Run("waiting for a writable descriptor", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		defer listener.Close()
		conn, err := net.Dial("tcp", listener.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		rawConn, err := conn.(*net.TCPConn).SyscallConn()
		if err != nil {
			t.Fatal(err)
		}
		var fd int
		rawConn.Control(func(v uintptr) {
			fd = int(v)
		})
		co := &scriptedCoroutine{actions: []Action{WaitWritable(fd), Finish()}}
		if _, err := Run[string](context.Background(), nil, co); err != nil {
			t.Fatal(err)
		}
	})
}

func TestNilCoroutinePanics(t *testing.T) {
	for name, fn := range map[string]func(){
		"Run": func() {
			Run[string](context.Background(), nil, nil)
		},
		"Start": func() {
			Start[string](context.Background(), nil, nil)
		},
	} {
		t.Run(name, func(t *testing.T) {
			var panicked bool
			func() {
				defer func() {
					panicked = recover() != nil
				}()
				fn()
			}()
			if !panicked {
				t.Fatal("expected a panic")
			}
		})
	}
}

func TestStart(t *testing.T) {
	co := &scriptedCoroutine{actions: []Action{Yield(), Finish()}, result: "antani"}
	future := Start[string](context.Background(), nil, co)
	<-future.Done()
	result, err := future.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result != "antani" {
		t.Fatal("unexpected result", result)
	}
}

func TestFuture(t *testing.T) {
	t.Run("SucceedFuture", func(t *testing.T) {
		result, err := SucceedFuture(42).Await(context.Background())
		if err != nil || result != 42 {
			t.Fatal("unexpected result", result, err)
		}
	})

	t.Run("FailedFuture", func(t *testing.T) {
		expected := errors.New("mocked error")
		result, err := FailedFuture[int](expected).Await(context.Background())
		if !errors.Is(err, expected) || result != 0 {
			t.Fatal("unexpected result", result, err)
		}
	})

	t.Run("Await honours the context", func(t *testing.T) {
		future := newFuture[int]()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := future.Await(ctx); !errors.Is(err, context.Canceled) {
			t.Fatal("unexpected error", err)
		}
		future.complete(1, nil)
		future.complete(2, nil) // ignored
		result, err := future.Await(context.Background())
		if err != nil || result != 1 {
			t.Fatal("unexpected result", result, err)
		}
	})
}

func TestAction(t *testing.T) {
	expected := errors.New("mocked error")
	actions := []Action{
		Repeat(), Yield(), WaitRetry(), WaitWritable(3), WaitReadable(4),
		WaitReady(nil), Finish(), Fail(expected),
	}
	var got []string
	for _, action := range actions {
		got = append(got, action.String())
	}
	expect := []string{
		"repeat", "yield", "wait_retry", "wait_writable(3)", "wait_readable(4)",
		"wait_ready", "finish", "fail(mocked error)",
	}
	if diff := cmp.Diff(expect, got); diff != "" {
		t.Fatal(diff)
	}
	if !WaitReady(nil).IsWait() || Repeat().IsWait() {
		t.Fatal("unexpected IsWait")
	}
	if !Finish().IsTerminal() || !Fail(expected).IsTerminal() || Yield().IsTerminal() {
		t.Fatal("unexpected IsTerminal")
	}
	if Fail(expected).Err() != expected {
		t.Fatal("unexpected Err")
	}
}
