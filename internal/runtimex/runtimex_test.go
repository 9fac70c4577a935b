package runtimex

import (
	"errors"
	"testing"
)

func TestPanicOnError(t *testing.T) {
	badfunc := func(in error) (out error) {
		defer func() {
			out = recover().(error)
		}()
		PanicOnError(in, "we expect this assertion to fail")
		return
	}

	t.Run("error is nil", func(t *testing.T) {
		PanicOnError(nil, "this assertion should not fail")
	})

	t.Run("error is not nil", func(t *testing.T) {
		expected := errors.New("mocked error")
		if !errors.Is(badfunc(expected), expected) {
			t.Fatal("not the error we expected")
		}
	})
}

func TestPanicIfFalse(t *testing.T) {
	badfunc := func(in bool, message string) (out string) {
		defer func() {
			out = recover().(string)
		}()
		PanicIfFalse(in, message)
		return
	}

	t.Run("assertion is true", func(t *testing.T) {
		PanicIfFalse(true, "this assertion should not fail")
	})

	t.Run("assertion is false", func(t *testing.T) {
		message := "mocked error"
		if badfunc(false, message) != message {
			t.Fatal("not the error we expected")
		}
	})
}

func TestAssert(t *testing.T) {
	t.Run("assertion is true", func(t *testing.T) {
		Assert(true, "this assertion should not fail")
	})

	t.Run("assertion is false", func(t *testing.T) {
		var message any
		func() {
			defer func() {
				message = recover()
			}()
			Assert(false, "mocked error")
		}()
		if message != "mocked error" {
			t.Fatal("not the message we expected", message)
		}
	})
}

func TestTry(t *testing.T) {
	t.Run("Try0 with nil error", func(t *testing.T) {
		Try0(nil)
	})

	t.Run("Try1 returns the value on success", func(t *testing.T) {
		if v := Try1(17, nil); v != 17 {
			t.Fatal("unexpected value", v)
		}
	})

	t.Run("Try1 panics on failure", func(t *testing.T) {
		var err error
		func() {
			defer func() {
				err = recover().(error)
			}()
			Try1(0, errors.New("mocked error"))
		}()
		if !errors.Is(err, ErrRuntimeFailure) {
			t.Fatal("not the error we expected", err)
		}
	})
}
