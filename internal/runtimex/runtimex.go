// Package runtimex contains runtime extensions. This package is inspired to
// https://pkg.go.dev/github.com/m-lab/go/rtx, except that it's simpler.
package runtimex

import (
	"errors"
	"fmt"
)

// PanicOnError calls panic() if err is not nil.
func PanicOnError(err error, message string) {
	if err != nil {
		panic(fmt.Errorf("%s: %w", message, err))
	}
}

// PanicIfFalse calls panic if assertion is false.
func PanicIfFalse(assertion bool, message string) {
	if !assertion {
		panic(message)
	}
}

// Assert calls panic if assertion is false.
func Assert(assertion bool, message string) {
	PanicIfFalse(assertion, message)
}

// ErrRuntimeFailure is the error wrapped by the panics emitted by Try0 and Try1.
var ErrRuntimeFailure = errors.New("runtimex: runtime failure")

// Try0 calls panic if err is not nil.
func Try0(err error) {
	if err != nil {
		panic(fmt.Errorf("%w: %s", ErrRuntimeFailure, err.Error()))
	}
}

// Try1 is like Try0 but supports functions returning one value and an error.
func Try1[T1 any](v1 T1, err error) T1 {
	Try0(err)
	return v1
}
