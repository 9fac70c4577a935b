// Package cryptox is a small crypto library built on top of crypto/tls
// exposing a context-based API suitable for raw stream sockets.
//
// The library keeps some process-wide shared state (a client session
// cache, a live contexts counter, and error counters). Like classic C
// crypto libraries, it does not synchronize such state by itself: the
// application must install a locking callback using SetLockingCallback
// before using the library from several goroutines.
package cryptox

import "sync/atomic"

// NumLocks is the number of lock slots used by the library.
const NumLocks = 41

// Lock slots protecting the library shared state.
const (
	// LockErr protects the error counters.
	LockErr = 1

	// LockSSLCtx protects the live contexts counter.
	LockSSLCtx = 12

	// LockSSLSession protects the client session cache.
	LockSSLSession = 14
)

// LockingFunc is the type of the locking callback. When lock is true the
// callback must acquire the given slot, otherwise it must release it. The
// slot is always in the [0, NumLocks) range.
type LockingFunc func(lock bool, slot int)

var lockingCallback atomic.Pointer[LockingFunc]

// SetLockingCallback installs the locking callback. Passing nil
// removes the currently installed callback.
func SetLockingCallback(fn LockingFunc) {
	if fn == nil {
		lockingCallback.Store(nil)
		return
	}
	lockingCallback.Store(&fn)
}

// LockingCallback returns the installed locking callback or nil.
func LockingCallback() LockingFunc {
	if fn := lockingCallback.Load(); fn != nil {
		return *fn
	}
	return nil
}

// withLock runs fn while holding the given slot. Without a locking
// callback, fn runs unsynchronized and the return value is false.
func withLock(slot int, fn func()) bool {
	cb := LockingCallback()
	if cb == nil {
		fn()
		return false
	}
	cb(true, slot)
	defer cb(false, slot)
	fn()
	return true
}
