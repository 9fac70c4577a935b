// Package spinlock contains a spinlock suitable for very short critical
// sections, such as the ones protecting the crypto library shared state.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// maxBackoff is the maximum number of times we yield the processor
// between two consecutive attempts to acquire the lock.
const maxBackoff = 16

// Atom is a spinlock. The zero value is an unlocked spinlock.
type Atom struct {
	n atomic.Int32
}

// Lock acquires the spinlock, spinning until it's available.
func (a *Atom) Lock() {
	backoff := 1
	for !a.n.CompareAndSwap(0, 1) {
		for i := 0; i < backoff; i++ {
			runtime.Gosched()
		}
		if backoff < maxBackoff {
			backoff <<= 1
		}
	}
}

// TryLock acquires the spinlock if it's available and returns whether it did.
func (a *Atom) TryLock() bool {
	return a.n.CompareAndSwap(0, 1)
}

// Unlock releases the spinlock. Unlocking an unlocked Atom is a bug.
func (a *Atom) Unlock() {
	if !a.n.CompareAndSwap(1, 0) {
		panic("spinlock: unlock of unlocked Atom")
	}
}
