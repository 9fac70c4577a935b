// Package tlslock bridges the crypto library locking callback to a
// table of spinlocks. Call Install once, before using the library from
// several goroutines.
package tlslock

import (
	"sync"

	"github.com/ooni/tlsprovider/internal/cryptox"
	"github.com/ooni/tlsprovider/internal/model"
	"github.com/ooni/tlsprovider/internal/spinlock"
)

// LockTable contains one spinlock per crypto library lock slot.
type LockTable []spinlock.Atom

// NewLockTable creates a new LockTable with all slots unlocked.
func NewLockTable() LockTable {
	return make(LockTable, cryptox.NumLocks)
}

// Callback acquires the given slot when lock is true and releases it otherwise.
func (lt LockTable) Callback(lock bool, slot int) {
	if lock {
		lt[slot].Lock()
		return
	}
	lt[slot].Unlock()
}

var (
	installOnce sync.Once
	table       LockTable
)

// Install creates the process-wide LockTable and registers its callback
// with the crypto library. Calling Install more than once is harmless.
func Install() {
	installOnce.Do(func() {
		table = NewLockTable()
		cryptox.SetLockingCallback(table.Callback)
	})
}

// Callback is the locking callback registered by Install. It panics
// if Install was not called.
func Callback(lock bool, slot int) {
	if table == nil {
		panic("tlslock: Callback called before Install")
	}
	table.Callback(lock, slot)
}

// Installed returns whether a locking callback is registered with
// the crypto library.
func Installed() bool {
	return cryptox.LockingCallback() != nil
}

var warnOnce sync.Once

// WarnIfNotInstalled emits a warning, at most once per process, when
// no locking callback is registered with the crypto library.
func WarnIfNotInstalled(logger model.WarnLogger) {
	if Installed() {
		return
	}
	warnOnce.Do(func() {
		logger.Warn("tlslock: the crypto library locking callback is NOT installed; " +
			"the library shared state is not synchronized. Call tlslock.Install() at startup.")
	})
}
