package spinlock

import (
	"sync"
	"testing"
)

func TestAtom(t *testing.T) {
	t.Run("TryLock fails when locked", func(t *testing.T) {
		var atom Atom
		atom.Lock()
		if atom.TryLock() {
			t.Fatal("expected TryLock to fail")
		}
		atom.Unlock()
		if !atom.TryLock() {
			t.Fatal("expected TryLock to succeed")
		}
		atom.Unlock()
	})

	t.Run("Unlock of unlocked Atom panics", func(t *testing.T) {
		var (
			atom  Atom
			value interface{}
		)
		func() {
			defer func() {
				value = recover()
			}()
			atom.Unlock()
		}()
		if value == nil {
			t.Fatal("expected a panic")
		}
	})

	t.Run("Lock serializes goroutines", func(t *testing.T) {
		const goroutines, increments = 16, 1000
		var (
			atom    Atom
			counter int
			wg      sync.WaitGroup
		)
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < increments; j++ {
					atom.Lock()
					counter++
					atom.Unlock()
				}
			}()
		}
		wg.Wait()
		if counter != goroutines*increments {
			t.Fatal("lost increments", counter)
		}
	})
}
