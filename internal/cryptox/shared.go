package cryptox

import (
	"crypto/tls"
	"sync/atomic"
)

//
// Process-wide shared state
//

// liveContexts counts the contexts that have been created and not freed.
var liveContexts int64

// LiveContexts returns the number of contexts that have been created
// and not yet freed. Use it to check for leaks.
func LiveContexts() (n int64) {
	withLock(LockSSLCtx, func() {
		n = liveContexts
	})
	return
}

func contextCreated() {
	withLock(LockSSLCtx, func() {
		liveContexts++
	})
}

func contextFreed() {
	withLock(LockSSLCtx, func() {
		liveContexts--
	})
}

// ErrorClass is the class of an error recorded by a context.
type ErrorClass int

// Known error classes.
const (
	ErrorClassConfigure = ErrorClass(iota)
	ErrorClassHandshake
	ErrorClassRead
	ErrorClassWrite
	numErrorClasses
)

var errorCounts [numErrorClasses]int64

// ErrorCount returns the number of errors of the given class recorded
// since the process started.
func ErrorCount(class ErrorClass) (n int64) {
	if class < 0 || class >= numErrorClasses {
		return 0
	}
	withLock(LockErr, func() {
		n = errorCounts[class]
	})
	return
}

func countError(class ErrorClass) {
	withLock(LockErr, func() {
		errorCounts[class]++
	})
}

// sessionCacheCapacity is the maximum number of cached client sessions.
const sessionCacheCapacity = 128

// sessionCache is the process-wide client session cache. It evicts
// the oldest entry when full.
type sessionCache struct {
	entries map[string]*tls.ClientSessionState
	order   []string
}

var _ tls.ClientSessionCache = &sessionCache{}

var clientSessions = &sessionCache{
	entries: make(map[string]*tls.ClientSessionState),
}

// sessionHits counts cache hits for testing.
var sessionHits atomic.Int64

// Get implements tls.ClientSessionCache. Without a locking callback
// the cache is unusable and always misses.
func (c *sessionCache) Get(key string) (session *tls.ClientSessionState, found bool) {
	cb := LockingCallback()
	if cb == nil {
		return nil, false
	}
	cb(true, LockSSLSession)
	session, found = c.entries[key]
	cb(false, LockSSLSession)
	if found {
		sessionHits.Add(1)
	}
	return
}

// Put implements tls.ClientSessionCache. A nil session removes the entry.
func (c *sessionCache) Put(key string, session *tls.ClientSessionState) {
	cb := LockingCallback()
	if cb == nil {
		return
	}
	cb(true, LockSSLSession)
	defer cb(false, LockSSLSession)
	if session == nil {
		c.remove(key)
		return
	}
	if _, found := c.entries[key]; !found {
		if len(c.order) >= sessionCacheCapacity {
			delete(c.entries, c.order[0])
			c.order = c.order[1:]
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = session
}

func (c *sessionCache) remove(key string) {
	if _, found := c.entries[key]; !found {
		return
	}
	delete(c.entries, key)
	for idx, k := range c.order {
		if k == key {
			c.order = append(c.order[:idx], c.order[idx+1:]...)
			break
		}
	}
}

// len returns the number of cached sessions.
func (c *sessionCache) len() (n int) {
	withLock(LockSSLSession, func() {
		n = len(c.entries)
	})
	return
}

// SessionCacheHits returns the number of client session cache hits.
func SessionCacheHits() int64 {
	return sessionHits.Load()
}
