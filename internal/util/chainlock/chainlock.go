// Package chainlock provides a mutex whose critical sections can be written
// as a single expression instead of a lock/defer-unlock pair.
package chainlock

import "sync"

// L is a plain mutex with a HoldWhile helper. The zero value is ready to use.
type L struct {
	mtx sync.Mutex
}

// Lock acquires the lock and returns l so calls can be chained, e.g.
// defer l.Lock().Unlock()
func (l *L) Lock() *L {
	l.mtx.Lock()
	return l
}

// Unlock releases the lock. Named so it reads naturally after Lock().
func (l *L) Unlock() {
	l.mtx.Unlock()
}

// HoldWhile runs f with the lock held.
func (l *L) HoldWhile(f func()) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	f()
}

// NewL returns a ready-to-use *L. Present for symmetry with call sites that
// prefer a constructor over the zero value.
func NewL() *L {
	return &L{}
}
