package guesttoken

import "sync"

// Result is the externally visible outcome of the most recent fetch
type Result struct {
	Generation uint64
	Loading    bool
	Credential Credential
	Err        error
}

// Latest exposes the result of the newest fetch only. Each fetch takes a
// generation from Begin; Resolve ignores any generation that is no longer current,
// so a superseded request can finish without being observed.
type Latest struct {
	mu     sync.Mutex
	result Result
}

// Begin starts a new fetch, clearing the previous token and error
func (l *Latest) Begin() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.result = Result{Generation: l.result.Generation + 1, Loading: true}
	return l.result.Generation
}

// Invalidate makes any in-flight fetch stale without starting a new one
func (l *Latest) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.result = Result{Generation: l.result.Generation + 1}
}

// Resolve records the outcome of fetch gen. It reports false, and changes nothing,
// when gen has been superseded.
func (l *Latest) Resolve(gen uint64, cred Credential, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.result.Generation {
		return false
	}
	l.result.Loading = false
	if err != nil {
		l.result.Err = err
		l.result.Credential = Credential{}
	} else {
		l.result.Credential = cred
		l.result.Err = nil
	}
	return true
}

// Current returns the visible result
func (l *Latest) Current() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result
}
