package state

import "sync"

// Totals is a point-in-time snapshot of the run counters.
type Totals struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Reached is the number of jobs that hit a terminal accounting so far.
func (t Totals) Reached() int {
	return t.Passed + t.Failed + t.Skipped
}

// Tracker aggregates the shared run counters under one mutex. Every worker
// reports terminal outcomes here; no worker touches a counter directly, so
// there are no lost updates and `passed + failed + skipped` never exceeds
// total.
type Tracker struct {
	mu     sync.Mutex
	totals Totals
}

func NewTracker(total int) *Tracker {
	return &Tracker{totals: Totals{Total: total}}
}

func (t *Tracker) Pass() {
	t.mu.Lock()
	t.totals.Passed++
	t.mu.Unlock()
}

func (t *Tracker) Fail() {
	t.mu.Lock()
	t.totals.Failed++
	t.mu.Unlock()
}

func (t *Tracker) Skip() {
	t.mu.Lock()
	t.totals.Skipped++
	t.mu.Unlock()
}

func (t *Tracker) Totals() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}
