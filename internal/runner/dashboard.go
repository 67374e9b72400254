package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"challenge-runner/internal/state"
)

// dashboard is the live console view for progress runs: one line per busy
// worker plus a short roll of recent outcomes, redrawn on a ticker. It owns
// the whole screen while active, so regular console lines are routed here as
// events instead of printed.
type dashboard struct {
	mu sync.Mutex

	slots  map[string]*slot
	events []string
	totals state.Totals

	capN  int
	total int

	started time.Time
	stop    chan struct{}
}

type slot struct {
	jobID string
	kind  string
	since time.Time
}

func newDashboard(capN, total int) *dashboard {
	return &dashboard{
		slots:   make(map[string]*slot),
		events:  make([]string, 0, 8),
		capN:    capN,
		total:   total,
		started: time.Now(),
		stop:    make(chan struct{}),
	}
}

func (d *dashboard) Start() {
	go func() {
		t := time.NewTicker(700 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-t.C:
				d.render()
			}
		}
	}()
}

func (d *dashboard) Stop() {
	close(d.stop)
	d.render()
}

func (d *dashboard) SetTotals(t state.Totals) {
	d.mu.Lock()
	d.totals = t
	d.mu.Unlock()
}

func (d *dashboard) SetSlot(label, jobID, kind string) {
	d.mu.Lock()
	d.slots[label] = &slot{jobID: jobID, kind: kind, since: time.Now()}
	d.mu.Unlock()
}

func (d *dashboard) ClearSlot(label string) {
	d.mu.Lock()
	delete(d.slots, label)
	d.mu.Unlock()
}

func (d *dashboard) PushEvent(event string) {
	if strings.TrimSpace(event) == "" {
		return
	}
	d.mu.Lock()
	d.events = append([]string{event}, d.events...)
	if len(d.events) > 8 {
		d.events = d.events[:8]
	}
	d.mu.Unlock()
}

func (d *dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	labels := make([]string, 0, len(d.slots))
	for label := range d.slots {
		labels = append(labels, label)
	}
	// Lexicographic is enough for w1..wN pools plus the "e" slot.
	sort.Strings(labels)

	var b strings.Builder
	b.WriteString("\033[H\033[2J")
	b.WriteString(fmt.Sprintf("challenge-runner live | active %d/%d | passed %d | failed %d | skipped %d | total %d | up %s\n",
		len(labels), d.capN, d.totals.Passed, d.totals.Failed, d.totals.Skipped, d.total,
		time.Since(d.started).Round(time.Second)))
	b.WriteString(strings.Repeat("-", 100) + "\n")

	if len(labels) == 0 {
		b.WriteString("(no active jobs)\n")
	} else {
		for _, label := range labels {
			s := d.slots[label]
			b.WriteString(fmt.Sprintf("%-3s %-44s %-10s %s\n",
				label, s.jobID, s.kind, time.Since(s.since).Round(time.Second)))
		}
	}

	if len(d.events) > 0 {
		b.WriteString(strings.Repeat("-", 100) + "\n")
		for _, e := range d.events {
			b.WriteString(e + "\n")
		}
	}

	fmt.Print(b.String())
}
