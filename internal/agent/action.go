package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxSummaryRunes = 500

// Action is one recorded invocation. It is never modified after Append.
type Action struct {
	ID            string        `json:"id"`
	Seq           int           `json:"seq"`
	Timestamp     time.Time     `json:"timestamp"`
	Kind          string        `json:"kind"`
	Description   string        `json:"description"`
	InputSummary  string        `json:"input_summary,omitempty"`
	OutputSummary string        `json:"output_summary,omitempty"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// ActionRecord is the input of Ledger.Append.
type ActionRecord struct {
	Kind        string
	Description string
	Input       string
	Output      string
	Success     bool
	Error       string
	Duration    time.Duration
}

// LedgerStats are the invocation counters derived from a ledger.
type LedgerStats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Ledger is an append-only action log with counters that always partition it.
type Ledger struct {
	mu      sync.RWMutex
	actions []Action
	success int
	failure int
}

func NewLedger() *Ledger {
	return &Ledger{actions: make([]Action, 0)}
}

// Append records r and returns the stored Action. It never fails.
func (l *Ledger) Append(r ActionRecord) Action {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := Action{
		ID:            uuid.New().String(),
		Seq:           len(l.actions),
		Timestamp:     time.Now().UTC(),
		Kind:          r.Kind,
		Description:   r.Description,
		InputSummary:  truncateRunes(r.Input, maxSummaryRunes),
		OutputSummary: truncateRunes(r.Output, maxSummaryRunes),
		Success:       r.Success,
		Error:         r.Error,
		Duration:      r.Duration,
	}
	l.actions = append(l.actions, a)
	if a.Success {
		l.success++
	} else {
		l.failure++
	}
	return a
}

// Actions returns a copy of the ledger in insertion order.
func (l *Ledger) Actions() []Action {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Action, len(l.actions))
	copy(out, l.actions)
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.actions)
}

func (l *Ledger) Stats() LedgerStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LedgerStats{Total: len(l.actions), Success: l.success, Failure: l.failure}
}

// StatsSince counts the actions appended after the first n.
func (l *Ledger) StatsSince(n int) LedgerStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var s LedgerStats
	if n < 0 {
		n = 0
	}
	for i := n; i < len(l.actions); i++ {
		s.Total++
		if l.actions[i].Success {
			s.Success++
		} else {
			s.Failure++
		}
	}
	return s
}

// Reset replaces the ledger with an empty one.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actions = make([]Action, 0)
	l.success = 0
	l.failure = 0
}

// Summary renders counts and the most recent actions as markdown.
func (l *Ledger) Summary(name string, last int) string {
	actions := l.Actions()
	if len(actions) == 0 {
		return fmt.Sprintf("%s has not performed any actions yet.", name)
	}
	stats := l.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "## %s Action Summary\n", name)
	fmt.Fprintf(&b, "Total invocations: %d\n", stats.Total)
	fmt.Fprintf(&b, "Successful: %d\n", stats.Success)
	fmt.Fprintf(&b, "Failed: %d\n\n", stats.Failure)
	b.WriteString("### Action History:\n")

	start := 0
	if last > 0 && len(actions) > last {
		start = len(actions) - last
	}
	for i := start; i < len(actions); i++ {
		a := actions[i]
		mark := "ok"
		if !a.Success {
			mark = "failed"
		}
		fmt.Fprintf(&b, "%d. [%s] %s: %s\n", i+1, mark, a.Kind, a.Description)
		if a.Error != "" {
			fmt.Fprintf(&b, "   Error: %s\n", a.Error)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
