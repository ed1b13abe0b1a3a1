package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Result is the outcome of one swarm run. It is not modified after Run returns.
type Result struct {
	RunID       string        `json:"run_id"`
	Task        string        `json:"task"`
	Status      SwarmStatus   `json:"status"`
	Success     bool          `json:"success"`
	Output      string        `json:"output"`
	Summary     string        `json:"summary"`
	AgentsUsed  []string      `json:"agents_used"`
	Error       string        `json:"error,omitempty"`
	Turns       int           `json:"turns"`
	Handoffs    int           `json:"handoffs"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`

	err error
}

func newResult(task string) *Result {
	return &Result{
		RunID:      uuid.New().String(),
		Task:       task,
		Status:     SwarmStatusPending,
		AgentsUsed: []string{},
		StartedAt:  time.Now().UTC(),
	}
}

// FailedResult reports a failure that happened before a swarm could run.
func FailedResult(task string, err error) *Result {
	r := newResult(task)
	r.Status = SwarmStatusFailed
	r.CompletedAt = r.StartedAt
	r.err = err
	r.Error = err.Error()
	r.Summary = fmt.Sprintf("Task failed: %s", r.Error)
	return r
}

// Err returns the typed failure behind Error, for errors.As.
func (r *Result) Err() error {
	return r.err
}

// ToMap is the projection surfaced by every transport.
func (r *Result) ToMap() map[string]interface{} {
	agents := r.AgentsUsed
	if agents == nil {
		agents = []string{}
	}
	return map[string]interface{}{
		"success":     r.Success,
		"task":        r.Task,
		"output":      r.Output,
		"summary":     r.Summary,
		"agents_used": agents,
		"error":       r.Error,
	}
}

func (r *Result) String() string {
	if r.Success {
		return fmt.Sprintf("SwarmResult(success=true, agents=[%s])", strings.Join(r.AgentsUsed, ", "))
	}
	return fmt.Sprintf("SwarmResult(success=false, error=%s)", r.Error)
}

// summarize builds the counts-only execution summary for the capabilities
// that acted, using each ledger's growth since the run started.
func summarize(roster *Roster, acted []string, baseline map[string]int) string {
	lines := []string{"## AIOps Swarm Execution Summary", ""}
	for _, name := range acted {
		c, ok := roster.Get(name)
		if !ok {
			continue
		}
		stats := c.Ledger().StatsSince(baseline[name])
		lines = append(lines,
			"### "+name,
			fmt.Sprintf("- Actions: %d", stats.Total),
			fmt.Sprintf("- Successful: %d", stats.Success),
			"",
		)
	}
	return strings.Join(lines, "\n")
}
