package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const maxContextOutputRunes = 2000

// Roster is an ordered, immutable set of uniquely named capabilities.
type Roster struct {
	caps  []*Capability
	index map[string]int
}

// NewRoster validates names and freezes the order.
func NewRoster(caps ...*Capability) (*Roster, error) {
	if len(caps) == 0 {
		return nil, &ConfigurationError{Err: ErrEmptyRoster}
	}
	r := &Roster{
		caps:  make([]*Capability, 0, len(caps)),
		index: make(map[string]int, len(caps)),
	}
	for _, c := range caps {
		if c == nil {
			continue
		}
		if _, dup := r.index[c.Name()]; dup {
			return nil, &ConfigurationError{Reason: c.Name(), Err: ErrDuplicateCapability}
		}
		r.index[c.Name()] = len(r.caps)
		r.caps = append(r.caps, c)
	}
	if len(r.caps) == 0 {
		return nil, &ConfigurationError{Err: ErrEmptyRoster}
	}
	return r, nil
}

// Get returns a capability by name
func (r *Roster) Get(name string) (*Capability, bool) {
	if r == nil {
		return nil, false
	}
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.caps[i], true
}

// List returns the capabilities in roster order
func (r *Roster) List() []*Capability {
	if r == nil {
		return nil
	}
	out := make([]*Capability, len(r.caps))
	copy(out, r.caps)
	return out
}

func (r *Roster) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.caps))
	for i, c := range r.caps {
		names[i] = c.Name()
	}
	return names
}

func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.caps)
}

// DefaultStart is the first intake capability, else the first in order.
func (r *Roster) DefaultStart() *Capability {
	if r.Len() == 0 {
		return nil
	}
	for _, c := range r.caps {
		if c.Role() == RoleIntake {
			return c
		}
	}
	return r.caps[0]
}

// Reset clears every capability ledger.
func (r *Roster) Reset() {
	for _, c := range r.List() {
		c.Reset()
	}
}

// StepOutput is the text one capability produced during a run.
type StepOutput struct {
	Capability string `json:"capability"`
	Text       string `json:"text"`
}

// TaskContext is the state shared by every step of one swarm run. Only the
// run loop mutates it.
type TaskContext struct {
	RunID          string
	Task           string
	Turn           int
	Handoffs       int
	StartedAt      time.Time
	HandoffMessage string

	roster  *Roster
	acted   []string
	seen    map[string]bool
	outputs []StepOutput
}

// NewTaskContext starts the clock for a run over roster.
func NewTaskContext(runID, task string, roster *Roster) *TaskContext {
	return &TaskContext{
		RunID:     runID,
		Task:      task,
		StartedAt: time.Now(),
		roster:    roster,
		seen:      map[string]bool{},
	}
}

func (tc *TaskContext) Elapsed() time.Duration {
	return time.Since(tc.StartedAt)
}

// Acted lists capabilities in the order they first acted.
func (tc *TaskContext) Acted() []string {
	out := make([]string, len(tc.acted))
	copy(out, tc.acted)
	return out
}

func (tc *TaskContext) Outputs() []StepOutput {
	out := make([]StepOutput, len(tc.outputs))
	copy(out, tc.outputs)
	return out
}

func (tc *TaskContext) markActed(name string) {
	if !tc.seen[name] {
		tc.seen[name] = true
		tc.acted = append(tc.acted, name)
	}
}

func (tc *TaskContext) addOutput(name, text string) {
	tc.outputs = append(tc.outputs, StepOutput{Capability: name, Text: text})
}

// Peers describes every roster member except current.
func (tc *TaskContext) Peers(current string) []PeerInfo {
	var peers []PeerInfo
	for _, c := range tc.roster.List() {
		if c.Name() == current {
			continue
		}
		peers = append(peers, PeerInfo{Name: c.Name(), Description: c.Description()})
	}
	return peers
}

// Render is the shared context text handed to the capability named current.
func (tc *TaskContext) Render(current string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Shared Task Context\nOriginal task: %s\n", tc.Task)
	fmt.Fprintf(&b, "Current agent: %s\n", current)
	fmt.Fprintf(&b, "Turn: %d, handoffs: %d\n", tc.Turn+1, tc.Handoffs)
	if len(tc.acted) > 0 {
		fmt.Fprintf(&b, "Agents that have acted: %s\n", strings.Join(tc.acted, ", "))
	}
	if len(tc.outputs) > 0 {
		b.WriteString("\n### Previous outputs\n")
		for _, o := range tc.outputs {
			fmt.Fprintf(&b, "[%s]\n%s\n\n", o.Capability, truncateRunes(o.Text, maxContextOutputRunes))
		}
	}
	if tc.HandoffMessage != "" {
		fmt.Fprintf(&b, "### Handoff message\n%s\n", tc.HandoffMessage)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RunOption is a functional option for a single swarm run
type RunOption func(*runOptions)

type runOptions struct {
	start    string
	runID    string
	limits   SwarmConfig
	observer func(SwarmEvent)
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithStart names the capability that takes the first turn.
func WithStart(name string) RunOption {
	return func(o *runOptions) { o.start = name }
}

func WithMaxIterations(n int) RunOption {
	return func(o *runOptions) {
		if n > 0 {
			o.limits.MaxIterations = n
		}
	}
}

func WithMaxHandoffs(n int) RunOption {
	return func(o *runOptions) {
		if n > 0 {
			o.limits.MaxHandoffs = n
		}
	}
}

func WithExecutionTimeout(d time.Duration) RunOption {
	return func(o *runOptions) {
		if d > 0 {
			o.limits.ExecutionTimeout = d
		}
	}
}

func WithNodeTimeout(d time.Duration) RunOption {
	return func(o *runOptions) {
		if d > 0 {
			o.limits.NodeTimeout = d
		}
	}
}

// WithObserver receives every SwarmEvent of the run, synchronously.
func WithObserver(fn func(SwarmEvent)) RunOption {
	return func(o *runOptions) { o.observer = fn }
}

type ownerKey struct{}

// WithOwner tags every SwarmEvent of the runs started under ctx with subject.
func WithOwner(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ownerKey{}, subject)
}

// OwnerFrom returns the subject set by WithOwner, or "".
func OwnerFrom(ctx context.Context) string {
	s, _ := ctx.Value(ownerKey{}).(string)
	return s
}
