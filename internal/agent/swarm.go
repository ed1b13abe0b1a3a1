package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

// SwarmStatus represents the status of a swarm
type SwarmStatus string

const (
	SwarmStatusPending   SwarmStatus = "pending"
	SwarmStatusRunning   SwarmStatus = "running"
	SwarmStatusCompleted SwarmStatus = "completed"
	SwarmStatusFailed    SwarmStatus = "failed"
)

// SwarmEventType represents the type of swarm event
type SwarmEventType string

const (
	SwarmEventStarted       SwarmEventType = "swarm.started"
	SwarmEventNodeStarted   SwarmEventType = "node.started"
	SwarmEventNodeCompleted SwarmEventType = "node.completed"
	SwarmEventHandoff       SwarmEventType = "handoff"
	SwarmEventCompleted     SwarmEventType = "swarm.completed"
	SwarmEventFailed        SwarmEventType = "swarm.failed"
)

// SwarmEvent represents an event from a swarm
type SwarmEvent struct {
	RunID      string         `json:"run_id"`
	Type       SwarmEventType `json:"type"`
	Capability string         `json:"capability,omitempty"`
	Target     string         `json:"target,omitempty"`
	Turn       int            `json:"turn"`
	Handoffs   int            `json:"handoffs"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`

	// Owner is the subject that started the run, see WithOwner.
	Owner string `json:"-"`
}

// SwarmConfig holds the budgets of a run.
type SwarmConfig struct {
	MaxIterations    int           `json:"max_iterations"`
	MaxHandoffs      int           `json:"max_handoffs"`
	ExecutionTimeout time.Duration `json:"execution_timeout"`
	NodeTimeout      time.Duration `json:"node_timeout"`
}

// DefaultSwarmConfig returns the default budgets
func DefaultSwarmConfig() SwarmConfig {
	return SwarmConfig{
		MaxIterations:    20,
		MaxHandoffs:      15,
		ExecutionTimeout: 900 * time.Second,
		NodeTimeout:      300 * time.Second,
	}
}

// SwarmConfigFrom reads budgets from the rate_limits section; zero values keep defaults.
func SwarmConfigFrom(rl config.RateLimitsConfig) SwarmConfig {
	c := DefaultSwarmConfig()
	if rl.MaxIterations > 0 {
		c.MaxIterations = rl.MaxIterations
	}
	if rl.MaxHandoffs > 0 {
		c.MaxHandoffs = rl.MaxHandoffs
	}
	if rl.ExecutionTimeout > 0 {
		c.ExecutionTimeout = rl.ExecutionTimeout
	}
	if rl.NodeTimeout > 0 {
		c.NodeTimeout = rl.NodeTimeout
	}
	return c
}

// Swarm drives a handoff loop over a fixed roster. One task runs at a time;
// exactly one capability executes at any moment.
type Swarm struct {
	roster *Roster
	config SwarmConfig

	mu      sync.Mutex
	status  SwarmStatus
	running bool
}

// NewSwarm creates a coordinator. A nil roster is reported by Run.
func NewSwarm(roster *Roster, cfg SwarmConfig) *Swarm {
	return &Swarm{roster: roster, config: cfg, status: SwarmStatusPending}
}

func (s *Swarm) Roster() *Roster { return s.roster }

// Status is the state of the current or last run.
func (s *Swarm) Status() SwarmStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Swarm) setStatus(st SwarmStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// run carries the per-call state of Run.
type run struct {
	swarm    *Swarm
	opts     runOptions
	result   *Result
	tc       *TaskContext
	baseline map[string]int
	owner    string
}

func (r *run) emit(ev SwarmEvent) {
	if r.opts.observer == nil {
		return
	}
	ev.RunID = r.result.RunID
	ev.Owner = r.owner
	ev.Timestamp = time.Now().UTC()
	if r.tc != nil {
		ev.Turn = r.tc.Turn
		ev.Handoffs = r.tc.Handoffs
	}
	r.opts.observer(ev)
}

// Run executes task and always returns a Result; failures are reported in it.
func (s *Swarm) Run(ctx context.Context, task string, opts ...RunOption) *Result {
	r := &run{
		swarm:  s,
		opts:   runOptions{limits: s.config},
		result: newResult(task),
		owner:  OwnerFrom(ctx),
	}
	for _, opt := range opts {
		opt(&r.opts)
	}
	if r.opts.runID != "" {
		r.result.RunID = r.opts.runID
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return r.fail(ErrSwarmBusy)
	}
	s.running = true
	s.status = SwarmStatusPending
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	logging.Info("swarm", "starting run %s: %s", r.result.RunID, logging.Truncate(task, 100))

	current, err := s.resolveStart(r.opts.start)
	if err != nil {
		return r.fail(err)
	}

	r.baseline = make(map[string]int, s.roster.Len())
	for _, c := range s.roster.List() {
		r.baseline[c.Name()] = c.Ledger().Len()
	}

	r.tc = NewTaskContext(r.result.RunID, task, s.roster)
	r.result.Status = SwarmStatusRunning
	s.setStatus(SwarmStatusRunning)
	r.emit(SwarmEvent{Type: SwarmEventStarted, Capability: current.Name(), Message: task})

	return r.loop(ctx, current)
}

func (s *Swarm) resolveStart(name string) (*Capability, error) {
	if s.roster.Len() == 0 {
		return nil, &ConfigurationError{Err: ErrEmptyRoster}
	}
	for _, c := range s.roster.List() {
		if err := c.Check(); err != nil {
			return nil, &ConfigurationError{Reason: c.Name(), Err: err}
		}
	}
	if name == "" {
		return s.roster.DefaultStart(), nil
	}
	c, ok := s.roster.Get(name)
	if !ok {
		return nil, &ConfigurationError{Reason: name, Err: ErrUnknownCapability}
	}
	return c, nil
}

func (r *run) loop(ctx context.Context, current *Capability) *Result {
	limits := r.opts.limits
	runCtx, cancel := context.WithTimeout(ctx, limits.ExecutionTimeout)
	defer cancel()

	message := r.tc.Task
	for {
		switch {
		case r.tc.Turn >= limits.MaxIterations:
			return r.fail(countExceeded(BoundIterations, limits.MaxIterations))
		case r.tc.Handoffs >= limits.MaxHandoffs:
			return r.fail(countExceeded(BoundHandoffs, limits.MaxHandoffs))
		case r.tc.Elapsed() >= limits.ExecutionTimeout:
			return r.fail(timeExceeded(BoundExecution, limits.ExecutionTimeout, ""))
		case ctx.Err() != nil:
			return r.fail(ctx.Err())
		}

		r.emit(SwarmEvent{Type: SwarmEventNodeStarted, Capability: current.Name()})

		resp, err := r.step(ctx, runCtx, current, message)
		if err != nil {
			return r.fail(err)
		}

		r.tc.markActed(current.Name())
		r.tc.addOutput(current.Name(), resp.Text)
		r.tc.Turn++
		r.emit(SwarmEvent{Type: SwarmEventNodeCompleted, Capability: current.Name(), Message: resp.Text})

		if resp.Handoff != nil {
			peer, ok := r.swarm.roster.Get(resp.Handoff.Target)
			if ok && peer != current {
				r.tc.Handoffs++
				r.tc.HandoffMessage = resp.Handoff.Message
				r.emit(SwarmEvent{
					Type:       SwarmEventHandoff,
					Capability: current.Name(),
					Target:     peer.Name(),
					Message:    resp.Handoff.Message,
				})
				logging.Debug("swarm", "handoff %s -> %s", current.Name(), peer.Name())

				message = resp.Handoff.Message
				if message == "" {
					message = r.tc.Task
				}
				current = peer
				continue
			}
			logging.Debug("swarm", "handoff to %q ignored, completing", resp.Handoff.Target)
		}

		return r.complete(resp.Text)
	}
}

type stepResult struct {
	resp *Response
	err  error
}

// abandonGrace bounds the wait for a timed out step to return.
const abandonGrace = 50 * time.Millisecond

// step runs one capability under the node timeout. A step that ignores its
// context is abandoned abandonGrace after the deadline passes.
func (r *run) step(parent, runCtx context.Context, c *Capability, message string) (*Response, error) {
	limit := r.opts.limits.NodeTimeout
	nodeCtx, cancel := context.WithTimeout(runCtx, limit)
	defer cancel()

	done := make(chan stepResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- stepResult{err: &ReasoningFailure{Capability: c.Name(), Err: fmt.Errorf("%w: %v", ErrNodePanicked, p)}}
			}
		}()
		resp, err := c.Invoke(nodeCtx, message, r.tc)
		done <- stepResult{resp: resp, err: err}
	}()

	var res stepResult
	select {
	case res = <-done:
	case <-nodeCtx.Done():
		res = stepResult{err: nodeCtx.Err()}
		// let a step that honours cancellation record its failure before
		// the summary is built
		select {
		case <-done:
		case <-time.After(abandonGrace):
		}
	}

	if res.err == nil {
		return res.resp, nil
	}
	if errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, context.Canceled) {
		switch {
		case parent.Err() != nil:
			return nil, parent.Err()
		case runCtx.Err() != nil:
			return nil, timeExceeded(BoundExecution, r.opts.limits.ExecutionTimeout, c.Name())
		case nodeCtx.Err() != nil:
			return nil, timeExceeded(BoundNode, limit, c.Name())
		}
	}
	return nil, res.err
}

func (r *run) complete(output string) *Result {
	res := r.finish(SwarmStatusCompleted, nil)
	res.Output = output
	logging.Info("swarm", "run %s completed after %d turns, %d handoffs", res.RunID, res.Turns, res.Handoffs)
	r.emit(SwarmEvent{Type: SwarmEventCompleted, Message: output})
	return res
}

func (r *run) fail(err error) *Result {
	res := r.finish(SwarmStatusFailed, err)
	logging.Error("swarm", err, "run %s failed", res.RunID)
	r.emit(SwarmEvent{Type: SwarmEventFailed, Error: res.Error})
	return res
}

func (r *run) finish(status SwarmStatus, err error) *Result {
	res := r.result
	res.Status = status
	res.Success = status == SwarmStatusCompleted
	res.CompletedAt = time.Now().UTC()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
	if err != nil {
		res.err = err
		res.Error = err.Error()
	}
	if r.tc != nil {
		res.AgentsUsed = r.tc.Acted()
		res.Turns = r.tc.Turn
		res.Handoffs = r.tc.Handoffs
		res.Summary = summarize(r.swarm.roster, res.AgentsUsed, r.baseline)
	} else {
		res.Summary = summarize(r.swarm.roster, nil, nil)
	}
	if status == SwarmStatusFailed && len(res.AgentsUsed) == 0 {
		res.Summary = fmt.Sprintf("Task failed: %s", res.Error)
	}
	if !errors.Is(err, ErrSwarmBusy) {
		r.swarm.setStatus(status)
	}
	return res
}
