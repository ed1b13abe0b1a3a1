package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIK-RC/aws-aiops/internal/config"
)

// step is one scripted reasoning outcome.
type step struct {
	text    string
	handoff string
	err     error
}

// script replays steps per capability; the last step repeats.
type script struct {
	mu    sync.Mutex
	steps map[string][]step
	calls map[string]int
	seen  []Instruction
}

func newScript(steps map[string][]step) *script {
	return &script{steps: steps, calls: map[string]int{}}
}

func (s *script) reasoner(name string) Reasoner {
	return ReasonerFunc(func(ctx context.Context, in Instruction) (*Response, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.seen = append(s.seen, in)
		list := s.steps[name]
		i := s.calls[name]
		s.calls[name]++
		if i >= len(list) {
			i = len(list) - 1
		}
		st := list[i]
		if st.err != nil {
			return nil, st.err
		}
		resp := &Response{Text: st.text}
		if st.handoff != "" {
			resp.Handoff = &Handoff{Target: st.handoff, Message: "over to " + st.handoff}
		}
		return resp, nil
	})
}

func newTestRoster(t *testing.T, s *script, cfgs ...CapabilityConfig) *Roster {
	t.Helper()
	caps := make([]*Capability, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Reasoner == nil {
			cfg.Reasoner = s.reasoner(cfg.Name)
		}
		c, err := NewCapability(cfg)
		require.NoError(t, err)
		caps = append(caps, c)
	}
	r, err := NewRoster(caps...)
	require.NoError(t, err)
	return r
}

func threeStage(t *testing.T, s *script) *Roster {
	return newTestRoster(t, s,
		CapabilityConfig{Name: "retrieval", Role: RoleIntake},
		CapabilityConfig{Name: "analysis", Role: RoleAnalysis},
		CapabilityConfig{Name: "ticketing", Role: RoleTicketing},
	)
}

func TestSwarm_RoundTrip(t *testing.T) {
	s := newScript(map[string][]step{
		"retrieval": {{text: "fetched 12 logs", handoff: "analysis"}},
		"analysis":  {{text: "high severity timeouts", handoff: "ticketing"}},
		"ticketing": {{text: "created INC0001"}},
	})
	swarm := NewSwarm(threeStage(t, s), DefaultSwarmConfig())

	res := swarm.Run(context.Background(), "analyze yesterday's errors")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, SwarmStatusCompleted, res.Status)
	assert.Equal(t, SwarmStatusCompleted, swarm.Status())
	assert.Equal(t, []string{"retrieval", "analysis", "ticketing"}, res.AgentsUsed)
	assert.Equal(t, 2, res.Handoffs)
	assert.Equal(t, 3, res.Turns)
	assert.Equal(t, "created INC0001", res.Output)
	assert.Empty(t, res.Error)
	assert.NoError(t, res.Err())

	want := "## AIOps Swarm Execution Summary\n\n" +
		"### retrieval\n- Actions: 1\n- Successful: 1\n\n" +
		"### analysis\n- Actions: 1\n- Successful: 1\n\n" +
		"### ticketing\n- Actions: 1\n- Successful: 1\n"
	assert.Equal(t, want, res.Summary)
}

func TestSwarm_Determinism(t *testing.T) {
	steps := map[string][]step{
		"retrieval": {{handoff: "analysis"}},
		"analysis":  {{handoff: "retrieval"}, {handoff: "ticketing"}},
		"ticketing": {{text: "done"}},
	}

	var first *Result
	for i := 0; i < 5; i++ {
		res := NewSwarm(threeStage(t, newScript(steps)), DefaultSwarmConfig()).Run(context.Background(), "task")
		if first == nil {
			first = res
			continue
		}
		assert.Equal(t, first.AgentsUsed, res.AgentsUsed)
		assert.Equal(t, first.Status, res.Status)
		assert.Equal(t, first.Turns, res.Turns)
	}
	assert.True(t, first.Success)
}

func TestSwarm_AgentsUsedIsDeduplicated(t *testing.T) {
	s := newScript(map[string][]step{
		"retrieval": {{handoff: "analysis"}, {handoff: "analysis"}, {handoff: "ticketing"}},
		"analysis":  {{handoff: "retrieval"}},
		"ticketing": {{text: "done"}},
	})

	res := NewSwarm(threeStage(t, s), DefaultSwarmConfig()).Run(context.Background(), "task")

	require.True(t, res.Success)
	assert.Equal(t, []string{"retrieval", "analysis", "ticketing"}, res.AgentsUsed)
	assert.Equal(t, 6, res.Turns)
	assert.Equal(t, 5, res.Handoffs)
	assert.Contains(t, res.Summary, "### retrieval\n- Actions: 3\n- Successful: 3")
}

func TestSwarm_HandoffTerminations(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{name: "self handoff completes", target: "retrieval"},
		{name: "unknown peer completes", target: "nobody"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScript(map[string][]step{
				"retrieval": {{text: "finished", handoff: tt.target}},
			})
			res := NewSwarm(threeStage(t, s), DefaultSwarmConfig()).Run(context.Background(), "task")

			require.True(t, res.Success, res.Error)
			assert.Equal(t, "finished", res.Output)
			assert.Equal(t, 1, res.Turns)
			assert.Equal(t, 0, res.Handoffs)
			assert.Equal(t, []string{"retrieval"}, res.AgentsUsed)
		})
	}
}

func TestSwarm_Budgets(t *testing.T) {
	pingPong := map[string][]step{
		"retrieval": {{handoff: "analysis"}},
		"analysis":  {{handoff: "retrieval"}},
	}

	tests := []struct {
		name      string
		opts      []RunOption
		wantBound Bound
		wantTurns int
	}{
		{name: "max iterations", opts: []RunOption{WithMaxIterations(1)}, wantBound: BoundIterations, wantTurns: 1},
		{name: "max handoffs", opts: []RunOption{WithMaxHandoffs(3)}, wantBound: BoundHandoffs, wantTurns: 3},
		{name: "iterations before handoffs", opts: []RunOption{WithMaxIterations(4), WithMaxHandoffs(10)}, wantBound: BoundIterations, wantTurns: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roster := threeStage(t, newScript(pingPong))
			res := NewSwarm(roster, DefaultSwarmConfig()).Run(context.Background(), "task", tt.opts...)

			assert.False(t, res.Success)
			assert.Equal(t, SwarmStatusFailed, res.Status)
			assert.Equal(t, tt.wantTurns, res.Turns)
			assert.Empty(t, res.Output)

			var budget *BudgetExceededError
			require.ErrorAs(t, res.Err(), &budget)
			assert.Equal(t, tt.wantBound, budget.Bound)
			assert.Contains(t, res.Error, string(tt.wantBound))
			// partial progress is still reported
			assert.Equal(t, "retrieval", res.AgentsUsed[0])
			assert.Contains(t, res.Summary, "### retrieval")
		})
	}
}

func TestSwarm_NodeTimeout(t *testing.T) {
	tests := []struct {
		name     string
		reasoner Reasoner
	}{
		{
			name: "reasoner honours context",
			reasoner: ReasonerFunc(func(ctx context.Context, in Instruction) (*Response, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		},
		{
			name: "reasoner ignores context",
			reasoner: ReasonerFunc(func(ctx context.Context, in Instruction) (*Response, error) {
				time.Sleep(300 * time.Millisecond)
				return &Response{Text: "late"}, nil
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScript(nil)
			roster := newTestRoster(t, s, CapabilityConfig{Name: "slow", Reasoner: tt.reasoner})

			start := time.Now()
			res := NewSwarm(roster, DefaultSwarmConfig()).Run(context.Background(), "task", WithNodeTimeout(20*time.Millisecond))

			assert.Less(t, time.Since(start), 250*time.Millisecond)
			assert.False(t, res.Success)
			var budget *BudgetExceededError
			require.ErrorAs(t, res.Err(), &budget)
			assert.Equal(t, BoundNode, budget.Bound)
			assert.Equal(t, "slow", budget.Capability)
		})
	}
}

func TestSwarm_ExecutionTimeout(t *testing.T) {
	s := newScript(nil)
	slow := ReasonerFunc(func(ctx context.Context, in Instruction) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	roster := newTestRoster(t, s, CapabilityConfig{Name: "slow", Reasoner: slow})

	res := NewSwarm(roster, DefaultSwarmConfig()).Run(context.Background(), "task",
		WithExecutionTimeout(20*time.Millisecond),
		WithNodeTimeout(time.Minute),
	)

	var budget *BudgetExceededError
	require.ErrorAs(t, res.Err(), &budget)
	assert.Equal(t, BoundExecution, budget.Bound)
}

func TestSwarm_ParentCancellation(t *testing.T) {
	s := newScript(nil)
	slow := ReasonerFunc(func(ctx context.Context, in Instruction) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	roster := newTestRoster(t, s, CapabilityConfig{Name: "slow", Reasoner: slow})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	res := NewSwarm(roster, DefaultSwarmConfig()).Run(ctx, "task")

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err(), context.Canceled)
}

func TestSwarm_ReasoningFailure(t *testing.T) {
	boom := errors.New("backend unreachable")
	s := newScript(map[string][]step{
		"retrieval": {{text: "logs", handoff: "analysis"}},
		"analysis":  {{err: boom}},
	})

	res := NewSwarm(threeStage(t, s), DefaultSwarmConfig()).Run(context.Background(), "task")

	assert.False(t, res.Success)
	assert.Empty(t, res.Output)
	var rf *ReasoningFailure
	require.ErrorAs(t, res.Err(), &rf)
	assert.Equal(t, "analysis", rf.Capability)
	assert.ErrorIs(t, res.Err(), boom)
	assert.Contains(t, res.Error, "backend unreachable")
	assert.Equal(t, []string{"retrieval"}, res.AgentsUsed)
	assert.Equal(t, 1, res.Handoffs)
	assert.Contains(t, res.Summary, "### retrieval")
}

func TestSwarm_OperationFailureIsTerminal(t *testing.T) {
	s := newScript(nil)
	failing := ReasonerFunc(func(ctx context.Context, in Instruction) (*Response, error) {
		return nil, &OperationFailure{Operation: "create_incident", Message: "403 Forbidden"}
	})
	roster := newTestRoster(t, s, CapabilityConfig{Name: "ticketing", Reasoner: failing})

	res := NewSwarm(roster, DefaultSwarmConfig()).Run(context.Background(), "task")

	var opErr *OperationFailure
	require.ErrorAs(t, res.Err(), &opErr)
	assert.Equal(t, "create_incident", opErr.Operation)
}

func TestSwarm_PanicIsContained(t *testing.T) {
	s := newScript(nil)
	panicky := ReasonerFunc(func(ctx context.Context, in Instruction) (*Response, error) {
		panic("nil map write")
	})
	roster := newTestRoster(t, s, CapabilityConfig{Name: "p", Reasoner: panicky})

	res := NewSwarm(roster, DefaultSwarmConfig()).Run(context.Background(), "task")

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err(), ErrNodePanicked)

	c, ok := roster.Get("p")
	require.True(t, ok)
	assert.Equal(t, LedgerStats{Total: 1, Success: 0, Failure: 1}, c.Stats())
	actions := c.Actions()
	require.Len(t, actions, 1)
	assert.Contains(t, actions[0].Error, "nil map write")
}

func TestSwarm_TimedOutStepIsCountedInSummary(t *testing.T) {
	var calls int
	var mu sync.Mutex
	bouncer := ReasonerFunc(func(ctx context.Context, in Instruction) (*Response, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return &Response{Text: "first", Handoff: &Handoff{Target: "other"}}, nil
		}
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return nil, ctx.Err()
	})
	s := newScript(map[string][]step{"other": {{text: "back", handoff: "bouncer"}}})
	roster := newTestRoster(t, s,
		CapabilityConfig{Name: "bouncer", Reasoner: bouncer},
		CapabilityConfig{Name: "other"},
	)

	res := NewSwarm(roster, DefaultSwarmConfig()).Run(context.Background(), "task", WithNodeTimeout(20*time.Millisecond))

	var budget *BudgetExceededError
	require.ErrorAs(t, res.Err(), &budget)
	assert.Equal(t, BoundNode, budget.Bound)

	c, ok := roster.Get("bouncer")
	require.True(t, ok)
	assert.Equal(t, LedgerStats{Total: 2, Success: 1, Failure: 1}, c.Stats())
	assert.Contains(t, res.Summary, "### bouncer\n- Actions: 2\n- Successful: 1")
}

func TestSwarm_ConfigurationErrors(t *testing.T) {
	s := newScript(map[string][]step{"retrieval": {{text: "ok"}}})

	t.Run("empty roster", func(t *testing.T) {
		res := NewSwarm(nil, DefaultSwarmConfig()).Run(context.Background(), "task")
		var cfgErr *ConfigurationError
		require.ErrorAs(t, res.Err(), &cfgErr)
		assert.ErrorIs(t, res.Err(), ErrEmptyRoster)
		assert.Equal(t, SwarmStatusFailed, res.Status)
		assert.Equal(t, []string{}, res.AgentsUsed)
	})

	t.Run("unknown start", func(t *testing.T) {
		res := NewSwarm(threeStage(t, s), DefaultSwarmConfig()).Run(context.Background(), "task", WithStart("billing"))
		var cfgErr *ConfigurationError
		require.ErrorAs(t, res.Err(), &cfgErr)
		assert.ErrorIs(t, res.Err(), ErrUnknownCapability)
		assert.Equal(t, "billing", cfgErr.Reason)
		assert.Equal(t, 0, res.Turns)
	})

	t.Run("failed preflight", func(t *testing.T) {
		missing := errors.New("DD_API_KEY not set")
		roster := newTestRoster(t, s,
			CapabilityConfig{Name: "retrieval", Role: RoleIntake, Preflight: func() error { return missing }},
		)
		res := NewSwarm(roster, DefaultSwarmConfig()).Run(context.Background(), "task")
		var cfgErr *ConfigurationError
		require.ErrorAs(t, res.Err(), &cfgErr)
		assert.ErrorIs(t, res.Err(), missing)
		assert.Zero(t, s.calls["retrieval"])
	})
}

func TestSwarm_StartSelection(t *testing.T) {
	s := newScript(map[string][]step{
		"analysis":  {{text: "analysis"}},
		"retrieval": {{text: "retrieval"}},
		"ticketing": {{text: "ticketing"}},
	})

	t.Run("first intake capability", func(t *testing.T) {
		roster := newTestRoster(t, s,
			CapabilityConfig{Name: "analysis", Role: RoleAnalysis},
			CapabilityConfig{Name: "retrieval", Role: RoleIntake},
		)
		res := NewSwarm(roster, DefaultSwarmConfig()).Run(context.Background(), "task")
		assert.Equal(t, "retrieval", res.Output)
	})

	t.Run("first in roster without intake", func(t *testing.T) {
		roster := newTestRoster(t, s,
			CapabilityConfig{Name: "ticketing", Role: RoleTicketing},
			CapabilityConfig{Name: "analysis", Role: RoleAnalysis},
		)
		res := NewSwarm(roster, DefaultSwarmConfig()).Run(context.Background(), "task")
		assert.Equal(t, "ticketing", res.Output)
	})

	t.Run("explicit start", func(t *testing.T) {
		res := NewSwarm(threeStage(t, s), DefaultSwarmConfig()).Run(context.Background(), "task", WithStart("ticketing"))
		assert.Equal(t, "ticketing", res.Output)
	})
}

func TestSwarm_SharedContext(t *testing.T) {
	s := newScript(map[string][]step{
		"retrieval": {{text: "payment-api: 12 timeouts", handoff: "analysis"}},
		"analysis":  {{text: "done"}},
	})

	res := NewSwarm(threeStage(t, s), DefaultSwarmConfig()).Run(context.Background(), "check payments")
	require.True(t, res.Success)
	require.Len(t, s.seen, 2)

	first := s.seen[0]
	assert.Equal(t, "check payments", first.Message)
	assert.Len(t, first.Peers, 2)

	second := s.seen[1]
	assert.Equal(t, "over to analysis", second.Message)
	assert.Contains(t, second.Context, "## Shared Task Context")
	assert.Contains(t, second.Context, "Original task: check payments")
	assert.Contains(t, second.Context, "[retrieval]\npayment-api: 12 timeouts")
	assert.Contains(t, second.Context, "### Handoff message\nover to analysis")
	for _, p := range second.Peers {
		assert.NotEqual(t, "analysis", p.Name)
	}
}

func TestSwarm_SummaryCountsOnlyThisRun(t *testing.T) {
	s := newScript(map[string][]step{"retrieval": {{text: "ok"}}})
	swarm := NewSwarm(threeStage(t, s), DefaultSwarmConfig())

	swarm.Run(context.Background(), "first")
	res := swarm.Run(context.Background(), "second")

	assert.Contains(t, res.Summary, "### retrieval\n- Actions: 1\n")
	c, _ := swarm.Roster().Get("retrieval")
	assert.Equal(t, 2, c.Stats().Total)
}

func TestSwarm_Events(t *testing.T) {
	s := newScript(map[string][]step{
		"retrieval": {{handoff: "analysis"}},
		"analysis":  {{text: "done"}},
	})

	var types []SwarmEventType
	res := NewSwarm(threeStage(t, s), DefaultSwarmConfig()).Run(context.Background(), "task",
		WithObserver(func(ev SwarmEvent) {
			assert.NotEmpty(t, ev.RunID)
			types = append(types, ev.Type)
		}),
	)

	require.True(t, res.Success)
	assert.Equal(t, []SwarmEventType{
		SwarmEventStarted,
		SwarmEventNodeStarted,
		SwarmEventNodeCompleted,
		SwarmEventHandoff,
		SwarmEventNodeStarted,
		SwarmEventNodeCompleted,
		SwarmEventCompleted,
	}, types)
}

func TestSwarm_EventsCarryOwnerAndRunID(t *testing.T) {
	s := newScript(map[string][]step{"retrieval": {{text: "done"}}})

	var seen []SwarmEvent
	ctx := WithOwner(context.Background(), "alice")
	res := NewSwarm(threeStage(t, s), DefaultSwarmConfig()).Run(ctx, "task",
		WithRunID("run-42"),
		WithObserver(func(ev SwarmEvent) { seen = append(seen, ev) }),
	)

	require.True(t, res.Success)
	assert.Equal(t, "run-42", res.RunID)
	require.NotEmpty(t, seen)
	for _, ev := range seen {
		assert.Equal(t, "run-42", ev.RunID)
		assert.Equal(t, "alice", ev.Owner)
	}
	assert.Empty(t, OwnerFrom(context.Background()))
}

func TestSwarm_RejectsConcurrentRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := ReasonerFunc(func(ctx context.Context, in Instruction) (*Response, error) {
		close(entered)
		<-release
		return &Response{Text: "ok"}, nil
	})
	roster := newTestRoster(t, newScript(nil), CapabilityConfig{Name: "only", Reasoner: blocking})
	swarm := NewSwarm(roster, DefaultSwarmConfig())

	done := make(chan *Result, 1)
	go func() { done <- swarm.Run(context.Background(), "first") }()
	<-entered

	busy := swarm.Run(context.Background(), "second")
	assert.ErrorIs(t, busy.Err(), ErrSwarmBusy)
	assert.Equal(t, SwarmStatusRunning, swarm.Status())

	close(release)
	first := <-done
	assert.True(t, first.Success)
}

func TestSwarmConfigFrom(t *testing.T) {
	cfg := SwarmConfigFrom(config.RateLimitsConfig{MaxIterations: 5, NodeTimeout: time.Minute})
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, 15, cfg.MaxHandoffs)
	assert.Equal(t, 900*time.Second, cfg.ExecutionTimeout)
	assert.Equal(t, time.Minute, cfg.NodeTimeout)
}

func TestResult_ToMap(t *testing.T) {
	res := FailedResult("task", errors.New("boom"))
	m := res.ToMap()

	assert.Equal(t, false, m["success"])
	assert.Equal(t, "task", m["task"])
	assert.Equal(t, "", m["output"])
	assert.Equal(t, []string{}, m["agents_used"])
	assert.Equal(t, "boom", m["error"])
	assert.Equal(t, "Task failed: boom", m["summary"])
	assert.Equal(t, "SwarmResult(success=false, error=boom)", res.String())
}
