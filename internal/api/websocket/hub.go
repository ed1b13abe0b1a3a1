package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MIK-RC/aws-aiops/internal/agent"
	"github.com/MIK-RC/aws-aiops/internal/workflow"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

// Hub maintains the set of active clients and routes swarm events to the
// subject that started the run.
type Hub struct {
	// Registered clients by subject
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stop       sync.Once

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves register and unregister requests until ctx is done. Later
// unregistrations are applied directly.
func (h *Hub) Run(ctx context.Context) {
	defer h.stop.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	if h.clients[client.Subject] == nil {
		h.clients[client.Subject] = make(map[*Client]bool)
	}
	h.clients[client.Subject][client] = true
	h.mu.Unlock()
	logging.Debug("websocket", "client registered: subject=%s", client.Subject)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.Subject][client]; ok {
		delete(h.clients[client.Subject], client)
		if len(h.clients[client.Subject]) == 0 {
			delete(h.clients, client.Subject)
		}
		close(client.Send)
	}
	h.mu.Unlock()
	logging.Debug("websocket", "client unregistered: subject=%s", client.Subject)
}

// Relay forwards each event of the broadcaster to the clients of the
// subject that started its run until ctx is done or the broadcaster closes.
// Events of runs started elsewhere are not relayed.
func (h *Hub) Relay(ctx context.Context, events *agent.EventBroadcaster) {
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Owner == "" {
				continue
			}
			h.SendTo(ev.Owner, NewSwarmEvent(ev))
		}
	}
}

// SendTo sends a message to every client of subject.
func (h *Hub) SendTo(subject string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logging.Warn("websocket", "failed to marshal message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[subject] {
		client.SendRaw(data)
	}
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.clients {
		n += len(clients)
	}
	return n
}

// Register adds client. It is a no-op once Run has returned.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		logging.Debug("websocket", "hub stopped, not registering subject=%s", client.Subject)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.remove(client)
	}
}

// Message types
const (
	TypeInvoke     = "invoke"
	TypeAccepted   = "invoke.accepted"
	TypeResult     = "invoke.result"
	TypeSwarmEvent = "swarm.event"
	TypeError      = "error"
)

// IncomingMessage is sent by clients. Invoke carries the same payload as
// POST /api/v1/invoke.
type IncomingMessage struct {
	Type       string              `json:"type"`
	Invocation workflow.Invocation `json:"invocation"`
}

type OutgoingMessage struct {
	Type    string            `json:"type"`
	RunID   string            `json:"run_id,omitempty"`
	Event   *agent.SwarmEvent `json:"event,omitempty"`
	Outcome *workflow.Outcome `json:"outcome,omitempty"`
	Mode    workflow.Mode     `json:"mode,omitempty"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
	Field   string            `json:"field,omitempty"`
}

func NewSwarmEvent(ev agent.SwarmEvent) *OutgoingMessage {
	return &OutgoingMessage{Type: TypeSwarmEvent, Event: &ev}
}

func NewAccepted(mode workflow.Mode, runID string) *OutgoingMessage {
	return &OutgoingMessage{Type: TypeAccepted, Mode: mode, RunID: runID}
}

func NewResult(out *workflow.Outcome) *OutgoingMessage {
	return &OutgoingMessage{Type: TypeResult, Outcome: out}
}

func NewError(code, message string) *OutgoingMessage {
	return &OutgoingMessage{Type: TypeError, Code: code, Message: message}
}
