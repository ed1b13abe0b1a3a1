package integrations

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

// EventType represents the type of event
type EventType string

const (
	EventWorkflowCompleted EventType = "workflow.completed"
	EventSwarmFailed       EventType = "swarm.failed"
	EventTicketCreated     EventType = "ticket.created"
)

// Event is one notification. Message is usually a markdown summary.
type Event struct {
	Type    EventType              `json:"type"`
	Source  string                 `json:"source"`
	Title   string                 `json:"title,omitempty"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// NotificationProvider interface for sending notifications
type NotificationProvider interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, event *Event) error
}

// Manager fans events out to every enabled provider.
type Manager struct {
	notifications []NotificationProvider
	mu            sync.RWMutex
}

// NewManager creates a new integrations manager
func NewManager() *Manager {
	return &Manager{
		notifications: make([]NotificationProvider, 0),
	}
}

// RegisterNotification registers a notification provider
func (m *Manager) RegisterNotification(provider NotificationProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, provider)
	logging.Info("integrations", "registered notification provider %s (enabled: %v)", provider.Name(), provider.Enabled())
}

// Enabled reports whether at least one provider would receive events.
func (m *Manager) Enabled() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.notifications {
		if p.Enabled() {
			return true
		}
	}
	return false
}

// Notify sends in the background and only logs failures.
func (m *Manager) Notify(event *Event) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, provider := range m.notifications {
		if provider.Enabled() {
			go func(p NotificationProvider) {
				if err := p.Send(context.Background(), event); err != nil {
					logging.Error("integrations", err, "failed to send notification via %s", p.Name())
				}
			}(provider)
		}
	}
}

// NotifySync sends to every enabled provider and joins the errors.
func (m *Manager) NotifySync(ctx context.Context, event *Event) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	providers := append([]NotificationProvider(nil), m.notifications...)
	m.mu.RUnlock()

	var errs []error
	for _, p := range providers {
		if !p.Enabled() {
			continue
		}
		if err := p.Send(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
