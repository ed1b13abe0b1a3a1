package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/MIK-RC/aws-aiops/internal/agent"
	"github.com/MIK-RC/aws-aiops/internal/api/middleware"
	"github.com/MIK-RC/aws-aiops/internal/workflow"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

// Invoker runs invocations. *workflow.Service implements it.
type Invoker interface {
	Invoke(ctx context.Context, inv workflow.Invocation) (*workflow.Outcome, error)
}

// InvokeHandler handles invocation requests
type InvokeHandler struct {
	invoker Invoker
}

func NewInvokeHandler(invoker Invoker) *InvokeHandler {
	return &InvokeHandler{invoker: invoker}
}

// Invoke runs one invocation synchronously. Invalid payloads are 400; a
// run that fails is still 200 with success=false.
func (h *InvokeHandler) Invoke(c *fiber.Ctx) error {
	var inv workflow.Invocation
	if err := c.BodyParser(&inv); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	subject := middleware.GetSubject(c)
	logging.Info("api", "invoke from %s: mode=%s", subject, inv.Mode)
	// swarm events of the run reach the caller's websocket connections
	out, err := h.invoker.Invoke(agent.WithOwner(c.UserContext(), subject), inv)
	if err != nil {
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": verr.Error(),
				"field": verr.Field,
			})
		}
		return err
	}
	return c.JSON(out)
}

// AgentHandler describes the roster.
type AgentHandler struct {
	manager *agent.Manager
}

func NewAgentHandler(manager *agent.Manager) *AgentHandler {
	return &AgentHandler{manager: manager}
}

// List returns the default roster in order.
func (h *AgentHandler) List(c *fiber.Ctx) error {
	roster, err := h.manager.NewRoster()
	if err != nil {
		return err
	}

	agents := make([]fiber.Map, 0, roster.Len())
	for _, capability := range roster.List() {
		ops := []string{}
		if capability.Operations() != nil {
			ops = capability.Operations().Names()
		}
		agents = append(agents, fiber.Map{
			"name":        capability.Name(),
			"role":        capability.Role(),
			"description": capability.Description(),
			"operations":  ops,
			"ready":       capability.Check() == nil,
		})
	}
	return c.JSON(fiber.Map{
		"agents":        agents,
		"default_start": roster.DefaultStart().Name(),
	})
}
