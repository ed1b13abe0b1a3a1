package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MIK-RC/aws-aiops/internal/database/repository"
)

// HistoryHandler serves stored runs and chat sessions
type HistoryHandler struct {
	runs     *repository.RunRepository
	sessions *repository.SessionRepository
}

func NewHistoryHandler(runs *repository.RunRepository, sessions *repository.SessionRepository) *HistoryHandler {
	return &HistoryHandler{runs: runs, sessions: sessions}
}

// GetRun returns one stored run
func (h *HistoryHandler) GetRun(c *fiber.Ctx) error {
	run, err := h.runs.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if run == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "run not found",
		})
	}
	return c.JSON(run)
}

// ListRuns returns the most recent runs
func (h *HistoryHandler) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit > 100 {
		limit = 100
	}
	runs, err := h.runs.List(c.UserContext(), limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*repository.Run{}
	}
	return c.JSON(fiber.Map{"runs": runs})
}

// GetSession returns the history of a chat session
func (h *HistoryHandler) GetSession(c *fiber.Ctx) error {
	entries, err := h.sessions.Read(c.UserContext(), c.Params("id"), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}

	messages := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, fiber.Map{
			"role":       e.Role,
			"content":    e.Content,
			"created_at": e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{
		"session_id": c.Params("id"),
		"messages":   messages,
	})
}

// DeleteSession removes a chat session
func (h *HistoryHandler) DeleteSession(c *fiber.Ctx) error {
	n, err := h.sessions.Delete(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if n == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "session not found",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
