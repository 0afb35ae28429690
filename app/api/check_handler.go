package api

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"klaus/types"
)

type StatsReporter interface {
	Stats(context.Context) (types.KBStats, error)
}

type CheckHandler struct {
	kb StatsReporter
}

func NewCheckHandler(kb StatsReporter) *CheckHandler {
	return &CheckHandler{kb: kb}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	stats, err := h.kb.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"result": "ok", "kb": stats})
}
