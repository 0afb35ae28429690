package api

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"klaus/kb"
)

type ProfileLoader interface {
	LoadProfile() (*kb.Profile, error)
}

type ProfileHandler struct {
	profiles ProfileLoader
}

func NewProfileHandler(profiles ProfileLoader) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// HandleGetProfile returns the cached profile dump. Refreshing it from a
// profile provider is done offline.
func (h *ProfileHandler) HandleGetProfile(c *fiber.Ctx) error {
	profile, err := h.profiles.LoadProfile()
	if err != nil {
		log.Printf("[PROFILE] read failed: %v", err)
		return c.JSON(fiber.Map{"ok": false, "error": "read_failed"})
	}
	return c.JSON(fiber.Map{"ok": true, "cached": profile != nil, "profile": profile})
}
