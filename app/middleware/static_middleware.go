package middleware

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// PlugStatic serves the few static files the assistant links to (the résumé)
// from dataDir. Probes under /.well-known/ are answered without touching disk.
func PlugStatic(dataDir string, files ...string) fiber.Handler {
	served := make(map[string]string, len(files))
	for _, f := range files {
		served["/"+f] = filepath.Join(dataDir, f)
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()

		if strings.HasPrefix(path, "/.well-known/") {
			return c.JSON(fiber.Map{
				"status": "ignored dynamic-static",
			})
		}

		if file, ok := served[path]; ok && (c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead) {
			if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
				return fiber.ErrNotFound
			}
			return c.SendFile(file)
		}

		return c.Next()
	}
}
