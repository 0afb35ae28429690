package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klaus/types"
)

type brokenStats struct{}

func (brokenStats) Stats(context.Context) (types.KBStats, error) {
	return types.KBStats{}, errors.New("index unreadable")
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/limited", func(*fiber.Ctx) error { return ErrTooManyRequests() })
	app.Get("/missing", func(*fiber.Ctx) error { return fiber.ErrNotFound })
	app.Get("/healthy", NewCheckHandler(brokenStats{}).HandleHealthy)

	tests := []struct {
		path string
		code int
		msg  string
	}{
		{"/limited", http.StatusTooManyRequests, "too many requests"},
		{"/missing", http.StatusNotFound, "Not Found"},
		{"/healthy", http.StatusInternalServerError, "index unreadable"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			var body Error
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.msg, body.Message)
		})
	}
}
