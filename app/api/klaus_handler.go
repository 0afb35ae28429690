package api

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"klaus/app/agent"
	"klaus/app/middleware"
	"klaus/types"
)

type KlausHandler struct {
	router *agent.Router
}

func NewKlausHandler(router *agent.Router) *KlausHandler {
	return &KlausHandler{router: router}
}

// HandleChat always answers 200 with {reply}. A body that does not parse is
// treated as an empty message.
func (h *KlausHandler) HandleChat(c *fiber.Ctx) error {
	var params types.ChatParams
	if err := c.BodyParser(&params); err != nil {
		log.Printf("[CHAT] unreadable body: %v", err)
		params = types.ChatParams{}
	}

	if errs := types.Validate(&params); errs["PageContext"] != "" {
		log.Printf("[CHAT] dropping page context: %s", errs["PageContext"])
		params.PageContext = ""
	}

	ctx := agent.WithRequestID(c.UserContext(), middleware.GetRequestID(c))
	reply := h.router.HandleMessage(ctx, params.Message, params.History, params.PageContext)
	return c.JSON(types.ChatReply{Reply: reply})
}

func (h *KlausHandler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(h.router.Health(c.UserContext()))
}
