package api

import (
	"github.com/gofiber/fiber/v3"
)

// RegisterRoutes registers the introspection and publish routes. The
// WebSocket upgrade itself is a raw fasthttp mount on the group's prefix.
func (a *API) RegisterRoutes(group fiber.Router) {
	group.Get("/info", a.handleInfo)
	group.Get("/clients", a.handleClients)
	group.Get("/clients/:id", a.handleClient)
	group.Get("/channels", a.handleChannels)
	group.Post("/publish", a.handlePublish)
}

func (a *API) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  a.cfg.Path,
		"clients":   a.hub.ClientCount(),
		"channels":  len(a.coordinator.Registry().Channels()),
	})
}

func (a *API) handleClients(c fiber.Ctx) error {
	ids := a.ConnectedClients()
	infos := make([]any, 0, len(ids))
	for _, id := range ids {
		// Clients may disconnect between listing and lookup.
		if info, err := a.ClientInfo(id); err == nil {
			infos = append(infos, info)
		}
	}
	return c.JSON(fiber.Map{
		"clients": infos,
		"count":   len(infos),
	})
}

func (a *API) handleClient(c fiber.Ctx) error {
	info, err := a.ClientInfo(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(info)
}

func (a *API) handleChannels(c fiber.Ctx) error {
	stats := a.Channels()
	return c.JSON(fiber.Map{"channels": stats, "count": len(stats)})
}

type publishRequest struct {
	Channel string `json:"channel"`
	Action  string `json:"action"`
	Payload any    `json:"payload"`
}

func (a *API) handlePublish(c fiber.Ctx) error {
	var req publishRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid json body"})
	}
	if req.Action == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "action is required"})
	}

	if req.Channel == "" {
		a.Broadcast(req.Action, req.Payload)
	} else {
		a.BroadcastChannel(req.Channel, req.Action, req.Payload)
	}
	return c.JSON(fiber.Map{"published": true, "channel": req.Channel, "action": req.Action})
}
