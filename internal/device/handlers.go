package device

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(r fiber.Router, m *Manager) {
	r.Post("/connect", func(c *fiber.Ctx) error {
		var body struct {
			Target   string `json:"target"`
			Port     string `json:"port"`
			ReadKey  string `json:"read_key"`
			Mode     string `json:"mode"`
			Security string `json:"security"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		mode := Mode(body.Mode)
		switch mode {
		case ModeDirect, ModeRemote, ModeAggregator:
		default:
			return fiber.NewError(fiber.StatusBadRequest, "mode must be direct, remote or aggregator")
		}
		security := SecurityInsecure
		if body.Security == string(SecuritySecure) {
			security = SecuritySecure
		}

		secondary := body.Port
		if mode == ModeAggregator {
			secondary = body.ReadKey
		}
		if err := m.Connect(body.Target, secondary, mode, security); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(m.Status())
		}
		return c.JSON(m.Status())
	})

	r.Post("/disconnect", func(c *fiber.Ctx) error {
		m.Disconnect()
		return c.JSON(m.Status())
	})

	r.Post("/reconnect-insecure", func(c *fiber.Ctx) error {
		var body struct {
			Target string `json:"target"`
			Port   string `json:"port"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := m.ReconnectInsecure(body.Target, body.Port); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(m.Status())
		}
		return c.JSON(m.Status())
	})

	r.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(m.Status())
	})
}
