package session

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, engine *Engine) {
	r.Post("/start", func(c *fiber.Ctx) error {
		if err := engine.Start(); err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return c.JSON(engine.Snapshot())
	})

	r.Post("/stop", func(c *fiber.Ctx) error {
		record, err := engine.Stop(c.Context())
		if errors.Is(err, ErrSessionTooShort) {
			return c.JSON(fiber.Map{"saved": false, "reason": err.Error()})
		}
		if errors.Is(err, ErrNotActive) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"saved": true, "session": record})
	})

	r.Post("/reset", func(c *fiber.Ctx) error {
		engine.Reset()
		return c.JSON(engine.Snapshot())
	})

	r.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(engine.Snapshot())
	})
}

// RegisterHistoryRoutes exposes the persisted session list.
func RegisterHistoryRoutes(r fiber.Router, store Store) {
	r.Get("/", func(c *fiber.Ctx) error {
		records, err := store.Load(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(records)
	})
}
