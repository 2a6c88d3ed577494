package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// DeliveryCounter reports how many deliveries the store holds.
type DeliveryCounter interface {
	Count() int
}

// RegisterHealthRoutes mounts /livez and /readyz. rdb may be nil when the
// callback rate limiter runs in-process.
func RegisterHealthRoutes(app fiber.Router, deliveries DeliveryCounter, rdb *redis.Client) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(deliveries, rdb))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(deliveries DeliveryCounter, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		redisStatus := "disabled"
		var redisErr error
		if rdb != nil {
			redisStatus = "ok"
			if redisErr = rdb.Ping(ctx).Err(); redisErr != nil {
				redisStatus = "down"
			}
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if redisErr != nil {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		body := fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"redis": redisStatus,
			},
		}
		if deliveries != nil {
			body["deliveries"] = deliveries.Count()
		}

		return c.Status(statusCode).JSON(body)
	}
}
