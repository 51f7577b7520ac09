package audit

import "github.com/gofiber/fiber/v2"

// ActorFromCtx extracts the acting admin from an authenticated request.
func ActorFromCtx(c *fiber.Ctx) Actor {
	adminID, _ := c.Locals("user_id").(string)
	return Actor{
		AdminID:   adminID,
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
}
