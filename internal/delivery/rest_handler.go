package delivery

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) handleGetPresence(c *fiber.Ctx) error {
	identityID := strings.TrimSpace(c.Params("identity_id"))
	if identityID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid identity ID",
		})
	}

	online := s.presence.IsOnline(c.UserContext(), identityID)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Presence retrieved successfully",
		"data": fiber.Map{
			"identityId": identityID,
			"online":     online,
		},
	})
}
