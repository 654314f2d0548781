package server

import (
	"github.com/gofiber/fiber/v2"
)

// FollowUser handles POST /api/users/:id/follow
func (s *Server) FollowUser(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	targetID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	created, err := s.userService.Follow(ctx, userID, targetID)
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"following": true, "user_id": targetID})
}

// UnfollowUser handles DELETE /api/users/:id/follow
func (s *Server) UnfollowUser(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	targetID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.userService.Unfollow(ctx, userID, targetID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetPresence handles GET /api/users/:id/presence
func (s *Server) GetPresence(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	presence, err := s.userService.Presence(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(presence)
}
