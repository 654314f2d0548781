package server

import "github.com/gofiber/fiber/v2"

// GetFeatureFlags returns the configured flags and their state for the current user,
// so clients can hide typing indicators when they are off.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	_, userID := authUser(c)
	return c.JSON(fiber.Map{
		"flags":   s.featureFlags.Names(),
		"enabled": s.featureFlags.Snapshot(userID),
	})
}
