package server

import (
	"github.com/gofiber/fiber/v2"
)

// GetNotifications handles GET /api/notifications?page=&page_size=
func (s *Server) GetNotifications(c *fiber.Ctx) error {
	ctx, userID := authUser(c)

	list, err := s.notificationService.List(ctx, userID, c.QueryInt("page", 1), c.QueryInt("page_size", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(list)
}

// GetNotificationUnreadCount handles GET /api/notifications/unread-count
func (s *Server) GetNotificationUnreadCount(c *fiber.Ctx) error {
	ctx, userID := authUser(c)

	count, err := s.notificationService.UnreadCount(ctx, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"unread_count": count})
}

// MarkNotificationRead handles POST /api/notifications/:id/read
func (s *Server) MarkNotificationRead(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.notificationService.MarkRead(ctx, id, userID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkAllNotificationsRead handles POST /api/notifications/read-all
func (s *Server) MarkAllNotificationsRead(c *fiber.Ctx) error {
	ctx, userID := authUser(c)

	marked, err := s.notificationService.MarkAllRead(ctx, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"marked": marked})
}
