package server

import (
	"campuspulse/internal/service"

	"github.com/gofiber/fiber/v2"
)

func trendingQuery(c *fiber.Ctx) service.TrendingQuery {
	return service.TrendingQuery{
		Limit:     c.QueryInt("limit", 0),
		Category:  c.Query("category"),
		Timeframe: c.Query("timeframe"),
	}
}

// GetTrendingPosts handles GET /api/trending/posts
func (s *Server) GetTrendingPosts(c *fiber.Ctx) error {
	posts, err := s.trendingService.TopPosts(c.UserContext(), trendingQuery(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(posts)
}

// GetTrendingCategories handles GET /api/trending/categories
func (s *Server) GetTrendingCategories(c *fiber.Ctx) error {
	ranks, err := s.trendingService.TopCategories(c.UserContext(), trendingQuery(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ranks)
}

// GetTrendingSections handles GET /api/trending/sections
func (s *Server) GetTrendingSections(c *fiber.Ctx) error {
	ranks, err := s.trendingService.TopSections(c.UserContext(), trendingQuery(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ranks)
}

// GetTrendingProfiles handles GET /api/trending/profiles
func (s *Server) GetTrendingProfiles(c *fiber.Ctx) error {
	ranks, err := s.trendingService.TopProfiles(c.UserContext(), trendingQuery(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ranks)
}
