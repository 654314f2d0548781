package server

import (
	"campuspulse/internal/service"

	"github.com/gofiber/fiber/v2"
)

type createPostRequest struct {
	Category string `json:"category" validate:"required,max=64"`
	Section  string `json:"section" validate:"max=64"`
	Content  string `json:"content" validate:"required"`
}

type createCommentRequest struct {
	Content string `json:"content" validate:"required"`
}

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	ctx, userID := authUser(c)

	var req createPostRequest
	if err := bindJSON(c, &req); err != nil {
		return nil
	}

	post, err := s.postService.Create(ctx, service.CreatePostInput{
		AuthorID: userID,
		Category: req.Category,
		Section:  req.Section,
		Content:  req.Content,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	post, err := s.postService.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// LikePost handles POST /api/posts/:id/like. Calling it again removes the like.
func (s *Server) LikePost(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	res, err := s.engagementService.ToggleLike(ctx, postID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// CreateComment handles POST /api/posts/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	var req createCommentRequest
	if err := bindJSON(c, &req); err != nil {
		return nil
	}

	res, err := s.engagementService.AddComment(ctx, postID, userID, req.Content)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// DeleteComment handles DELETE /api/posts/:id/comments/:commentId
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	commentID, err := parseID(c, "commentId")
	if err != nil {
		return nil
	}

	res, err := s.engagementService.RemoveComment(ctx, postID, commentID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// SharePost handles POST /api/posts/:id/share
func (s *Server) SharePost(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	res, err := s.engagementService.Share(ctx, postID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}
