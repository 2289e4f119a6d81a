package network

import (
	"chatsync/chat"

	"github.com/gofiber/fiber/v2"
)

type onlineStatusRequest struct {
	IsOnline bool `json:"is_online"`
}

type conversationRequest struct {
	UserA string `json:"user_a"`
	UserB string `json:"user_b"`
}

type sendMessageRequest struct {
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	return nil
}

func (s *Server) upsertProfile(c *fiber.Ctx) error {
	var profile chat.Profile
	if err := parseBody(c, &profile); err != nil {
		return err
	}

	userID, err := s.service.UpsertProfile(c.UserContext(), profile)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user_id": userID})
}

func (s *Server) setOnlineStatus(c *fiber.Ctx) error {
	var req onlineStatusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if err := s.service.SetOnlineStatus(c.UserContext(), c.Params("externalID"), req.IsOnline); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) getProfile(c *fiber.Ctx) error {
	user, err := s.service.GetUserByExternalID(c.UserContext(), c.Params("externalID"))
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (s *Server) listOtherUsers(c *fiber.Ctx) error {
	users, err := s.service.ListOtherUsers(c.UserContext(), c.Params("externalID"))
	if err != nil {
		return err
	}
	return c.JSON(users)
}

func (s *Server) getOrCreateConversation(c *fiber.Ctx) error {
	var req conversationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	conversationID, err := s.service.GetOrCreateConversation(c.UserContext(), req.UserA, req.UserB)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"conversation_id": conversationID})
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	summaries, err := s.service.ListConversations(c.UserContext(), c.Params("userID"))
	if err != nil {
		return err
	}
	return c.JSON(summaries)
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	messageID, err := s.service.SendMessage(c.UserContext(), c.Params("conversationID"), req.SenderID, req.Content)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message_id": messageID})
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	messages, err := s.service.ListMessages(c.UserContext(), c.Params("conversationID"))
	if err != nil {
		return err
	}
	return c.JSON(messages)
}

func (s *Server) deleteMessage(c *fiber.Ctx) error {
	if err := s.service.DeleteMessage(c.UserContext(), c.Params("messageID")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) markRead(c *fiber.Ctx) error {
	var req userRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if err := s.service.MarkRead(c.UserContext(), c.Params("conversationID"), req.UserID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) unreadCount(c *fiber.Ctx) error {
	count, err := s.service.UnreadCount(c.UserContext(), c.Params("conversationID"), c.Query("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"unread_count": count})
}

func (s *Server) setTyping(c *fiber.Ctx) error {
	var req userRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if err := s.service.SetTyping(c.UserContext(), c.Params("conversationID"), req.UserID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) clearTyping(c *fiber.Ctx) error {
	if err := s.service.ClearTyping(c.UserContext(), c.Params("conversationID"), c.Query("user_id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) listTyping(c *fiber.Ctx) error {
	users, err := s.service.ListTyping(c.UserContext(), c.Params("conversationID"), c.Query("exclude"))
	if err != nil {
		return err
	}
	return c.JSON(users)
}
