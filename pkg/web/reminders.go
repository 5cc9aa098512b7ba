package web

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-medibot/pkg/reminder"
)

func (s *Server) reminderStore() (reminder.Store, error) {
	if s.deps.Reminders == nil {
		return nil, errUnavailable
	}
	return s.deps.Reminders.Store(), nil
}

func (s *Server) handleListReminders(c *fiber.Ctx) error {
	store, err := s.reminderStore()
	if err != nil {
		return err
	}
	list, err := store.List()
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (s *Server) handleUpcomingReminders(c *fiber.Ctx) error {
	if s.deps.Reminders == nil {
		return errUnavailable
	}
	up, err := s.deps.Reminders.Upcoming()
	if err != nil {
		return err
	}
	return c.JSON(up)
}

func (s *Server) handleCreateReminder(c *fiber.Ctx) error {
	store, err := s.reminderStore()
	if err != nil {
		return err
	}
	var r reminder.Reminder
	if err := c.BodyParser(&r); err != nil {
		return badRequest("invalid body")
	}
	r.ID = ""
	r.CreatedAt = time.Time{}
	r.LastFired = time.Time{}
	if err := store.Save(&r); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

func (s *Server) handleUpdateReminder(c *fiber.Ctx) error {
	store, err := s.reminderStore()
	if err != nil {
		return err
	}
	prev, err := store.Get(c.Params("id"))
	if err != nil {
		return err
	}
	var r reminder.Reminder
	if err := c.BodyParser(&r); err != nil {
		return badRequest("invalid body")
	}
	r.ID = prev.ID
	r.CreatedAt = prev.CreatedAt
	r.LastFired = prev.LastFired
	if err := store.Save(&r); err != nil {
		return err
	}
	return c.JSON(r)
}

func (s *Server) handleDeleteReminder(c *fiber.Ctx) error {
	store, err := s.reminderStore()
	if err != nil {
		return err
	}
	if err := store.Delete(c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
