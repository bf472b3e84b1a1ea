// Package api exposes the operator HTTP surface: health, connection
// status, and direct send endpoints for testing a deployment.
package api

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/wabridge/wabridge/internal/channel"
	"github.com/wabridge/wabridge/pkg/log"
	"github.com/wabridge/wabridge/pkg/whatsapp"
)

const requestTimeout = 30 * time.Second

// Response is the envelope for every endpoint.
type Response struct {
	Status  int         `json:"status"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func responseSuccess(c *fiber.Ctx, message string, data interface{}) error {
	log.Print(c).Info(message)
	return c.Status(fiber.StatusOK).JSON(Response{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: message,
		Data:    data,
	})
}

func responseError(c *fiber.Ctx, status int, message string) error {
	log.Print(c).Error(message)
	return c.Status(status).JSON(Response{
		Status:  status,
		Code:    "ERROR",
		Message: message,
	})
}

func sendStatus(err error) int {
	if errors.Is(err, whatsapp.ErrNotConnected) {
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

type sendRequest struct {
	To   string `json:"to" form:"to"`
	Text string `json:"text" form:"text"`
}

type reactRequest struct {
	To        string `json:"to" form:"to"`
	MessageID string `json:"message_id" form:"message_id"`
	Emoji     string `json:"emoji" form:"emoji"`
}

// Routes registers the operator endpoints on app.
func Routes(app *fiber.App, ch *channel.Channel) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return responseSuccess(c, "Service is running", nil)
	})

	app.Get("/status", func(c *fiber.Ctx) error {
		return responseSuccess(c, "Connection status", fiber.Map{
			"channel":   channel.Name,
			"status":    string(ch.Status()),
			"logged_in": ch.Client().IsLoggedIn(),
		})
	})

	app.Post("/send/text", func(c *fiber.Ctx) error {
		var req sendRequest
		if err := c.BodyParser(&req); err != nil {
			return responseError(c, fiber.StatusBadRequest, "Invalid request body")
		}
		if req.To == "" || req.Text == "" {
			return responseError(c, fiber.StatusBadRequest, "Fields 'to' and 'text' are required")
		}

		ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
		defer cancel()

		id, err := ch.Client().SendMessage(ctx, req.To, req.Text)
		if err != nil {
			return responseError(c, sendStatus(err), err.Error())
		}
		return responseSuccess(c, "Message sent", fiber.Map{"message_id": id})
	})

	app.Post("/send/image", func(c *fiber.Ctx) error {
		file, err := c.FormFile("image")
		if err != nil {
			return responseError(c, fiber.StatusBadRequest, "Field 'image' is required")
		}
		to := c.FormValue("to")
		if to == "" {
			return responseError(c, fiber.StatusBadRequest, "Field 'to' is required")
		}

		opened, err := file.Open()
		if err != nil {
			return responseError(c, fiber.StatusBadRequest, "Cannot open uploaded file")
		}
		defer opened.Close()

		data, err := io.ReadAll(opened)
		if err != nil {
			return responseError(c, fiber.StatusBadRequest, "Cannot read uploaded file")
		}

		ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
		defer cancel()

		id, err := ch.Client().SendImage(ctx, to, data, file.Header.Get("Content-Type"), c.FormValue("caption"))
		if err != nil {
			return responseError(c, sendStatus(err), err.Error())
		}
		return responseSuccess(c, "Image sent", fiber.Map{"message_id": id})
	})

	app.Post("/send/react", func(c *fiber.Ctx) error {
		var req reactRequest
		if err := c.BodyParser(&req); err != nil {
			return responseError(c, fiber.StatusBadRequest, "Invalid request body")
		}
		if req.To == "" || req.MessageID == "" || req.Emoji == "" {
			return responseError(c, fiber.StatusBadRequest, "Fields 'to', 'message_id' and 'emoji' are required")
		}

		ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
		defer cancel()

		if err := ch.Client().SendReaction(ctx, req.To, req.MessageID, req.Emoji); err != nil {
			return responseError(c, sendStatus(err), err.Error())
		}
		return responseSuccess(c, "Reaction sent", nil)
	})
}
