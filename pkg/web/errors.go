package web

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/capture"
	"github.com/teslashibe/go-medibot/pkg/feed"
	"github.com/teslashibe/go-medibot/pkg/feederr"
	"github.com/teslashibe/go-medibot/pkg/reminder"
)

// errUnavailable is returned by routes whose component is not wired.
var errUnavailable = fiber.NewError(fiber.StatusServiceUnavailable, "component not configured")

// apiError is the JSON body of every failed request.
type apiError struct {
	Error string       `json:"error"`
	Code  feederr.Code `json:"code,omitempty"`
	Hints []string     `json:"hints,omitempty"`
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}

	switch {
	case errors.Is(err, feed.ErrUnknownSource), errors.Is(err, reminder.ErrInvalid),
		errors.Is(err, camera.ErrUnknownPreset), errors.Is(err, camera.ErrInvalidConfig):
		return fiber.StatusBadRequest
	case errors.Is(err, reminder.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, feed.ErrNotSupported):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, capture.ErrSuperseded):
		return fiber.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	}

	switch feederr.CodeOf(err) {
	case feederr.CodeNotSecureContext, feederr.CodePermissionDenied:
		return fiber.StatusForbidden
	case feederr.CodeNoDevices, feederr.CodeDeviceNotFound:
		return fiber.StatusNotFound
	case feederr.CodeDeviceBusy, feederr.CodeNoOppositeCameraAvailable:
		return fiber.StatusConflict
	case feederr.CodeTimeout:
		return fiber.StatusGatewayTimeout
	case feederr.CodeRemoteConnectionFailed, feederr.CodeCorsOrNetworkFailure, feederr.CodePlaybackFailed:
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// handleError is the fiber ErrorHandler.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := apiError{Error: err.Error()}
	if fe, ok := feederr.As(err); ok {
		body.Error = feederr.Message(fe.Code)
		body.Code = fe.Code
		body.Hints = fe.Hints()
	}
	if status >= fiber.StatusInternalServerError {
		s.logger.Warn("request failed", "method", c.Method(), "path", c.Path(), "status", status, "error", err)
	}
	return c.Status(status).JSON(body)
}
