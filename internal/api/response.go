package api

import "github.com/gofiber/fiber/v2"

// Response statuses.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)

// Response is the envelope returned by every product route.
type Response struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Data    any          `json:"data"`
	Errors  []FieldError `json:"errors"`
}

// FieldError names one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func success(c *fiber.Ctx, code int, message string, data any) error {
	return c.Status(code).JSON(Response{Status: StatusSuccess, Message: message, Data: data})
}

func fail(c *fiber.Ctx, code int, message string, errs ...FieldError) error {
	return c.Status(code).JSON(Response{Status: StatusFail, Message: message, Errors: errs})
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(Response{
		Status:  StatusError,
		Message: "Internal server error",
	})
}
