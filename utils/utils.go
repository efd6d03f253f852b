package utils

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pointer returns a pointer to the given value
func Pointer[T any](v T) *T {
	return &v
}

// DayKey formats a time as the calendar-date key used by the quota ledger
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// GenerateRateLimitKey creates a unique key for rate limiting
func GenerateRateLimitKey(campaignID, path string) string {
	return fmt.Sprintf("rl:%s:%s", campaignID, path)
}

// ErrorResponse creates a standardized error response
func ErrorResponse(c *fiber.Ctx, status int, message string, err error) error {
	response := fiber.Map{
		"success": false,
		"error":   message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	return c.Status(status).JSON(response)
}

// SuccessResponse creates a standardized success response
func SuccessResponse(data interface{}) fiber.Map {
	return fiber.Map{
		"success": true,
		"data":    data,
	}
}
