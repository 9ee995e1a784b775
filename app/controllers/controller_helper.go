package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/lumenshot/lumenshot/internal/pkg/billing"
)

// Session keys shared between controllers and middleware.
const (
	AUTH_KEY       string = "authenticated"
	USER_ID        string = "user_id"
	USER_NAME      string = "username"
	USER_EMAIL     string = "user_email"
	USER_IS_ADMIN  string = "isAdmin"
	FROM_PROTECTED string = "from_protected"
)

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// jsonError maps a billing error to its API response. Validation errors are the
// caller's fault, conflicts carry an actionable reason, everything else is a
// generic retryable failure without internal detail.
func jsonError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	case errors.Is(err, billing.ErrUnknownPlan):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_plan"})
	case errors.Is(err, billing.ErrInvalidPeriod):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_period"})
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subscription_not_found"})
	case errors.Is(err, billing.ErrUserNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user_not_found"})
	case errors.Is(err, billing.ErrInsufficientCredits):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "insufficient_credits"})
	case errors.Is(err, billing.ErrInsufficientQuota):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "insufficient_quota"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "try again"})
	}
}
