package controllers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/lumenshot/lumenshot/internal/pkg/database"
	"github.com/lumenshot/lumenshot/internal/pkg/metering"
	"github.com/lumenshot/lumenshot/internal/pkg/usercontext"
)

// Default deduction for one unit of paid work.
const (
	defaultConsumeCredits = 10
	defaultConsumeQuota   = 1

	consumeTimeout = 10 * time.Second
)

type consumeRequest struct {
	Credits int `json:"credits" validate:"gte=0,lte=100000"`
	Quota   int `json:"quota" validate:"gte=0,lte=1000"`
}

// HandleUsageBalance returns the caller's spendable balances.
func HandleUsageBalance(c *fiber.Ctx) error {
	email := usercontext.GetEmail(c)
	if email == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	meter := metering.NewMeterFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), consumeTimeout)
	defer cancel()

	bal, err := meter.GetBalance(ctx, email)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(bal)
}

// HandleUsageConsume deducts credits and quota for one unit of work. Without a
// body the default deduction applies.
func HandleUsageConsume(c *fiber.Ctx) error {
	email := usercontext.GetEmail(c)
	if email == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	req := consumeRequest{Credits: defaultConsumeCredits, Quota: defaultConsumeQuota}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		if err := validator.New().Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_amounts"})
		}
	}

	meter := metering.NewMeterFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), consumeTimeout)
	defer cancel()

	bal, err := meter.Consume(ctx, email, req.Credits, req.Quota)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(bal)
}
