package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumenshot/lumenshot/internal/pkg/billing"
	"github.com/lumenshot/lumenshot/internal/pkg/database"
	"github.com/lumenshot/lumenshot/internal/pkg/env"
	"github.com/lumenshot/lumenshot/internal/pkg/metrics"
)

const webhookTimeout = 15 * time.Second

// HandlePaymentWebhook receives payment gateway deliveries. The gateway
// retries non-2xx responses, so outcomes that a retry cannot fix (duplicates,
// unknown event types, unlinked subscriptions) all answer 200.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Gateway-Signature"))
	secret := env.GetEnv("GATEWAY_WEBHOOK_SECRET", "")

	db := database.GetDB()
	engine := billing.NewEngineFromDB(db, billing.WithCancelPolicy(cancelPolicyFromEnv()))
	handler := billing.NewWebhookHandler(engine, billing.NewRepository(db), secret)

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	outcome, err := handler.Handle(ctx, rawBody, signature)
	if err != nil {
		eventType := "unparsed"
		if outcome != nil && outcome.Event != nil {
			eventType = outcome.Event.EventType()
		}
		switch {
		case billing.IsValidationError(err):
			metrics.WebhookEvents.WithLabelValues(eventType, metrics.OutcomeInvalidSignature).Inc()
		case billing.IsConflictError(err):
			// A renewal or cancel for a subscription we never saw; retrying
			// will not create it.
			metrics.WebhookEvents.WithLabelValues(eventType, metrics.OutcomeIgnored).Inc()
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
		default:
			metrics.WebhookEvents.WithLabelValues(eventType, metrics.OutcomeError).Inc()
		}
		return jsonError(c, err)
	}

	switch {
	case outcome.Ignored:
		metrics.WebhookEvents.WithLabelValues(outcome.Event.EventType(), metrics.OutcomeIgnored).Inc()
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	case outcome.Duplicate:
		metrics.WebhookEvents.WithLabelValues(outcome.Event.EventType(), metrics.OutcomeDuplicate).Inc()
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	metrics.WebhookEvents.WithLabelValues(outcome.Event.EventType(), metrics.OutcomeOK).Inc()
	if outcome.Result != nil {
		metrics.Reconciliations.WithLabelValues(string(outcome.Result.Kind)).Inc()
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "kind": outcome.Result.Kind})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func cancelPolicyFromEnv() billing.CancelPolicy {
	if env.GetEnv("CANCEL_POLICY", "immediate") == string(billing.CancelPolicyPeriodEnd) {
		return billing.CancelPolicyPeriodEnd
	}
	return billing.CancelPolicyImmediate
}
