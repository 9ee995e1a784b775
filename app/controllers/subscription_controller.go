package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/lumenshot/lumenshot/app/models"
	"github.com/lumenshot/lumenshot/app/repository"
	"github.com/lumenshot/lumenshot/internal/pkg/billing"
	"github.com/lumenshot/lumenshot/internal/pkg/database"
	"github.com/lumenshot/lumenshot/internal/pkg/metrics"
	"github.com/lumenshot/lumenshot/internal/pkg/usercontext"
)

// HandlePlans lists the plan catalog.
func HandlePlans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"plans": billing.AllPlans()})
}

// HandleSubscriptionStatus returns the caller's aggregate entitlement state
// plus the currently active subscription rows.
func HandleSubscriptionStatus(c *fiber.Ctx) error {
	email := usercontext.GetEmail(c)
	if email == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	repo := repository.GetGlobalFactory()
	user, err := repo.GetUserRepository().GetByEmail(email)
	if err != nil {
		return jsonError(c, err)
	}
	active, err := repo.GetSubscriptionRepository().ActiveByEmail(email, time.Now())
	if err != nil {
		return jsonError(c, err)
	}

	return c.JSON(fiber.Map{
		"email":   user.Email,
		"tier":    user.PlanTier,
		"level":   user.PlanLevel,
		"credits": user.Credits,
		"quota":   user.Quota,
		"status":  user.SubscriptionStatus,
		"expiry":  user.SubscriptionExpiry,
		"active":  active,
	})
}

// HandleSubscriptionHistory returns the caller's subscription rows and ledger
// entries, newest first.
func HandleSubscriptionHistory(c *fiber.Ctx) error {
	email := usercontext.GetEmail(c)
	if email == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	repo := repository.GetGlobalFactory()
	subs, err := repo.GetSubscriptionRepository().GetByEmail(email, offset, limit)
	if err != nil {
		return jsonError(c, err)
	}
	txns, err := repo.GetLedgerRepository().GetByEmail(email, offset, limit)
	if err != nil {
		return jsonError(c, err)
	}

	return c.JSON(fiber.Map{
		"subscriptions": subs,
		"transactions":  txns,
	})
}

// HandleSubscriptionCancel cancels one of the caller's subscriptions by its
// gateway subscription id. Without an explicit id the highest active one is
// cancelled. The manual cancel is recorded in the ledger under a synthetic
// event id so the audit trail stays complete.
func HandleSubscriptionCancel(c *fiber.Ctx) error {
	email := usercontext.GetEmail(c)
	if email == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body struct {
		GatewaySubscriptionID string `json:"gateway_subscription_id"`
	}
	_ = c.BodyParser(&body)

	db := database.GetDB()
	repo := billing.NewRepository(db)

	subID := strings.TrimSpace(body.GatewaySubscriptionID)
	if subID == "" {
		active, err := repo.ActiveSubscriptions(email, time.Now())
		if err != nil {
			return jsonError(c, err)
		}
		if len(active) == 0 {
			return jsonError(c, billing.ErrSubscriptionNotFound)
		}
		subID = active[0].GatewaySubscriptionID
	}

	engine := billing.NewEngineFromDB(db, billing.WithCancelPolicy(cancelPolicyFromEnv()))
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	res, err := engine.ApplyCancellation(ctx, email, subID)
	if err != nil {
		return jsonError(c, err)
	}
	metrics.Reconciliations.WithLabelValues(string(res.Kind)).Inc()

	eventID := "manual_" + uuid.NewString()
	if err := repo.RecordProcessedTransaction(&models.ProcessedTransaction{
		Email:                 strings.ToLower(email),
		GatewayEventID:        eventID,
		EventType:             "manual-cancellation",
		GatewaySubscriptionID: subID,
		Currency:              "usd",
	}); err != nil {
		// The cancellation itself is committed; a missing audit row is logged
		// by the store layer and not surfaced to the user.
		return c.JSON(fiber.Map{"ok": true, "kind": res.Kind})
	}

	return c.JSON(fiber.Map{
		"ok":      true,
		"kind":    res.Kind,
		"credits": res.Credits,
		"quota":   res.Quota,
		"status":  res.Status,
	})
}
