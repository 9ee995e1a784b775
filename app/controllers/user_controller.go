package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumenshot/lumenshot/app/models"
	"github.com/lumenshot/lumenshot/internal/pkg/database"
	"github.com/lumenshot/lumenshot/internal/pkg/usercontext"
)

// HandleUserMe returns the caller's profile and API key metadata.
func HandleUserMe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	db := database.GetDB()
	var user models.User
	if err := db.First(&user, userCtx.UserID).Error; err != nil {
		return jsonError(c, err)
	}
	settings, err := models.GetOrCreateUserSettings(db, user.ID)
	if err != nil {
		return jsonError(c, err)
	}

	return c.JSON(fiber.Map{
		"user": user,
		"api_key": fiber.Map{
			"active":       settings.HasActiveAPIKey(),
			"prefix":       settings.APIKeyPrefix,
			"created_at":   settings.APIKeyCreatedAt,
			"last_used_at": settings.APIKeyLastUsedAt,
		},
	})
}

// HandleAPIKeyIssue creates a fresh API key for the caller. The raw secret is
// returned exactly once; only its hash is stored.
func HandleAPIKeyIssue(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	db := database.GetDB()
	settings, err := models.GetOrCreateUserSettings(db, userCtx.UserID)
	if err != nil {
		return jsonError(c, err)
	}

	rawKey, err := settings.IssueAPIKey()
	if err != nil {
		return jsonError(c, err)
	}
	if err := db.Save(settings).Error; err != nil {
		return jsonError(c, err)
	}

	return c.JSON(fiber.Map{
		"api_key": rawKey,
		"prefix":  settings.APIKeyPrefix,
		"message": "store this key now, it will not be shown again",
	})
}

// HandleAPIKeyRevoke invalidates the caller's API key.
func HandleAPIKeyRevoke(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	db := database.GetDB()
	settings, err := models.GetOrCreateUserSettings(db, userCtx.UserID)
	if err != nil {
		return jsonError(c, err)
	}

	settings.RevokeAPIKey()
	if err := db.Save(settings).Error; err != nil {
		return jsonError(c, err)
	}

	return c.JSON(fiber.Map{"ok": true})
}
