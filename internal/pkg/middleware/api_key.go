package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/claripix/claripix/app/models"
	"github.com/claripix/claripix/app/repository"
	"github.com/claripix/claripix/internal/pkg/accountcontext"
	"github.com/claripix/claripix/internal/pkg/database"
	"github.com/claripix/claripix/internal/pkg/security"
)

// APIKeyAuthMiddleware authenticates requests carrying an account API key header.
func APIKeyAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}
		if err := security.ValidateAPIKeyFormat(apiKey); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		if database.GetDB() == nil {
			log.Error("api key middleware: database unavailable")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
		}

		hash := models.HashAPIKey(apiKey)
		repo := repository.GetGlobalFactory().GetAccountRepository()
		account, err := repo.GetByAPIKeyHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Errorf("api key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		planID := account.PlanID
		if planID == "" {
			planID = models.PlanFree
		}

		ctx := accountcontext.AccountContext{
			AccountID: account.AccountID,
			Email:     account.Email,
			PlanID:    planID,
			IsAdmin:   account.IsAdmin,
		}
		c.Locals(accountcontext.ContextKey, ctx)
		c.Locals(accountcontext.KeyAccountID, account.AccountID)
		c.Locals(accountcontext.KeyIsAdmin, account.IsAdmin)

		return c.Next()
	}
}

// RequireAdminMiddleware rejects requests from non-admin accounts. It must
// run after APIKeyAuthMiddleware.
func RequireAdminMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !accountcontext.IsAdmin(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin access required"})
		}
		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
