package accountcontext

import "github.com/gofiber/fiber/v2"

// Shared Locals keys used across controllers and middlewares
const (
	ContextKey   = "ACCOUNT_CONTEXT"
	KeyAccountID = "account_id"
	KeyIsAdmin   = "isAdmin"
)

// AccountContext represents the authenticated account for a request
type AccountContext struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	PlanID    string `json:"plan_id"`
	IsAdmin   bool   `json:"is_admin"`
}

// Get retrieves the account context from fiber context.
// Returns a zero context if none is set.
func Get(c *fiber.Ctx) AccountContext {
	if ctx := c.Locals(ContextKey); ctx != nil {
		return ctx.(AccountContext)
	}
	return AccountContext{}
}

// IsAuthenticated checks whether an account is bound to the request
func IsAuthenticated(c *fiber.Ctx) bool {
	return Get(c).AccountID != ""
}

// IsAdmin checks if the current account is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return Get(c).IsAdmin
}

// GetAccountID returns the current account id, or empty if unauthenticated
func GetAccountID(c *fiber.Ctx) string {
	return Get(c).AccountID
}
