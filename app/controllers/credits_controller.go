package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/claripix/claripix/internal/pkg/accountcontext"
	"github.com/claripix/claripix/internal/pkg/ledger"
)

// HandleGetBalance returns the current credit balance.
func HandleGetBalance(c *fiber.Ctx) error {
	accountID := accountcontext.GetAccountID(c)

	balance, err := deps.Ledger.GetBalance(c.UserContext(), accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
		log.Errorf("balance lookup failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Balance lookup failed")
	}
	return c.JSON(fiber.Map{"account_id": accountID, "balance": balance})
}

// HandleListTransactions pages through the account's ledger history in
// chronological order.
func HandleListTransactions(c *fiber.Ctx) error {
	accountID := accountcontext.GetAccountID(c)
	offset, limit := parsePagination(c)

	txns, err := deps.Ledger.ListTransactions(c.UserContext(), accountID, offset, limit)
	if err != nil {
		log.Errorf("transaction listing failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Transaction listing failed")
	}
	return c.JSON(fiber.Map{
		"account_id":   accountID,
		"offset":       offset,
		"limit":        limit,
		"transactions": txns,
	})
}

// HandleGetSummary returns lifetime granted/consumed totals with the
// current balance.
func HandleGetSummary(c *fiber.Ctx) error {
	accountID := accountcontext.GetAccountID(c)

	summary, err := deps.Ledger.SummarizeAccount(c.UserContext(), accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
		log.Errorf("summary failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Summary failed")
	}
	return c.JSON(summary)
}
