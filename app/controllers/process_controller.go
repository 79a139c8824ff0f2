package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/claripix/claripix/internal/pkg/accountcontext"
	"github.com/claripix/claripix/internal/pkg/ledger"
	"github.com/claripix/claripix/internal/pkg/metrics/counter"
	"github.com/claripix/claripix/internal/pkg/processing"
)

type processRequest struct {
	SourceURL string `json:"source_url"`
	Prompt    string `json:"prompt"`
}

// HandleProcessImage debits the operation's credit cost, dispatches the job
// to the processing backend and refunds the debit if the backend fails.
// The debit happens first: a crashed request may leave a debit that the
// refund path restores on retry, but the balance never goes negative.
func HandleProcessImage(c *fiber.Ctx) error {
	accountID := accountcontext.GetAccountID(c)
	operation := strings.TrimSpace(c.Params("operation"))

	cost, err := processing.OperationCost(operation)
	if err != nil {
		return errorJSON(c, fiber.StatusNotFound, "not_found", "Unknown operation")
	}

	var req processRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.SourceURL) == "" {
		if operation != processing.OpAIGeneration {
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", "source_url is required")
		}
	}
	if operation == processing.OpAIGeneration && strings.TrimSpace(req.Prompt) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "prompt is required for ai-generation")
	}

	reservation, err := deps.Gate.ReserveAndDebit(c.UserContext(), accountID, operation, cost)
	if err != nil {
		var insufficient *ledger.InsufficientCreditsError
		switch {
		case errors.As(err, &insufficient):
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":     "insufficient_credits",
				"message":   "Not enough credits for this operation",
				"requested": insufficient.Requested,
				"available": insufficient.Available,
			})
		case errors.Is(err, ledger.ErrAccountFrozen):
			return errorJSON(c, fiber.StatusForbidden, "account_frozen", "Account is frozen pending review")
		case errors.Is(err, ledger.ErrAccountNotFound):
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
		default:
			log.Errorf("debit for %s failed: %v", operation, err)
			return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Debit failed")
		}
	}

	result, err := deps.Processing.Process(c.UserContext(), operation, req.SourceURL, req.Prompt)
	if err != nil {
		log.Errorf("processing %s for %s failed, refunding: %v", operation, accountID, err)
		if _, refundErr := deps.Gate.Refund(c.UserContext(), reservation); refundErr != nil {
			log.Errorf("refund for %s failed: %v", reservation.Token, refundErr)
		}
		return errorJSON(c, fiber.StatusBadGateway, "processing_failed", "Image processing failed, credits were refunded")
	}

	if err := counter.AddOperationUse(operation); err != nil {
		log.Warnf("usage counter for %s: %v", operation, err)
	}

	return c.JSON(fiber.Map{
		"operation":      operation,
		"credits_spent":  reservation.Amount,
		"result":         result,
		"reservation_id": reservation.Token,
	})
}

// HandleListOperations returns the operation catalog with credit costs.
func HandleListOperations(c *fiber.Ctx) error {
	out := make([]fiber.Map, 0, 4)
	for _, op := range processing.Operations() {
		cost, _ := processing.OperationCost(op)
		out = append(out, fiber.Map{"operation": op, "cost": cost})
	}
	return c.JSON(fiber.Map{"operations": out})
}
