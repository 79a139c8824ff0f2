package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/claripix/claripix/app/models"
	"github.com/claripix/claripix/internal/pkg/accounts"
	"github.com/claripix/claripix/internal/pkg/ledger"
	"github.com/claripix/claripix/internal/pkg/metrics/counter"
)

type createAccountRequest struct {
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// HandleCreateAccount provisions a fresh free-tier account with its signup
// credit grant. The response carries the plain API key; it is not shown
// again.
func HandleCreateAccount(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid JSON body")
	}

	account, apiKey, err := deps.Accounts.Provision(c.UserContext(), accounts.ProvisionInput{
		Email:   req.Email,
		IsAdmin: req.IsAdmin,
	})
	if err != nil {
		if errors.Is(err, accounts.ErrEmailTaken) {
			return errorJSON(c, fiber.StatusConflict, "conflict", "Email already registered")
		}
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid account data: "+verr.Error())
		}
		log.Errorf("account provisioning failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Account creation failed")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"account": account, "api_key": apiKey})
}

// HandleListAccounts pages over accounts for the operator view.
func HandleListAccounts(c *fiber.Ctx) error {
	offset, limit := parsePagination(c)

	list, total, err := deps.Accounts.List(offset, limit)
	if err != nil {
		log.Errorf("account listing failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Account listing failed")
	}
	return c.JSON(fiber.Map{"accounts": list, "total": total, "offset": offset, "limit": limit})
}

// HandleRotateAPIKey invalidates an account's key and issues a new one.
func HandleRotateAPIKey(c *fiber.Ctx) error {
	accountID := strings.TrimSpace(c.Params("account_id"))
	if accountID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "account_id is required")
	}

	apiKey, err := deps.Accounts.RotateAPIKey(accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
		log.Errorf("api key rotation failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Key rotation failed")
	}
	return c.JSON(fiber.Map{"account_id": accountID, "api_key": apiKey})
}

type manualAdjustmentRequest struct {
	AccountID      string  `json:"account_id"`
	Amount         int64   `json:"amount"`
	Reason         string  `json:"reason"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

// HandleManualAdjustment applies an operator credit correction. Unlike user
// debits it may take the balance negative; that is the point of a manual
// correction after support review.
func HandleManualAdjustment(c *fiber.Ctx) error {
	var req manualAdjustmentRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid JSON body")
	}
	if strings.TrimSpace(req.AccountID) == "" || strings.TrimSpace(req.Reason) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "account_id and reason are required")
	}
	if req.Amount == 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "amount must be non-zero")
	}

	var key *string
	if req.IdempotencyKey != nil && strings.TrimSpace(*req.IdempotencyKey) != "" {
		k := "manual:" + strings.TrimSpace(*req.IdempotencyKey)
		key = &k
	}

	txn, applied, err := deps.Ledger.Apply(c.UserContext(), ledger.ApplyInput{
		AccountID:     req.AccountID,
		Amount:        req.Amount,
		Type:          models.TxnManualAdjustment,
		Description:   req.Reason,
		SourceEventID: key,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
		log.Errorf("manual adjustment failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Adjustment failed")
	}

	status := fiber.StatusCreated
	if !applied {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"applied": applied, "transaction": txn})
}

// HandleListAlerts returns the most recent operator alerts.
func HandleListAlerts(c *fiber.Ctx) error {
	_, limit := parsePagination(c)

	alerts, err := deps.Ops.List(c.UserContext(), int64(limit))
	if err != nil {
		log.Errorf("alert listing failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Alert listing failed")
	}
	return c.JSON(fiber.Map{"alerts": alerts})
}

// HandleVerifyAccount runs the balance reconciliation check for one account
// on demand. A mismatch freezes the account, same as the nightly sweep.
func HandleVerifyAccount(c *fiber.Ctx) error {
	accountID := strings.TrimSpace(c.Params("account_id"))
	if accountID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "account_id is required")
	}

	err := deps.Ledger.VerifyAccount(c.UserContext(), accountID)
	if err == nil {
		return c.JSON(fiber.Map{"account_id": accountID, "consistent": true})
	}

	var violation *ledger.InvariantViolationError
	if errors.As(err, &violation) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"account_id": accountID,
			"consistent": false,
			"balance":    violation.Balance,
			"ledger_sum": violation.Sum,
			"message":    "Account frozen pending review",
		})
	}
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
	}
	log.Errorf("verify account failed: %v", err)
	return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Verification failed")
}

// HandleOperationUsage returns the buffered per-operation usage counters
// for one day (default today). Advisory metering; the ledger is the billable
// record.
func HandleOperationUsage(c *fiber.Ctx) error {
	day := time.Now()
	if raw := strings.TrimSpace(c.Query("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", "date must be YYYY-MM-DD")
		}
		day = parsed
	}

	usage, err := counter.GetOperationUsage(day)
	if err != nil {
		log.Errorf("usage lookup failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Usage lookup failed")
	}
	return c.JSON(fiber.Map{"date": day.UTC().Format("2006-01-02"), "usage": usage})
}

// HandleUnfreezeAccount lifts a freeze after manual review.
func HandleUnfreezeAccount(c *fiber.Ctx) error {
	accountID := strings.TrimSpace(c.Params("account_id"))
	if accountID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "account_id is required")
	}

	if err := deps.Ledger.UnfreezeAccount(c.UserContext(), accountID); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
		log.Errorf("unfreeze failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Unfreeze failed")
	}
	return c.JSON(fiber.Map{"account_id": accountID, "frozen": false})
}
