package proration

import (
	"fmt"
	"math"
	"time"

	"github.com/claripix/claripix/internal/pkg/plans"
)

// Preview is the advisory result of a mid-cycle plan change quote. Nothing
// here mutates the ledger; the actual mutation only happens after the billing
// provider confirms the change, so a preview can be recomputed or discarded
// on abandonment.
type Preview struct {
	ImmediateChargeCents int64     `json:"immediate_charge_cents"`
	CreditAppliedCents   int64     `json:"credit_applied_cents"`
	NextInvoiceTotal     int64     `json:"next_invoice_total_cents"`
	CreditDelta          int64     `json:"credit_delta"`
	ProrationDate        time.Time `json:"proration_date"`
	DaysRemaining        int       `json:"days_remaining"`
	IsUpgrade            bool      `json:"is_upgrade"`
	Description          string    `json:"description"`
}

// PreviewChange quotes the immediate charge, next-invoice credit and prorated
// credit-grant delta for moving from current to target mid-cycle.
//
// Money stays in integer cents; only the day fraction is floating point.
// Both cent values and credit deltas are floored toward zero, so a user is
// never charged a partial cent or granted more credit than strictly earned.
// A zero-length cycle (same-day change) is treated as a full period rather
// than dividing by zero, and negative remaining time from clock skew is
// clamped to zero.
func PreviewChange(current, target plans.Plan, periodStart, periodEnd, now time.Time) Preview {
	fraction := remainingFraction(periodStart, periodEnd, now)

	unusedValue := floorCents(float64(current.MonthlyPriceCents) * fraction)
	newPeriodValue := floorCents(float64(target.MonthlyPriceCents) * fraction)

	isUpgrade := target.MonthlyPriceCents > current.MonthlyPriceCents
	if target.MonthlyPriceCents == current.MonthlyPriceCents {
		// Lateral move: direction is decided purely by the credit allotment.
		isUpgrade = target.CreditsPerCycle >= current.CreditsPerCycle
	}

	creditDelta := flooredDelta(current.CreditsPerCycle, target.CreditsPerCycle, fraction)

	p := Preview{
		NextInvoiceTotal: target.MonthlyPriceCents,
		CreditDelta:      creditDelta,
		ProrationDate:    now,
		DaysRemaining:    int(remainingDays(periodEnd, now)),
		IsUpgrade:        isUpgrade,
	}

	if isUpgrade {
		charge := newPeriodValue - unusedValue
		if charge < 0 {
			charge = 0
		}
		p.ImmediateChargeCents = charge
		p.Description = fmt.Sprintf("Upgrade charge for %d days remaining in billing cycle", p.DaysRemaining)
		return p
	}

	credit := unusedValue - newPeriodValue
	if credit < 0 {
		credit = 0
	}
	p.CreditAppliedCents = credit
	p.Description = fmt.Sprintf("Credit of $%d.%02d will be applied to your next invoice", credit/100, credit%100)
	return p
}

func remainingFraction(periodStart, periodEnd, now time.Time) float64 {
	cycle := periodEnd.Sub(periodStart)
	if cycle <= 0 {
		// Same-day plan change: treat as a full period.
		return 1
	}
	remaining := periodEnd.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > cycle {
		remaining = cycle
	}
	return float64(remaining) / float64(cycle)
}

func remainingDays(periodEnd, now time.Time) float64 {
	remaining := periodEnd.Sub(now)
	if remaining < 0 {
		return 0
	}
	return math.Floor(remaining.Hours() / 24)
}

// floorCents truncates fractional cents; the prorated values fed into a
// charge or invoice credit never round up.
func floorCents(v float64) int64 {
	return int64(math.Floor(v))
}

// flooredDelta prorates the credit allotment difference, always rounding
// toward zero grants: positive deltas floor, negative deltas are floored in
// magnitude so downgrades never claw back more than earned.
func flooredDelta(currentCredits, targetCredits int64, fraction float64) int64 {
	delta := float64(targetCredits-currentCredits) * fraction
	if delta >= 0 {
		return int64(math.Floor(delta))
	}
	return -int64(math.Floor(-delta))
}
