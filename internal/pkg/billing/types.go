package billing

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// BillingProvider is the single external recurring-billing provider.
const BillingProvider = "stripe"

// Lifecycle event types consumed from the provider.
const (
	EventSubscriptionCreated      = "subscription.created"
	EventSubscriptionUpdated      = "subscription.updated"
	EventSubscriptionCanceled     = "subscription.canceled"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventCheckoutSessionCompleted = "checkout.session.completed"
)

// BillingReasonRenewal marks an invoice raised by the provider's recurring
// cycle, as opposed to the initial subscription invoice.
const BillingReasonRenewal = "subscription_cycle"

var ErrMalformedEvent = errors.New("malformed webhook event")

// Event is the normalized, provider-agnostic shape of one webhook delivery.
// Signature verification happens before parsing; the reconciler consumes
// only this struct.
type Event struct {
	ID             string
	Type           string
	Timestamp      time.Time
	AccountID      string
	CustomerID     string
	SubscriptionID string
	InvoiceID      string
	PriceID        string
	AmountCents    int64
	Credits        int64
	BillingReason  string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	Raw            string
}

// RenewalDedupKey keys renewal grants on the invoice id rather than the
// event id, so out-of-order redelivery of distinct events for the same
// invoice still credits exactly once.
func (e Event) RenewalDedupKey() string {
	return "invoice:" + e.InvoiceID
}

type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		AccountID      string `json:"account_id"`
		CustomerID     string `json:"customer_id"`
		SubscriptionID string `json:"subscription_id"`
		InvoiceID      string `json:"invoice_id"`
		PriceID        string `json:"price_id"`
		AmountCents    int64  `json:"amount_cents"`
		Credits        int64  `json:"credits"`
		BillingReason  string `json:"billing_reason"`
		PeriodStart    int64  `json:"period_start"`
		PeriodEnd      int64  `json:"period_end"`
	} `json:"data"`
}

// ParseEvent decodes a provider payload into the tagged Event union. The
// event type is the discriminant; handlers are dispatched from an explicit
// table keyed on it, never by sniffing payload fields.
func ParseEvent(payload []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, errors.Join(ErrMalformedEvent, err)
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.Type) == "" {
		return Event{}, ErrMalformedEvent
	}

	evt := Event{
		ID:             env.ID,
		Type:           env.Type,
		AccountID:      strings.TrimSpace(env.Data.AccountID),
		CustomerID:     strings.TrimSpace(env.Data.CustomerID),
		SubscriptionID: strings.TrimSpace(env.Data.SubscriptionID),
		InvoiceID:      strings.TrimSpace(env.Data.InvoiceID),
		PriceID:        strings.TrimSpace(env.Data.PriceID),
		AmountCents:    env.Data.AmountCents,
		Credits:        env.Data.Credits,
		BillingReason:  env.Data.BillingReason,
		Raw:            string(payload),
	}
	if env.Created > 0 {
		evt.Timestamp = time.Unix(env.Created, 0).UTC()
	} else {
		evt.Timestamp = time.Now().UTC()
	}
	if env.Data.PeriodStart > 0 {
		t := time.Unix(env.Data.PeriodStart, 0).UTC()
		evt.PeriodStart = &t
	}
	if env.Data.PeriodEnd > 0 {
		t := time.Unix(env.Data.PeriodEnd, 0).UTC()
		evt.PeriodEnd = &t
	}
	return evt, nil
}
