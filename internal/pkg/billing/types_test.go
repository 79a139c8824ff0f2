package billing

import (
	"errors"
	"testing"
	"time"
)

func TestParseEvent(t *testing.T) {
	payload := []byte(`{
		"id": "evt_123",
		"type": "invoice.payment_succeeded",
		"created": 1748779200,
		"data": {
			"account_id": "acct_42",
			"customer_id": "cus_9",
			"subscription_id": "sub_7",
			"invoice_id": "in_55",
			"price_id": "price_starter",
			"amount_cents": 2499,
			"billing_reason": "subscription_cycle",
			"period_start": 1748779200,
			"period_end": 1751371200
		}
	}`)

	evt, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.ID != "evt_123" || evt.Type != EventInvoicePaymentSucceeded {
		t.Fatalf("unexpected id/type: %q %q", evt.ID, evt.Type)
	}
	if evt.AccountID != "acct_42" || evt.SubscriptionID != "sub_7" || evt.InvoiceID != "in_55" {
		t.Fatalf("unexpected identifiers: %+v", evt)
	}
	if evt.AmountCents != 2499 {
		t.Fatalf("amount = %d, want 2499", evt.AmountCents)
	}
	if evt.BillingReason != BillingReasonRenewal {
		t.Fatalf("billing reason = %q", evt.BillingReason)
	}
	if !evt.Timestamp.Equal(time.Unix(1748779200, 0).UTC()) {
		t.Fatalf("timestamp = %v", evt.Timestamp)
	}
	if evt.PeriodStart == nil || evt.PeriodEnd == nil {
		t.Fatalf("expected period bounds to be set")
	}
	if evt.RenewalDedupKey() != "invoice:in_55" {
		t.Fatalf("dedup key = %q", evt.RenewalDedupKey())
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	for _, payload := range []string{
		"not json",
		"{}",
		`{"id":"evt_1"}`,
		`{"type":"subscription.created"}`,
	} {
		if _, err := ParseEvent([]byte(payload)); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("payload %q: err = %v, want ErrMalformedEvent", payload, err)
		}
	}
}

func TestParseEvent_MissingTimestampDefaultsToNow(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"id":"evt_1","type":"subscription.created","data":{}}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if time.Since(evt.Timestamp) > time.Minute {
		t.Fatalf("expected near-now fallback timestamp, got %v", evt.Timestamp)
	}
}
