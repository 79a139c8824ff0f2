package opsqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key for the operator alert list.
	AlertsKey = "ops:alerts"

	maxQueued = 1000
)

// Alert is one operator-facing incident: a webhook handler failure, an
// unmatched plan change, or a ledger audit violation. Alerts are surfaced
// for manual review, never retried automatically.
type Alert struct {
	Kind      string    `json:"kind"`
	AccountID string    `json:"account_id,omitempty"`
	Message   string    `json:"message"`
	Payload   string    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Alert kinds.
const (
	KindWebhookFailure   = "webhook_failure"
	KindUnmatchedPreview = "unmatched_preview"
	KindLedgerViolation  = "ledger_violation"
	KindDataIntegrity    = "data_integrity"
)

// Queue pushes alerts onto a capped Redis list for the admin surface to
// drain.
type Queue struct {
	client *redis.Client
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Push enqueues an alert. Failures are logged and swallowed: alerting must
// never fail the operation that raised it.
func (q *Queue) Push(ctx context.Context, a Alert) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	data, err := json.Marshal(a)
	if err != nil {
		log.Errorf("opsqueue: marshal alert: %v", err)
		return
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, AlertsKey, data)
	pipe.LTrim(ctx, AlertsKey, 0, maxQueued-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("opsqueue: push alert: %v", err)
	}
}

// List returns the newest alerts, most recent first.
func (q *Queue) List(ctx context.Context, limit int64) ([]Alert, error) {
	if limit <= 0 || limit > maxQueued {
		limit = 100
	}
	raw, err := q.client.LRange(ctx, AlertsKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	alerts := make([]Alert, 0, len(raw))
	for _, item := range raw {
		var a Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			log.Warnf("opsqueue: skipping malformed alert: %v", err)
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
