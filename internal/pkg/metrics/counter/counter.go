package counter

import (
	"context"
	"strconv"
	"time"

	"github.com/claripix/claripix/internal/pkg/cache"
)

// Per-day operation usage counters buffered in Redis. They are advisory
// metering only; the billable record is the credit ledger.
const (
	opUsageKeyPrefix = "ops:counters:usage:"
	opUsageTTL       = 45 * 24 * time.Hour
)

func dayKey(day time.Time) string {
	return opUsageKeyPrefix + day.UTC().Format("2006-01-02")
}

// AddOperationUse increments today's counter for one operation.
func AddOperationUse(operation string) error {
	ctx := context.Background()
	key := dayKey(time.Now())

	rdb := cache.GetClient()
	pipe := rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, operation, 1)
	pipe.Expire(ctx, key, opUsageTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetOperationUsage returns the per-operation counts for one day.
func GetOperationUsage(day time.Time) (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, dayKey(day)).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(data))
	for op, raw := range data {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			continue
		}
		out[op] = n
	}
	return out, nil
}
