package counter

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/claripix/claripix/internal/pkg/cache"
)

func TestOperationCounters(t *testing.T) {
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	for i := 0; i < 3; i++ {
		if err := AddOperationUse("upscale"); err != nil {
			t.Fatalf("AddOperationUse: %v", err)
		}
	}
	if err := AddOperationUse("ai-generation"); err != nil {
		t.Fatalf("AddOperationUse: %v", err)
	}

	usage, err := GetOperationUsage(time.Now())
	if err != nil {
		t.Fatalf("GetOperationUsage: %v", err)
	}
	if usage["upscale"] != 3 {
		t.Fatalf("upscale count = %d, want 3", usage["upscale"])
	}
	if usage["ai-generation"] != 1 {
		t.Fatalf("ai-generation count = %d, want 1", usage["ai-generation"])
	}
}

func TestGetOperationUsage_EmptyDay(t *testing.T) {
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	usage, err := GetOperationUsage(time.Now().AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("GetOperationUsage: %v", err)
	}
	if len(usage) != 0 {
		t.Fatalf("expected empty usage, got %+v", usage)
	}
}
