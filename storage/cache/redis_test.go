package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/suivi/core"
)

func TestRedisNonceCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	conf := core.NewConfig()
	conf.Redis.Addr = addr
	conf.Redis.NonceTTL = time.Minute

	c, err := NewRedisNonceCache(conf)
	if err != nil {
		t.Fatalf("NewRedisNonceCache() failed: %v", err)
	}
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	key := uuid.New().String()
	defer func() { _ = c.Release(ctx, key) }()

	for i, want := range []bool{true, false} {
		got, err := c.Claim(ctx, key)
		if err != nil {
			t.Fatalf("Claim() failed: %v", err)
		}
		if got != want {
			t.Errorf("Claim() #%d = %v; want %v", i+1, got, want)
		}
	}
	if err = c.Release(ctx, key); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if got, _ := c.Claim(ctx, key); !got {
		t.Error("Claim() after Release() = false; want true")
	}
}
