package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRateCounter struct {
	counts  map[string]int64
	expires map[string]time.Duration
	incrErr error
}

func (f *fakeRateCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.incrErr != nil {
		return redis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeRateCounter) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.expires[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestIncrWithTTL(t *testing.T) {
	counter := &fakeRateCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}

	for want := int64(1); want <= 3; want++ {
		count, err := incrWithTTL(context.Background(), counter, "rate:login:k", time.Hour)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if count != want {
			t.Fatalf("got count %d, want %d", count, want)
		}
	}

	// 只有首次自增设置过期时间。
	if ttl := counter.expires["rate:login:k"]; ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", ttl)
	}
}

func TestIncrWithTTLPropagatesError(t *testing.T) {
	counter := &fakeRateCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}, incrErr: errors.New("down")}
	if _, err := incrWithTTL(context.Background(), counter, "k", time.Hour); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoginKeys(t *testing.T) {
	if got := loginLockKey("0812ABC"); got != "lock:login:0812abc" {
		t.Fatalf("unexpected lock key %q", got)
	}
	if got := loginFailKey("0812ABC"); got != "lock:login:fail:0812abc" {
		t.Fatalf("unexpected fail key %q", got)
	}

	at := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)
	if got := loginRateKey("10.0.0.1", "0812ABC", at); got != "rate:login:10.0.0.1:0812abc:2026090114" {
		t.Fatalf("unexpected rate key %q", got)
	}
}
