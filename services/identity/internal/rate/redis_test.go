package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLimiterWindow(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	lim := NewRedisLimiter(client, "test:")
	rule := Rule{Name: ClassForgotPassword, Limit: 3, Window: time.Hour}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := lim.Allow(ctx, rule.Key("ip"), rule, time.Now())
		if err != nil || !d.Allowed {
			t.Fatalf("expected allow on call %d: %v", i+1, err)
		}
	}

	d, err := lim.Allow(ctx, rule.Key("ip"), rule, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected rate limited")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Hour {
		t.Fatalf("expected positive retry after within window, got %s", d.RetryAfter)
	}
	if !s.Exists("test:forgot_password:ip") {
		t.Fatalf("expected prefixed key in redis")
	}

	s.FastForward(61 * time.Minute)
	d, err = lim.Allow(ctx, rule.Key("ip"), rule, time.Now())
	if err != nil || !d.Allowed {
		t.Fatalf("expected allow after window")
	}
}

func TestRedisLimiterSurfacesBackendErrors(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	lim := NewRedisLimiter(client, "")
	rule := Rule{Name: ClassLogin, Limit: 1, Window: time.Minute}
	if _, err := lim.Allow(context.Background(), rule.Key("ip"), rule, time.Now()); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}
