package rate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Rule is the (limit, window) pair one endpoint class is throttled with.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

func (r Rule) Key(clientID string) string {
	return r.Name + ":" + clientID
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts hits per key in fixed windows. Implementations must make the
// increment atomic per key.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule, now time.Time) (Decision, error)
}

type LimitError struct {
	Rule       string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s, retry after %s", ErrRateLimited, e.Rule, e.RetryAfter)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds up so clients never retry early.
func (e *LimitError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Check returns a *LimitError when the key is over its rule.
func Check(ctx context.Context, l Limiter, rule Rule, clientID string, now time.Time) error {
	d, err := l.Allow(ctx, rule.Key(clientID), rule, now)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &LimitError{Rule: rule.Name, RetryAfter: d.RetryAfter}
	}
	return nil
}

func validRule(rule Rule) error {
	if rule.Limit <= 0 {
		return fmt.Errorf("rate rule %q: limit must be positive", rule.Name)
	}
	if rule.Window < time.Millisecond {
		return fmt.Errorf("rate rule %q: invalid window %s", rule.Name, rule.Window)
	}
	return nil
}
