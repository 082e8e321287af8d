package ratelimit

import (
	"context"
	"fmt"
	"time"

	appErr "arena-service/pkg/errors"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

type UsageType string

const (
	UsageGenerate UsageType = "GENERATE"
	UsageSolve    UsageType = "SOLVE"
)

// checkScript sums all usage fields, rejects when the daily limit is
// reached, and otherwise increments in the same script run. A negative
// limit bypasses the check (subscribers). The key expires at local
// midnight so the quota resets with the calendar day, not 24h after
// first use.
const checkScript = `local total = 0
local vals = redis.call('HVALS', KEYS[1])
for _, v in ipairs(vals) do
	total = total + tonumber(v)
end
local limit = tonumber(ARGV[1])
if limit >= 0 and total >= limit then
	return {0, total}
end
redis.call('HINCRBY', KEYS[1], ARGV[2], 1)
if redis.call('TTL', KEYS[1]) < 0 then
	redis.call('EXPIREAT', KEYS[1], ARGV[3])
end
return {1, total + 1}`

// Rediser is the slice of redis.Client the limiter needs.
type Rediser interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

type Result struct {
	Allowed      bool   `json:"allowed"`
	CurrentUsage int64  `json:"currentUsage"`
	DailyLimit   int64  `json:"dailyLimit"`
	Remaining    int64  `json:"remaining"`
	Message      string `json:"message,omitempty"`
}

type Service struct {
	rdb   Rediser
	limit int64
	clock clockwork.Clock
}

func NewService(rdb Rediser, dailyLimit int, clk clockwork.Clock) *Service {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if dailyLimit <= 0 {
		dailyLimit = 3
	}
	return &Service{rdb: rdb, limit: int64(dailyLimit), clock: clk}
}

// CheckAndIncrement atomically checks the quota and records one use.
// Two racing calls can never both slip past the limit because the
// check and the increment run in one script.
func (s *Service) CheckAndIncrement(ctx context.Context, userID int64, usage UsageType, subscriber bool) (*Result, error) {
	limit := s.limit
	if subscriber {
		limit = -1
	}

	now := s.clock.Now()
	key := buildUsageKey(userID, now)
	raw, err := s.rdb.Eval(ctx, checkScript,
		[]string{key},
		limit, string(usage), midnightAfter(now).Unix(),
	).Slice()
	if err != nil {
		return nil, err
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("unexpected rate limit script reply: %v", raw)
	}
	allowed := toInt64(raw[0]) == 1
	current := toInt64(raw[1])

	result := &Result{
		Allowed:      allowed,
		CurrentUsage: current,
		DailyLimit:   s.limit,
		Remaining:    remaining(s.limit, current, subscriber),
	}
	if subscriber {
		result.DailyLimit = -1
	}
	if !allowed {
		result.Message = "daily free usage limit reached"
		return result, appErr.ErrDailyLimitExceeded
	}
	return result, nil
}

// Usage reports today's recorded usage without consuming quota.
func (s *Service) Usage(ctx context.Context, userID int64, subscriber bool) (*Result, error) {
	now := s.clock.Now()
	fields, err := s.rdb.HGetAll(ctx, buildUsageKey(userID, now)).Result()
	if err != nil {
		return nil, err
	}
	var total int64
	for _, v := range fields {
		var n int64
		fmt.Sscan(v, &n)
		total += n
	}
	result := &Result{
		Allowed:      subscriber || total < s.limit,
		CurrentUsage: total,
		DailyLimit:   s.limit,
		Remaining:    remaining(s.limit, total, subscriber),
	}
	if subscriber {
		result.DailyLimit = -1
	}
	return result, nil
}

func remaining(limit, current int64, subscriber bool) int64 {
	if subscriber {
		return -1
	}
	left := limit - current
	if left < 0 {
		return 0
	}
	return left
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func buildUsageKey(userID int64, now time.Time) string {
	return fmt.Sprintf("usage:daily:%d:%s", userID, now.Format("20060102"))
}

func midnightAfter(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day+1, 0, 0, 0, 0, now.Location())
}
