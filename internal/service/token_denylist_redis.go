package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
)

// RedisTokenDenylist shares denials across instances. Keys expire on their
// own once the tokens they cover could no longer verify.
type RedisTokenDenylist struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisTokenDenylist(client redis.UniversalClient, prefix string) *RedisTokenDenylist {
	if prefix == "" {
		prefix = "token_denylist"
	}
	return &RedisTokenDenylist{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisTokenDenylist) DenyJTI(ctx context.Context, jti string, until time.Time) error {
	if s.client == nil || jti == "" {
		return nil
	}
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	err := s.client.Set(ctx, s.jtiKey(jti), "1", ttl).Err()
	observability.RecordTokenDenylistEvent(ctx, "deny_jti", outcomeOf(err))
	return err
}

func (s *RedisTokenDenylist) IsJTIDenied(ctx context.Context, jti string) (bool, error) {
	if s.client == nil {
		return false, nil
	}
	n, err := s.client.Exists(ctx, s.jtiKey(jti)).Result()
	if err != nil {
		observability.RecordTokenDenylistEvent(ctx, "check_jti", "error")
		return false, err
	}
	return n > 0, nil
}

// SetSubjectCutoff never moves an existing cutoff backwards.
func (s *RedisTokenDenylist) SetSubjectCutoff(ctx context.Context, userID uint, cutoff time.Time, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	key := s.cutoffKey(userID)
	prev, ok, err := s.SubjectCutoff(ctx, userID)
	if err != nil {
		return err
	}
	if ok && prev.After(cutoff) {
		cutoff = prev
	}
	err = s.client.Set(ctx, key, strconv.FormatInt(cutoff.UnixNano(), 10), ttl).Err()
	observability.RecordTokenDenylistEvent(ctx, "set_cutoff", outcomeOf(err))
	return err
}

func (s *RedisTokenDenylist) SubjectCutoff(ctx context.Context, userID uint) (time.Time, bool, error) {
	if s.client == nil {
		return time.Time{}, false, nil
	}
	raw, err := s.client.Get(ctx, s.cutoffKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		observability.RecordTokenDenylistEvent(ctx, "check_cutoff", "error")
		return time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse subject cutoff: %w", err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (s *RedisTokenDenylist) jtiKey(jti string) string {
	return fmt.Sprintf("%s:jti:%s", s.prefix, jti)
}

func (s *RedisTokenDenylist) cutoffKey(userID uint) string {
	return fmt.Sprintf("%s:cutoff:%d", s.prefix, userID)
}
