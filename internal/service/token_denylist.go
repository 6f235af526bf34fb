package service

import (
	"context"
	"sync"
	"time"
)

// TokenDenylist rejects access tokens before their natural expiry. Access
// tokens are never recorded in the ledger, so logout denies the presented
// jti until it would have expired anyway, and logout-everywhere sets a
// per-user cutoff: tokens issued at or before it are refused.
type TokenDenylist interface {
	DenyJTI(ctx context.Context, jti string, until time.Time) error
	IsJTIDenied(ctx context.Context, jti string) (bool, error)
	SetSubjectCutoff(ctx context.Context, userID uint, cutoff time.Time, ttl time.Duration) error
	SubjectCutoff(ctx context.Context, userID uint) (time.Time, bool, error)
}

// accessTokenDenied applies both denylist checks to a verified access token.
// iat has second precision, so the cutoff is compared at that precision.
func accessTokenDenied(ctx context.Context, d TokenDenylist, userID uint, jti string, issuedAt time.Time) (bool, error) {
	denied, err := d.IsJTIDenied(ctx, jti)
	if err != nil || denied {
		return denied, err
	}
	cutoff, ok, err := d.SubjectCutoff(ctx, userID)
	if err != nil || !ok {
		return false, err
	}
	return !issuedAt.Truncate(time.Second).After(cutoff.Truncate(time.Second)), nil
}

type NoopTokenDenylist struct{}

func NewNoopTokenDenylist() *NoopTokenDenylist { return &NoopTokenDenylist{} }

func (NoopTokenDenylist) DenyJTI(context.Context, string, time.Time) error { return nil }

func (NoopTokenDenylist) IsJTIDenied(context.Context, string) (bool, error) { return false, nil }

func (NoopTokenDenylist) SetSubjectCutoff(context.Context, uint, time.Time, time.Duration) error {
	return nil
}

func (NoopTokenDenylist) SubjectCutoff(context.Context, uint) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

type cutoffEntry struct {
	cutoff    time.Time
	expiresAt time.Time
}

// InMemoryTokenDenylist is process-local. It is used when Redis is disabled,
// which is only correct for single-instance deployments.
type InMemoryTokenDenylist struct {
	mu      sync.RWMutex
	jtis    map[string]time.Time
	cutoffs map[uint]cutoffEntry
	now     func() time.Time
}

func NewInMemoryTokenDenylist(now func() time.Time) *InMemoryTokenDenylist {
	if now == nil {
		now = time.Now
	}
	return &InMemoryTokenDenylist{
		jtis:    make(map[string]time.Time),
		cutoffs: make(map[uint]cutoffEntry),
		now:     now,
	}
}

func (s *InMemoryTokenDenylist) DenyJTI(_ context.Context, jti string, until time.Time) error {
	if jti == "" || !until.After(s.now()) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jtis[jti] = until
	return nil
}

func (s *InMemoryTokenDenylist) IsJTIDenied(_ context.Context, jti string) (bool, error) {
	now := s.now()
	s.mu.RLock()
	until, ok := s.jtis[jti]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !until.After(now) {
		s.mu.Lock()
		delete(s.jtis, jti)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (s *InMemoryTokenDenylist) SetSubjectCutoff(_ context.Context, userID uint, cutoff time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.cutoffs[userID]; ok && prev.cutoff.After(cutoff) {
		cutoff = prev.cutoff
	}
	s.cutoffs[userID] = cutoffEntry{cutoff: cutoff, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemoryTokenDenylist) SubjectCutoff(_ context.Context, userID uint) (time.Time, bool, error) {
	now := s.now()
	s.mu.RLock()
	entry, ok := s.cutoffs[userID]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false, nil
	}
	if !entry.expiresAt.After(now) {
		s.mu.Lock()
		delete(s.cutoffs, userID)
		s.mu.Unlock()
		return time.Time{}, false, nil
	}
	return entry.cutoff, true, nil
}
