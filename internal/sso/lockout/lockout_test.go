package lockout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
	"github.com/ebellera/SSO/pkg/requestcontext"
)

const (
	email = "info@simple-sso.com"
	ip    = "203.0.113.7"
)

type LimiterSuite struct {
	suite.Suite
	newStore func() Store
	// advance moves the store's notion of time forward where it keeps its own.
	advance func(d time.Duration)
	limiter *Limiter
	now     time.Time
}

func TestLimiterInMemory(t *testing.T) {
	suite.Run(t, &LimiterSuite{
		newStore: func() Store { return NewInMemoryStore() },
		advance:  func(time.Duration) {},
	})
}

func TestLimiterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	suite.Run(t, &LimiterSuite{
		newStore: func() Store {
			mr.FlushAll()
			return NewRedis(client, "test:")
		},
		advance: mr.FastForward,
	})
}

func (s *LimiterSuite) SetupTest() {
	var err error
	s.limiter, err = New(s.newStore(), WithConfig(Config{MaxFailures: 3, Window: time.Minute, LockDuration: 5 * time.Minute}))
	s.Require().NoError(err)
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *LimiterSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *LimiterSuite) wait(d time.Duration) {
	s.now = s.now.Add(d)
	s.advance(d)
}

func (s *LimiterSuite) fail(n int) {
	for range n {
		s.Require().NoError(s.limiter.RecordFailure(s.ctx(), email, ip))
	}
}

func (s *LimiterSuite) TestLocksAfterMaxFailures() {
	s.fail(2)
	s.NoError(s.limiter.Check(s.ctx(), email, ip))

	s.fail(1)
	err := s.limiter.Check(s.ctx(), email, ip)
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))

	s.Run("other address is unaffected", func() {
		s.NoError(s.limiter.Check(s.ctx(), email, "198.51.100.1"))
	})

	s.Run("email case does not matter", func() {
		s.True(dErrors.HasCode(s.limiter.Check(s.ctx(), "INFO@simple-sso.com", ip), dErrors.CodeRateLimited))
	})

	s.Run("lock lifts after its duration", func() {
		s.wait(5*time.Minute + time.Second)
		s.NoError(s.limiter.Check(s.ctx(), email, ip))
	})
}

func (s *LimiterSuite) TestFailuresOutsideWindowDoNotAccumulate() {
	s.fail(2)
	s.wait(time.Minute + time.Second)
	s.fail(2)
	s.NoError(s.limiter.Check(s.ctx(), email, ip))
}

func (s *LimiterSuite) TestClearResetsCounter() {
	s.fail(2)
	s.Require().NoError(s.limiter.Clear(s.ctx(), email, ip))
	s.fail(2)
	s.NoError(s.limiter.Check(s.ctx(), email, ip))
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := New(NewInMemoryStore(), WithConfig(Config{})); err == nil {
		t.Fatal("expected error for zero limits")
	}
}

func TestInMemoryDeleteExpired(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{MaxFailures: 2, Window: time.Minute, LockDuration: 10 * time.Minute}

	_, _ = store.RecordFailure(ctx, "a", now, cfg)
	_, _ = store.RecordFailure(ctx, "b", now, cfg)
	_, _ = store.RecordFailure(ctx, "b", now, cfg)

	n, err := store.DeleteExpired(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1 (the locked key must survive)", n)
	}
	if _, locked, _ := store.LockedUntil(ctx, "b", now.Add(2*time.Minute)); !locked {
		t.Fatal("locked key was pruned")
	}
}
