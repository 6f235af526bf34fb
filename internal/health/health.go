package health

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/sandeepkv93/newsroom-auth-service/internal/database"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
)

type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

type CheckerFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (c CheckerFunc) Check(ctx context.Context) CheckResult {
	if err := c.Fn(ctx); err != nil {
		return CheckResult{Name: c.Name, Healthy: false, Error: err.Error()}
	}
	return CheckResult{Name: c.Name, Healthy: true}
}

func NewDBChecker(db *gorm.DB) Checker {
	return CheckerFunc{Name: "db", Fn: func(ctx context.Context) error {
		return database.Ping(ctx, db)
	}}
}

func NewRedisChecker(client redis.UniversalClient) Checker {
	return CheckerFunc{Name: "redis", Fn: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

var errDraining = errors.New("server is draining")

// ProbeRunner runs every checker concurrently. The whole run is bounded by
// timeout and each checker by perCheck when perCheck is positive.
type ProbeRunner struct {
	timeout  time.Duration
	perCheck time.Duration
	checkers []Checker
	draining atomic.Bool
}

func NewProbeRunner(timeout, perCheck time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{timeout: timeout, perCheck: perCheck, checkers: checkers}
}

// SetDraining makes Ready report false so load balancers stop routing new
// traffic while in-flight requests finish.
func (p *ProbeRunner) SetDraining(v bool) {
	p.draining.Store(v)
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	if p.draining.Load() {
		return false, []CheckResult{{Name: "server", Healthy: false, Error: errDraining.Error()}}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make([]CheckResult, len(p.checkers))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range p.checkers {
		g.Go(func() error {
			results[i] = p.run(gctx, c, fmt.Sprintf("probe_%d", i))
			return nil
		})
	}
	_ = g.Wait()

	ready := true
	for _, r := range results {
		if !r.Healthy {
			ready = false
		}
	}
	return ready, results
}

func (p *ProbeRunner) run(ctx context.Context, c Checker, fallback string) CheckResult {
	if p.perCheck > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.perCheck)
		defer cancel()
	}
	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() { done <- c.Check(ctx) }()

	var res CheckResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = CheckResult{Healthy: false, Error: "probe timed out"}
	}
	if res.Name == "" {
		if named, ok := c.(CheckerFunc); ok {
			res.Name = named.Name
		} else {
			res.Name = fallback
		}
	}
	outcome := "healthy"
	if !res.Healthy {
		outcome = "unhealthy"
	}
	observability.RecordReadinessProbe(ctx, res.Name, outcome, time.Since(start).Seconds())
	return res
}
