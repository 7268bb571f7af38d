package workload

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Router is the subset of the farm router the generator drives.
type Router interface {
	// Route dispatches one request and reports whether a server was found.
	Route(requestID string) bool
}

// GeneratorConfig describes a synthetic traffic source.
type GeneratorConfig struct {
	Pattern  Pattern
	BaseRate float64       // requests per second before the pattern is applied
	Tick     time.Duration // how long each rate step lasts
	RampStep float64       // rate increase per tick for PatternGradual
	Seed     int64         // seed for PatternRandom
}

// Validate checks the pattern, rate and tick length.
func (c GeneratorConfig) Validate() error {
	if !validPatterns[c.Pattern] {
		return fmt.Errorf("unknown traffic pattern %q (valid: %v)", c.Pattern, ValidPatterns())
	}
	if c.BaseRate < 0 || math.IsNaN(c.BaseRate) || math.IsInf(c.BaseRate, 0) {
		return fmt.Errorf("base rate must be a finite non-negative number, got %v", c.BaseRate)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be > 0, got %v", c.Tick)
	}
	return nil
}

// Generator sends requests to a Router following a Pattern. Requests are
// spaced evenly within each tick by a token-bucket limiter whose rate is
// reset at every tick boundary.
type Generator struct {
	router  Router
	cfg     GeneratorConfig
	rng     *rand.Rand // used only by the Run goroutine
	limiter *rate.Limiter

	seq         atomic.Int64
	sent        atomic.Int64
	accepted    atomic.Int64
	currentRate atomic.Uint64 // math.Float64bits of the active rate
}

// NewGenerator creates a generator bound to router.
func NewGenerator(router Router, cfg GeneratorConfig) (*Generator, error) {
	if router == nil {
		return nil, errors.New("router must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid traffic config: %w", err)
	}
	return &Generator{
		router:  router,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		limiter: rate.NewLimiter(0, 1),
	}, nil
}

// Pattern returns the configured traffic pattern.
func (g *Generator) Pattern() Pattern { return g.cfg.Pattern }

// Sent returns the number of requests handed to the router.
func (g *Generator) Sent() int64 { return g.sent.Load() }

// Accepted returns the number of requests the router dispatched.
func (g *Generator) Accepted() int64 { return g.accepted.Load() }

// CurrentRate returns the requests-per-second target of the active tick.
func (g *Generator) CurrentRate() float64 {
	return math.Float64frombits(g.currentRate.Load())
}

// Run sends traffic until ctx is cancelled. It returns nil on cancellation.
func (g *Generator) Run(ctx context.Context) error {
	logrus.Infof("traffic generator started: pattern=%s base rate=%.2f/s tick=%v",
		g.cfg.Pattern, g.cfg.BaseRate, g.cfg.Tick)
	defer func() {
		logrus.Infof("traffic generator stopped: sent=%d accepted=%d", g.Sent(), g.Accepted())
	}()
	for tick := 0; ; tick++ {
		if ctx.Err() != nil {
			return nil
		}
		r := max(0, rateAt(g.cfg.Pattern, g.cfg.BaseRate, g.cfg.RampStep, tick, g.rng))
		g.currentRate.Store(math.Float64bits(r))
		logrus.Debugf("traffic tick %d: %.2f req/s", tick, r)
		g.runTick(ctx, r)
	}
}

// runTick paces requests at r per second for one tick and returns at the
// tick boundary or when ctx is cancelled, whichever comes first.
func (g *Generator) runTick(ctx context.Context, r float64) {
	tickCtx, cancel := context.WithTimeout(ctx, g.cfg.Tick)
	defer cancel()
	if r > 0 {
		g.limiter.SetLimit(rate.Limit(r))
		for {
			// Wait fails early when the next token lands past the tick deadline.
			if err := g.limiter.Wait(tickCtx); err != nil {
				break
			}
			g.send()
		}
	}
	<-tickCtx.Done()
}

// SendBatch routes n requests back to back and returns how many were
// dispatched.
func (g *Generator) SendBatch(n int) int {
	dispatched := 0
	for i := 0; i < n; i++ {
		if g.send() {
			dispatched++
		}
	}
	return dispatched
}

func (g *Generator) send() bool {
	id := fmt.Sprintf("req-%d", g.seq.Add(1))
	g.sent.Add(1)
	ok := g.router.Route(id)
	if ok {
		g.accepted.Add(1)
	}
	return ok
}
