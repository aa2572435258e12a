package gate

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// Config tunes the fetch gate
type Config struct {
	MaxConcurrent    int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	MaxJitter        time.Duration
	MaxRetries       int
	BackoffUnit      time.Duration
	BlockBackoffBase float64
	ErrorBackoffBase float64
	SpeedupFactor    float64
	SlowdownFactor   float64
	// GlobalRPS caps requests per second across all partitions; 0 disables the cap
	GlobalRPS  float64
	UserAgents []string
}

// DefaultUserAgents is the rotation used when none are configured
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_3) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0",
}

// DefaultConfig returns the gate defaults
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:    5,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		MaxJitter:        300 * time.Millisecond,
		MaxRetries:       3,
		BackoffUnit:      time.Second,
		BlockBackoffBase: 3,
		ErrorBackoffBase: 2,
		SpeedupFactor:    0.75,
		SlowdownFactor:   2,
		UserAgents:       DefaultUserAgents,
	}
}

// Recorder receives gate events for metrics
type Recorder interface {
	ObserveAttempt(partition, outcome string)
	ObserveCircuitOpen(partition string)
	ObserveShortCircuit(partition string)
	ObserveDelay(partition string, seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(string, string) {}
func (nopRecorder) ObserveCircuitOpen(string)     {}
func (nopRecorder) ObserveShortCircuit(string)    {}
func (nopRecorder) ObserveDelay(string, float64)  {}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Gate is the single choke point for network access. It bounds global
// in-flight requests and applies per-partition pacing, retries and the
// rate-limit circuit.
type Gate struct {
	transport domain.Transport
	admission *semaphore.Weighted
	limiter   *rate.Limiter
	cfg       Config
	recorder  Recorder
	log       logrus.FieldLogger
	sleep     Sleeper

	rngMu sync.Mutex
	rng   *rand.Rand
	uaIdx atomic.Uint64
}

// Option configures a Gate
type Option func(*Gate)

// WithRecorder sends gate events to r
func WithRecorder(r Recorder) Option {
	return func(g *Gate) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// WithSleeper replaces the pacing/backoff sleep (tests use a recording no-op)
func WithSleeper(s Sleeper) Option {
	return func(g *Gate) {
		if s != nil {
			g.sleep = s
		}
	}
}

// WithSeed makes jitter and user-agent rotation deterministic
func WithSeed(seed int64) Option {
	return func(g *Gate) {
		g.rng = rand.New(rand.NewSource(seed))
	}
}

// New creates a gate over transport
func New(transport domain.Transport, cfg Config, opts ...Option) *Gate {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.GlobalRPS > 0 {
		burst := int(math.Ceil(cfg.GlobalRPS))
		limiter = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}

	g := &Gate{
		transport: transport,
		admission: semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limiter:   limiter,
		cfg:       cfg,
		recorder:  nopRecorder{},
		log:       logrus.StandardLogger(),
		sleep:     sleepContext,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the effective configuration
func (g *Gate) Config() Config {
	return g.cfg
}

// NewState creates a fresh partition state at the configured base delay
func (g *Gate) NewState(partition string) *PartitionState {
	return NewPartitionState(partition, g.cfg.BaseDelay)
}

// For binds the gate to one partition's state
func (g *Gate) For(state *PartitionState, acceptLanguage string) *PartitionFetcher {
	return &PartitionFetcher{gate: g, state: state, acceptLanguage: acceptLanguage}
}

// Partition creates fresh state for a partition and binds the gate to it
func (g *Gate) Partition(name, acceptLanguage string) domain.PartitionFetcher {
	return g.For(g.NewState(name), acceptLanguage)
}

var _ domain.FetchGate = (*Gate)(nil)

// PartitionFetcher implements domain.PartitionFetcher for one partition
type PartitionFetcher struct {
	gate           *Gate
	state          *PartitionState
	acceptLanguage string
}

// State exposes the partition state (read-only use)
func (f *PartitionFetcher) State() *PartitionState {
	return f.state
}

// Stats returns a snapshot of the partition's counters
func (f *PartitionFetcher) Stats() domain.FetchStats {
	return f.state.Stats()
}

// CircuitOpen reports whether the partition was rate limited
func (f *PartitionFetcher) CircuitOpen() bool {
	return f.state.CircuitOpen()
}

// Fetch runs one gated fetch. It never returns an error: every failure is an outcome.
func (f *PartitionFetcher) Fetch(ctx context.Context, req domain.FetchRequest) domain.FetchOutcome {
	g := f.gate
	partition := f.state.Name()
	log := g.log.WithFields(logrus.Fields{"partition": partition, "url": req.URL})

	if f.rejectShortCircuit() {
		return domain.RateLimited(0)
	}

	if err := g.admission.Acquire(ctx, 1); err != nil {
		return domain.TransientError(err)
	}
	defer g.admission.Release(1)

	if f.rejectShortCircuit() {
		return domain.RateLimited(0)
	}

	var last domain.FetchOutcome
	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := g.sleep(ctx, f.state.CurrentDelay()+g.jitter(g.cfg.MaxJitter)); err != nil {
			return domain.TransientError(err)
		}

		if f.rejectShortCircuit() {
			return domain.RateLimited(0)
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return domain.TransientError(err)
		}

		status, body, err := g.transport.Get(ctx, req.URL, g.headers(f.acceptLanguage, req.HeadersHint))
		if err != nil && ctx.Err() != nil {
			return domain.TransientError(ctx.Err())
		}

		attemptLog := log.WithFields(logrus.Fields{"attempt": attempt, "status": status})

		switch {
		case err != nil:
			f.record(domain.OutcomeTransientError)
			attemptLog.WithError(err).Warn("[GATE] request error")
			last = domain.TransientError(err)

		case status >= 200 && status < 300:
			f.record(domain.OutcomeSuccess)
			delay := f.state.speedUp(g.cfg.SpeedupFactor)
			g.recorder.ObserveDelay(partition, delay.Seconds())
			return domain.Success(body, status)

		case status == http.StatusTooManyRequests:
			f.record(domain.OutcomeRateLimited)
			if f.state.openCircuit() {
				g.recorder.ObserveCircuitOpen(partition)
				attemptLog.Warn("[GATE] got 429, stopping partition")
			}
			return domain.RateLimited(status)

		case status == http.StatusNotFound:
			f.record(domain.OutcomeNotFound)
			attemptLog.Debug("[GATE] not found")
			return domain.NotFound()

		case status == http.StatusForbidden:
			f.record(domain.OutcomeBlocked)
			delay := f.state.slowDown(g.cfg.SlowdownFactor, g.cfg.MaxDelay)
			g.recorder.ObserveDelay(partition, delay.Seconds())
			last = domain.Blocked(status)
			if attempt >= g.cfg.MaxRetries {
				attemptLog.Warn("[GATE] blocked, giving up")
				return last
			}
			wait := g.backoff(g.cfg.BlockBackoffBase, attempt) + g.jitter(g.cfg.BackoffUnit)
			attemptLog.Warnf("[GATE] blocked, retrying in %s", wait)
			if err := g.sleep(ctx, wait); err != nil {
				return domain.TransientError(err)
			}
			continue

		case status >= 500:
			f.record(domain.OutcomeTransientError)
			attemptLog.Warn("[GATE] server error")
			last = domain.TransientError(fmt.Errorf("server responded with status %d", status))

		default:
			f.record(domain.OutcomeTransientError)
			attemptLog.Warn("[GATE] unexpected status")
			return domain.TransientError(fmt.Errorf("unexpected status %d", status))
		}

		if attempt < g.cfg.MaxRetries {
			if err := g.sleep(ctx, g.backoff(g.cfg.ErrorBackoffBase, attempt)); err != nil {
				return domain.TransientError(err)
			}
		}
	}

	log.Warnf("[GATE] all %d attempts failed", g.cfg.MaxRetries)
	return last
}

func (f *PartitionFetcher) rejectShortCircuit() bool {
	if !f.state.shortCircuit() {
		return false
	}
	f.gate.recorder.ObserveShortCircuit(f.state.Name())
	return true
}

func (f *PartitionFetcher) record(kind domain.OutcomeKind) {
	f.state.recordAttempt(kind)
	f.gate.recorder.ObserveAttempt(f.state.Name(), kind.String())
}

// backoff returns unit * base^(attempt-1)
func (g *Gate) backoff(base float64, attempt int) time.Duration {
	return time.Duration(float64(g.cfg.BackoffUnit) * math.Pow(base, float64(attempt-1)))
}

// jitter returns a uniform duration in [0, max)
func (g *Gate) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	return time.Duration(g.rng.Int63n(int64(max)))
}

// headers builds the rotated identity headers for one attempt
func (g *Gate) headers(acceptLanguage string, hint http.Header) http.Header {
	idx := g.uaIdx.Add(1) - 1
	h := http.Header{}
	h.Set("User-Agent", g.cfg.UserAgents[idx%uint64(len(g.cfg.UserAgents))])
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if acceptLanguage == "" {
		acceptLanguage = "en;q=0.9"
	}
	h.Set("Accept-Language", acceptLanguage)
	h.Set("DNT", "1")
	h.Set("Upgrade-Insecure-Requests", "1")
	for k, vs := range hint {
		h.Del(k)
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}
