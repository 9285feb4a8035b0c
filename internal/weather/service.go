package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/i474232898/weatherapi-nodeserver/internal/observability"
)

var (
	// ErrNotConfigured is returned by Refresh before Configure succeeded.
	ErrNotConfigured = errors.New("weather service is not configured")
	// ErrEmptyAPIKey is returned by Configure when no API key was given.
	ErrEmptyAPIKey = errors.New("api key is empty")
	// ErrNoData is returned when no reading is available for the location.
	ErrNoData = errors.New("no weather data for location")
)

// Options tunes caching and rate limiting of upstream calls.
type Options struct {
	// CacheTTL is how long a reading satisfies a non-forced refresh.
	CacheTTL time.Duration
	// RateLimitCalls upstream calls are allowed per RateLimitPeriod.
	RateLimitCalls  int
	RateLimitPeriod time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Service polls the configured provider for a single location and keeps the last reading.
type Service struct {
	store       Store
	newProvider ProviderFactory
	metrics     *observability.Metrics
	logger      *slog.Logger
	clock       clockwork.Clock
	cacheTTL    time.Duration
	limiter     *rate.Limiter

	// fetchMu keeps a single upstream call in flight.
	fetchMu sync.Mutex

	mu       sync.RWMutex
	provider Provider
	apiKey   string
	loc      Location
	last     Reading
	hasLast  bool
}

// NewService creates a new Service.
func NewService(store Store, newProvider ProviderFactory, metrics *observability.Metrics, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.RateLimitCalls <= 0 {
		opts.RateLimitCalls = 10
	}
	if opts.RateLimitPeriod <= 0 {
		opts.RateLimitPeriod = time.Minute
	}

	every := opts.RateLimitPeriod / time.Duration(opts.RateLimitCalls)
	return &Service{
		store:       store,
		newProvider: newProvider,
		metrics:     metrics,
		logger:      opts.Logger,
		clock:       opts.Clock,
		cacheTTL:    opts.CacheTTL,
		limiter:     rate.NewLimiter(rate.Every(every), opts.RateLimitCalls),
	}
}

// Configure sets the API key and location. The provider is rebuilt when the key
// changes and the cached reading is dropped when the location changes.
func (s *Service) Configure(apiKey, location string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ErrEmptyAPIKey
	}
	loc, err := ParseLocation(location)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.provider == nil || apiKey != s.apiKey {
		s.provider = s.newProvider(apiKey)
		s.apiKey = apiKey
	}
	if loc.Key() != s.loc.Key() {
		s.logger.Info("weather location configured", "location", loc.Raw, "kind", loc.Kind.String())
		s.loc = loc
		s.last = Reading{}
		s.hasLast = false
	}
	return nil
}

// Location returns the configured location, zero if none.
func (s *Service) Location() Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loc
}

// Configured reports whether Refresh can reach upstream.
func (s *Service) Configured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider != nil && !s.loc.IsZero()
}

// Restore seeds the cached reading from the store, so a restart inside the cache
// window does not spend an API call.
func (s *Service) Restore(ctx context.Context) error {
	loc := s.Location()
	if loc.IsZero() {
		return nil
	}
	r, err := s.store.GetLatest(ctx, loc)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return nil
		}
		return fmt.Errorf("restore %s: %w", loc.Query(), err)
	}

	s.mu.Lock()
	if s.loc.Key() == loc.Key() && !s.hasLast {
		s.last = r
		s.hasLast = true
	}
	s.mu.Unlock()
	s.logger.Debug("restored last reading", "location", loc.Raw, "fetched_at", r.FetchedAt)
	return nil
}

// Refresh returns a current reading. Unless force is set, a cached reading younger
// than the cache TTL is returned without calling upstream.
func (s *Service) Refresh(ctx context.Context, force bool) (Reading, error) {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	s.mu.RLock()
	provider, loc, last, hasLast := s.provider, s.loc, s.last, s.hasLast
	s.mu.RUnlock()

	if provider == nil || loc.IsZero() {
		return Reading{}, ErrNotConfigured
	}

	if !force && hasLast && s.clock.Since(last.FetchedAt) < s.cacheTTL {
		s.metrics.FetchTotal.WithLabelValues("cached").Inc()
		s.logger.Debug("reading still fresh; skipping upstream call", "location", loc.Raw, "fetched_at", last.FetchedAt)
		return last, nil
	}

	if err := s.waitForToken(ctx); err != nil {
		return Reading{}, err
	}

	start := s.clock.Now()
	r, err := provider.Fetch(ctx, loc)
	s.metrics.FetchDuration.Observe(s.clock.Since(start).Seconds())
	if err != nil {
		s.metrics.FetchTotal.WithLabelValues("error").Inc()
		return Reading{}, fmt.Errorf("%s fetch for %s: %w", provider.Name(), loc.Query(), err)
	}
	s.metrics.FetchTotal.WithLabelValues("success").Inc()

	r.Location = loc.Raw
	r.FetchedAt = s.clock.Now().UTC()
	if r.ObservedAt.IsZero() {
		r.ObservedAt = r.FetchedAt
	}

	s.mu.Lock()
	if s.loc.Key() == loc.Key() {
		s.last = r
		s.hasLast = true
	}
	s.mu.Unlock()

	// A failed save only costs history; the poll itself succeeded.
	if err := s.store.SaveReading(ctx, loc, r); err != nil {
		s.logger.Warn("failed to persist reading", "location", loc.Raw, "error", err)
	}
	return r, nil
}

func (s *Service) waitForToken(ctx context.Context) error {
	if s.limiter.Allow() {
		return nil
	}
	s.metrics.RateLimitWaits.Inc()
	s.logger.Info("rate limit reached, waiting for next upstream slot")
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Latest returns the last reading, falling back to the store.
func (s *Service) Latest(ctx context.Context) (Reading, error) {
	s.mu.RLock()
	loc, last, hasLast := s.loc, s.last, s.hasLast
	s.mu.RUnlock()

	if hasLast {
		return last, nil
	}
	if loc.IsZero() {
		return Reading{}, ErrNoData
	}
	return s.store.GetLatest(ctx, loc)
}

// History delegates to the underlying store.
func (s *Service) History(ctx context.Context, from, to time.Time) ([]Reading, error) {
	loc := s.Location()
	if loc.IsZero() {
		return nil, ErrNoData
	}
	return s.store.GetRange(ctx, loc, from, to)
}
