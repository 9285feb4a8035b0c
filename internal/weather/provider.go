package weather

import (
	"context"
	"time"
)

// Provider abstracts the upstream weather source (weatherapi.com in production).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (Reading, error)
}

// ProviderFactory builds a Provider for an API key. The key arrives from the hub at
// runtime, so the provider is rebuilt whenever it changes.
type ProviderFactory func(apiKey string) Provider

// Store is the contract the in-memory store and the sqlite store must satisfy.
type Store interface {
	SaveReading(ctx context.Context, loc Location, r Reading) error
	GetLatest(ctx context.Context, loc Location) (Reading, error)
	GetRange(ctx context.Context, loc Location, from, to time.Time) ([]Reading, error)
}
