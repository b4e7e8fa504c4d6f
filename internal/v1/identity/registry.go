// Package identity wraps the external on-chain identity registry. The
// registry is the source of truth for which agent addresses may play;
// lookups go over HTTP and positive answers are cached briefly.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/crewmates-ai/game-master/internal/v1/logging"
	"github.com/crewmates-ai/game-master/internal/v1/metrics"
)

// Verifier reports whether an agent address is registered. Implementations
// must be safe for concurrent use.
type Verifier interface {
	IsRegistered(ctx context.Context, address string) (bool, error)
}

const (
	// positiveTTL bounds how long a "registered" answer may be reused.
	// Negative answers are never cached: registrations are additive, and a
	// stale "no" would lock an agent out.
	positiveTTL = 5 * time.Second

	maxAttempts = 3
	baseBackoff = 100 * time.Millisecond
)

// RegistryClient talks to the registry gateway over HTTP.
type RegistryClient struct {
	base  string
	http  *http.Client
	cache *gocache.Cache
	cb    *gobreaker.CircuitBreaker
}

type registryResponse struct {
	Registered bool   `json:"registered"`
	Domain     string `json:"domain,omitempty"`
}

// NewRegistryClient creates a client for the registry at the given base URL.
func NewRegistryClient(base string) *RegistryClient {
	st := gobreaker.Settings{
		Name:        "identity-registry",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
		},
	}

	return &RegistryClient{
		base:  strings.TrimRight(base, "/"),
		http:  &http.Client{Timeout: 5 * time.Second},
		cache: gocache.New(positiveTTL, 2*positiveTTL),
		cb:    gobreaker.NewCircuitBreaker(st),
	}
}

// IsRegistered checks the registry for the given address. Positive results
// are cached for a short TTL; transport errors are retried with a short
// exponential backoff. An authoritative "not registered" is returned as
// (false, nil) and never retried.
func (r *RegistryClient) IsRegistered(ctx context.Context, address string) (bool, error) {
	key := strings.ToLower(address)
	if _, ok := r.cache.Get(key); ok {
		metrics.RegistryLookups.WithLabelValues("cache_hit").Inc()
		return true, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}

		registered, retryable, err := r.lookup(ctx, key)
		if err == nil {
			if registered {
				metrics.RegistryLookups.WithLabelValues("registered").Inc()
				r.cache.SetDefault(key, true)
			} else {
				metrics.RegistryLookups.WithLabelValues("unregistered").Inc()
			}
			return registered, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		logging.Warn(ctx, "registry lookup failed, retrying",
			zap.String("address", logging.RedactAddress(address)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	metrics.RegistryLookups.WithLabelValues("error").Inc()
	return false, fmt.Errorf("registry lookup for %s: %w", logging.RedactAddress(address), lastErr)
}

// lookup performs a single registry round trip through the circuit breaker.
func (r *RegistryClient) lookup(ctx context.Context, address string) (registered, retryable bool, err error) {
	out, err := r.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			r.base+"/agents/"+url.PathEscape(address), nil)
		if err != nil {
			return nil, err
		}

		resp, err := r.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return false, nil
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			if err != nil {
				return nil, err
			}
			var rr registryResponse
			if err := json.Unmarshal(body, &rr); err != nil {
				return nil, fmt.Errorf("malformed registry response: %w", err)
			}
			return rr.Registered, nil
		default:
			return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
		}
	})
	if err != nil {
		// Breaker-open and transport errors are retryable; context errors are not.
		if ctx.Err() != nil {
			return false, false, err
		}
		return false, true, err
	}
	return out.(bool), false, nil
}

// Ping checks that the registry gateway is reachable. Used by readiness.
func (r *RegistryClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("registry health returned status %d", resp.StatusCode)
	}
	return nil
}
