package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/davidbz/embermeter/internal/domain"
	"github.com/davidbz/embermeter/internal/observability"
)

const (
	// maxResponseBytes bounds how much of the listing body is read, so a
	// misbehaving upstream cannot exhaust memory.
	maxResponseBytes = 32 << 20

	fetchGroupKey = "listing"
)

// Source fetches the remote pricing registry, caches it with a TTL, and
// deduplicates concurrent refreshes. It implements domain.PricingSource.
//
// The cached registry is only ever swapped wholesale under the lock; a failed
// refresh leaves the previous registry in place and surfaces a typed error to
// the caller.
type Source struct {
	url        string
	ttl        time.Duration
	timeout    time.Duration
	maxEntries int

	client    *http.Client
	snapshots SnapshotStore

	group singleflight.Group

	mu     sync.RWMutex
	cached *domain.PricingRegistry
}

// NewSource creates a pricing source. snapshots may be nil to disable the
// shared snapshot store.
func NewSource(cfg Config, snapshots SnapshotStore) *Source {
	return &Source{
		url:        cfg.URL,
		ttl:        cfg.TTL(),
		timeout:    cfg.Timeout(),
		maxEntries: cfg.MaxEntries,
		client:     &http.Client{},
		snapshots:  snapshots,
	}
}

// Fetch returns the cached registry when fresh, otherwise refreshes it.
// Concurrent callers arriving during a refresh share the single in-flight
// request and receive the same registry (or the same error).
func (s *Source) Fetch(ctx context.Context) (*domain.PricingRegistry, error) {
	if registry := s.fresh(); registry != nil {
		return registry, nil
	}

	result, err, _ := s.group.Do(fetchGroupKey, func() (interface{}, error) {
		// A caller that queued behind a completed refresh sees the fresh
		// registry here instead of triggering another fetch.
		if registry := s.fresh(); registry != nil {
			return registry, nil
		}
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}

	registry, ok := result.(*domain.PricingRegistry)
	if !ok {
		return nil, fmt.Errorf("unexpected singleflight result type %T", result)
	}
	return registry, nil
}

// fresh returns the cached registry if it is within its TTL, nil otherwise.
func (s *Source) fresh() *domain.PricingRegistry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cached != nil && time.Since(s.cached.FetchedAt) < s.ttl {
		return s.cached
	}
	return nil
}

func (s *Source) refresh(ctx context.Context) (*domain.PricingRegistry, error) {
	logger := observability.FromContext(ctx)

	s.mu.RLock()
	coldStart := s.cached == nil
	s.mu.RUnlock()

	// On a cold start, a still-fresh shared snapshot saves the network trip.
	if coldStart && s.snapshots != nil {
		snapshot, err := s.snapshots.Load(ctx)
		switch {
		case err != nil:
			logger.Warn("pricing snapshot load failed", observability.Error(err))
		case snapshot != nil && time.Since(snapshot.FetchedAt) < s.ttl:
			logger.Info("pricing registry restored from snapshot",
				observability.Int("models", len(snapshot.Pricing)),
				observability.Duration("age", time.Since(snapshot.FetchedAt)))
			s.swap(snapshot)
			return snapshot, nil
		}
	}

	registry, err := s.fetchRemote(ctx)
	if err != nil {
		return nil, err
	}

	logger.Info("pricing registry refreshed",
		observability.String("url", s.url),
		observability.Int("models", len(registry.Pricing)))

	s.swap(registry)

	if s.snapshots != nil {
		if saveErr := s.snapshots.Save(ctx, registry); saveErr != nil {
			logger.Warn("pricing snapshot save failed", observability.Error(saveErr))
		}
	}

	return registry, nil
}

func (s *Source) swap(registry *domain.PricingRegistry) {
	s.mu.Lock()
	s.cached = registry
	s.mu.Unlock()
}

func (s *Source) fetchRemote(ctx context.Context) (*domain.PricingRegistry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &domain.NetworkError{URL: s.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.TimeoutError{URL: s.url, Timeout: s.timeout}
		}
		return nil, &domain.NetworkError{URL: s.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.MalformedResponseError{
			URL:        s.url,
			StatusCode: resp.StatusCode,
			Reason:     "non-2xx response",
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.TimeoutError{URL: s.url, Timeout: s.timeout}
		}
		return nil, &domain.NetworkError{URL: s.url, Err: err}
	}

	return s.parseListing(body)
}

// listingDocument is the wire shape of the pricing endpoint: a JSON object
// whose "data" field lists models with string-encoded USD-per-token prices.
type listingDocument struct {
	Data json.RawMessage `json:"data"`
}

type listingEntry struct {
	ID      string        `json:"id"`
	Pricing *entryPricing `json:"pricing"`
}

type entryPricing struct {
	Prompt          string `json:"prompt"`
	Completion      string `json:"completion"`
	InputCacheRead  string `json:"input_cache_read"`
	InputCacheWrite string `json:"input_cache_write"`
}

func (s *Source) parseListing(body []byte) (*domain.PricingRegistry, error) {
	var doc listingDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &domain.MalformedResponseError{URL: s.url, Reason: "body is not a JSON object"}
	}

	// A JSON null decodes into a nil slice without error, so it must be
	// rejected explicitly alongside an absent field.
	if len(doc.Data) == 0 || bytes.Equal(bytes.TrimSpace(doc.Data), []byte("null")) {
		return nil, &domain.MalformedResponseError{URL: s.url, Reason: "missing data field"}
	}

	var entries []listingEntry
	if err := json.Unmarshal(doc.Data, &entries); err != nil {
		return nil, &domain.MalformedResponseError{URL: s.url, Reason: "data field is not an array"}
	}

	pricing := make(map[string]domain.ModelPricing, len(entries))
	for _, entry := range entries {
		if len(pricing) >= s.maxEntries {
			break
		}

		key := strings.ToLower(strings.TrimSpace(entry.ID))
		if key == "" || entry.Pricing == nil {
			continue
		}

		// Entries with unparseable required prices are dropped, not fatal:
		// one bad upstream row must not take out the whole registry.
		prompt, promptOK := parsePrice(entry.Pricing.Prompt)
		completion, completionOK := parsePrice(entry.Pricing.Completion)
		if !promptOK || !completionOK {
			continue
		}

		record := domain.ModelPricing{
			InputPerToken:  prompt,
			OutputPerToken: completion,
		}
		if rate, ok := parsePrice(entry.Pricing.InputCacheRead); ok {
			record.CacheReadPerToken = &rate
		}
		if rate, ok := parsePrice(entry.Pricing.InputCacheWrite); ok {
			record.CacheWritePerToken = &rate
		}

		pricing[key] = record
	}

	return domain.NewPricingRegistry(pricing, time.Now()), nil
}

// parsePrice parses a base-10 decimal USD-per-token price string. Missing,
// non-finite, and negative values are rejected.
func parsePrice(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, false
	}

	return value, true
}
