package pricing //nolint:testpackage // Tests tune unexported TTL/timeout fields directly

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/davidbz/embermeter/internal/domain"
)

const sampleListing = `{
  "data": [
    {"id": "anthropic/claude-3.5-sonnet", "pricing": {"prompt": "0.000003", "completion": "0.000015", "input_cache_read": "0.0000003", "input_cache_write": "0.00000375"}},
    {"id": "openai/gpt-4o", "pricing": {"prompt": "0.000005", "completion": "0.000015"}},
    {"id": "broken/negative", "pricing": {"prompt": "-0.000001", "completion": "0.000001"}},
    {"id": "broken/not-a-number", "pricing": {"prompt": "cheap", "completion": "0.000001"}},
    {"id": "broken/missing-completion", "pricing": {"prompt": "0.000001"}},
    {"id": "broken/no-pricing"},
    {"id": "", "pricing": {"prompt": "0.000001", "completion": "0.000001"}}
  ]
}`

func newTestSource(url string) *Source {
	return NewSource(Config{
		URL:            url,
		TTLSeconds:     3600,
		TimeoutSeconds: 5,
		MaxEntries:     10000,
	}, nil)
}

func TestSourceFetch_ParsesListing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleListing))
	}))
	defer server.Close()

	source := newTestSource(server.URL)

	registry, err := source.Fetch(context.Background())
	require.NoError(t, err)

	// Malformed entries are dropped silently, valid ones survive.
	require.Len(t, registry.Pricing, 2)

	sonnet := registry.Pricing["anthropic/claude-3.5-sonnet"]
	require.InDelta(t, 0.000003, sonnet.InputPerToken, 1e-12)
	require.InDelta(t, 0.000015, sonnet.OutputPerToken, 1e-12)
	require.NotNil(t, sonnet.CacheReadPerToken)
	require.InDelta(t, 0.0000003, *sonnet.CacheReadPerToken, 1e-12)
	require.NotNil(t, sonnet.CacheWritePerToken)
	require.InDelta(t, 0.00000375, *sonnet.CacheWritePerToken, 1e-12)

	gpt4o := registry.Pricing["openai/gpt-4o"]
	require.InDelta(t, 0.000005, gpt4o.InputPerToken, 1e-12)
	require.Nil(t, gpt4o.CacheReadPerToken)
	require.Nil(t, gpt4o.CacheWritePerToken)

	require.WithinDuration(t, time.Now(), registry.FetchedAt, time.Minute)
}

func TestSourceFetch_LowercasesKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"id": "OpenAI/GPT-4o", "pricing": {"prompt": "0.000005", "completion": "0.000015"}}]}`))
	}))
	defer server.Close()

	registry, err := newTestSource(server.URL).Fetch(context.Background())
	require.NoError(t, err)
	require.Contains(t, registry.Pricing, "openai/gpt-4o")
}

func TestSourceFetch_CachesWithinTTL(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(sampleListing))
	}))
	defer server.Close()

	source := newTestSource(server.URL)
	ctx := context.Background()

	first, err := source.Fetch(ctx)
	require.NoError(t, err)

	second, err := source.Fetch(ctx)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.EqualValues(t, 1, requests.Load())
}

func TestSourceFetch_RefetchesAfterExpiry(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(sampleListing))
	}))
	defer server.Close()

	source := newTestSource(server.URL)
	ctx := context.Background()

	_, err := source.Fetch(ctx)
	require.NoError(t, err)

	// Expire the cache; the next call must hit the network again.
	source.ttl = 0

	_, err = source.Fetch(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, requests.Load())
}

func TestSourceFetch_SingleFlight(t *testing.T) {
	var requests atomic.Int64
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		<-release
		_, _ = w.Write([]byte(sampleListing))
	}))
	defer server.Close()

	source := newTestSource(server.URL)

	var group errgroup.Group
	for range 10 {
		group.Go(func() error {
			_, err := source.Fetch(context.Background())
			return err
		})
	}

	// Give every caller time to pile onto the in-flight fetch, then let the
	// upstream answer.
	time.Sleep(100 * time.Millisecond)
	close(release)

	require.NoError(t, group.Wait())
	require.EqualValues(t, 1, requests.Load())
}

func TestSourceFetch_Non2xxIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestSource(server.URL).Fetch(context.Background())
	require.Error(t, err)

	var malformed *domain.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, http.StatusInternalServerError, malformed.StatusCode)
}

func TestSourceFetch_MissingDataFieldIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models": []}`))
	}))
	defer server.Close()

	_, err := newTestSource(server.URL).Fetch(context.Background())

	var malformed *domain.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
}

func TestSourceFetch_NullDataFieldIsMalformed(t *testing.T) {
	// A JSON null unmarshals into a nil slice without error; it must still be
	// rejected instead of producing an empty registry.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": null}`))
	}))
	defer server.Close()

	_, err := newTestSource(server.URL).Fetch(context.Background())

	var malformed *domain.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
}

func TestSourceFetch_DataNotArrayIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"id": "x"}}`))
	}))
	defer server.Close()

	_, err := newTestSource(server.URL).Fetch(context.Background())

	var malformed *domain.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
}

func TestSourceFetch_TimeoutIsDistinguishable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		_, _ = w.Write([]byte(sampleListing))
	}))
	defer server.Close()

	source := newTestSource(server.URL)
	source.timeout = 20 * time.Millisecond

	_, err := source.Fetch(context.Background())
	require.Error(t, err)

	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)

	var network *domain.NetworkError
	require.False(t, errors.As(err, &network), "a timeout must not classify as a plain network error")
}

func TestSourceFetch_ConnectionRefusedIsNetworkError(t *testing.T) {
	source := newTestSource("http://127.0.0.1:1") // nothing listens here

	_, err := source.Fetch(context.Background())
	require.Error(t, err)

	var network *domain.NetworkError
	require.ErrorAs(t, err, &network)
}

func TestSourceFetch_FailedRefreshKeepsPreviousRegistry(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleListing))
	}))
	defer server.Close()

	source := newTestSource(server.URL)
	ctx := context.Background()

	first, err := source.Fetch(ctx)
	require.NoError(t, err)

	// Expire the cache and break the upstream: the refresh fails loudly but
	// must not clobber the previously fetched registry.
	source.ttl = 0
	fail.Store(true)

	_, err = source.Fetch(ctx)
	require.Error(t, err)

	source.ttl = time.Hour
	again, err := source.Fetch(ctx)
	require.NoError(t, err)
	require.Same(t, first, again)
}

func TestSourceFetch_EntryCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": [
			{"id": "a", "pricing": {"prompt": "0.000001", "completion": "0.000001"}},
			{"id": "b", "pricing": {"prompt": "0.000001", "completion": "0.000001"}},
			{"id": "c", "pricing": {"prompt": "0.000001", "completion": "0.000001"}}
		]}`))
	}))
	defer server.Close()

	source := NewSource(Config{
		URL:            server.URL,
		TTLSeconds:     3600,
		TimeoutSeconds: 5,
		MaxEntries:     2,
	}, nil)

	registry, err := source.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, registry.Pricing, 2)
}

// fakeSnapshots is an in-memory SnapshotStore.
type fakeSnapshots struct {
	stored *domain.PricingRegistry
	loads  int
	saves  int
}

func (f *fakeSnapshots) Load(_ context.Context) (*domain.PricingRegistry, error) {
	f.loads++
	return f.stored, nil
}

func (f *fakeSnapshots) Save(_ context.Context, registry *domain.PricingRegistry) error {
	f.saves++
	f.stored = registry
	return nil
}

func TestSourceFetch_ColdStartUsesFreshSnapshot(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(sampleListing))
	}))
	defer server.Close()

	snapshots := &fakeSnapshots{
		stored: domain.NewPricingRegistry(map[string]domain.ModelPricing{
			"gpt-4o": {InputPerToken: 0.000005, OutputPerToken: 0.000015},
		}, time.Now()),
	}

	source := NewSource(Config{
		URL:            server.URL,
		TTLSeconds:     3600,
		TimeoutSeconds: 5,
		MaxEntries:     10000,
	}, snapshots)

	registry, err := source.Fetch(context.Background())
	require.NoError(t, err)
	require.Contains(t, registry.Pricing, "gpt-4o")
	require.EqualValues(t, 0, requests.Load(), "a fresh snapshot must spare the network fetch")
}

func TestSourceFetch_SavesSnapshotAfterRemoteFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleListing))
	}))
	defer server.Close()

	snapshots := &fakeSnapshots{}
	source := NewSource(Config{
		URL:            server.URL,
		TTLSeconds:     3600,
		TimeoutSeconds: 5,
		MaxEntries:     10000,
	}, snapshots)

	_, err := source.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, snapshots.saves)
	require.NotNil(t, snapshots.stored)
}
