package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projectJSON(slug, name string, floorEth, floorUsd float64) string {
	return fmt.Sprintf(`{
		"details": {"name": %q, "slug": %q, "ranking": 1},
		"stats": {
			"floorInfo": {"currentFloorNative": %f, "currentFloorUsd": %f},
			"floorTemporalityNative": {"diff24h": 2.5},
			"salesTemporalityNative": {"volume": {"val24h": 1234.5}, "count": {"val24h": 42}}
		}
	}`, name, slug, floorEth, floorUsd)
}

func newTestClient(baseURL string, ttl time.Duration) *Client {
	return NewClient(ClientConfig{
		APIHost:  "test.invalid",
		APIKey:   "test-key",
		CacheTTL: ttl,
		BaseURL:  baseURL,
	})
}

func TestGetSnapshotParsesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-rapidapi-key"))
		assert.Equal(t, "/projects/cryptopunks", r.URL.Path)
		fmt.Fprint(w, projectJSON("cryptopunks", "CryptoPunks", 42.5, 150000))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, time.Minute)
	snap, err := client.GetSnapshot(context.Background(), "cryptopunks")
	require.NoError(t, err)

	assert.Equal(t, "cryptopunks", snap.Slug)
	assert.Equal(t, "CryptoPunks", snap.Name)
	assert.True(t, snap.FloorEth.Equal(decimal.NewFromFloat(42.5)))
	assert.Equal(t, 42, snap.Sales24h)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestCacheIssuesOneUpstreamCallPerTTLWindow(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, projectJSON("cryptopunks", "CryptoPunks", 42.5, 150000))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, time.Minute)

	_, err := client.GetSnapshot(context.Background(), "cryptopunks")
	require.NoError(t, err)
	_, err = client.GetSnapshot(context.Background(), "cryptopunks")
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load(), "second fetch within TTL must hit the cache")
}

func TestGetSnapshotsDeduplicatesBatch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, projectJSON("cryptopunks", "CryptoPunks", 42.5, 150000))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, time.Minute)
	snaps, failed := client.GetSnapshots(context.Background(), []string{"cryptopunks", "cryptopunks", "cryptopunks"})

	assert.Empty(t, failed)
	assert.Len(t, snaps, 1)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGetSnapshotsPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/projects/broken" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, projectJSON("cryptopunks", "CryptoPunks", 42.5, 150000))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, time.Minute)
	snaps, failed := client.GetSnapshots(context.Background(), []string{"cryptopunks", "broken"})

	require.Contains(t, snaps, "cryptopunks", "one bad key must not abort the batch")
	require.Contains(t, failed, "broken")
	assert.ErrorIs(t, failed["broken"], ErrMarketDataUnavailable)
}

func TestServerErrorRetriedOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, time.Minute)
	_, err := client.GetSnapshot(context.Background(), "cryptopunks")

	require.ErrorIs(t, err, ErrMarketDataUnavailable)
	assert.Equal(t, int32(2), hits.Load(), "one immediate retry on transient failure, then surface")
}

func TestMalformedPayloadIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, time.Minute)
	_, err := client.GetSnapshot(context.Background(), "cryptopunks")
	assert.ErrorIs(t, err, ErrMarketDataUnavailable)
}

func TestSearchAndRankings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects-v2", r.URL.Path)
		fmt.Fprint(w, `{"projects": [
			{"name": "CryptoPunks", "slug": "cryptopunks", "ranking": 1,
			 "stats": {"floorInfo": {"currentFloorNative": 42.5, "currentFloorUsd": 150000},
			           "salesTemporalityNative": {"volume": {"val24h": 500}, "count": {"val24h": 10}}}},
			{"name": "Azuki", "slug": "azuki", "ranking": 2,
			 "stats": {"floorInfo": {"currentFloorNative": 10, "currentFloorUsd": 35000},
			           "salesTemporalityNative": {"volume": {"val24h": 900}, "count": {"val24h": 30}}}},
			{"name": "Wrapped CryptoPunks", "slug": "wrapped-cryptopunks", "ranking": 3,
			 "stats": {"floorInfo": {"currentFloorNative": 40, "currentFloorUsd": 140000},
			           "salesTemporalityNative": {"volume": {"val24h": 100}, "count": {"val24h": 2}}}}
		]}`)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, time.Minute)

	matches, err := client.Search(context.Background(), "cryptopunks")
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "cryptopunks", matches[0].Slug, "exact match ranks before partial matches")

	ranked, err := client.Rankings(context.Background(), 0, 2)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "azuki", ranked[0].Slug, "ordered by 24h volume")
	assert.Equal(t, "cryptopunks", ranked[1].Slug)
}
