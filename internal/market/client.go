package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const projectsPageLimit = 1000

// ClientConfig configuration of the market data client
type ClientConfig struct {
	APIHost  string
	APIKey   string
	CacheTTL time.Duration
	// BaseURL overrides the https://{APIHost} prefix. Used by tests.
	BaseURL string
}

func (c ClientConfig) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://" + c.APIHost
}

// Client queries the NFTPriceFloor API with a read-through TTL cache in front
// of it. Within one TTL window at most one upstream call is issued per unique
// collection slug.
type Client struct {
	http      *retryablehttp.Client
	config    ClientConfig
	snapshots *lru.LRU[string, Snapshot]
	listings  *lru.LRU[string, []Snapshot]
}

// NewClient creates a new market data client
func NewClient(c ClientConfig) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 1
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil

	return &Client{
		http:      rc,
		config:    c,
		snapshots: lru.NewLRU[string, Snapshot](512, nil, c.CacheTTL),
		listings:  lru.NewLRU[string, []Snapshot](4, nil, c.CacheTTL),
	}
}

// GetSnapshot returns the current snapshot for a single collection slug.
func (c *Client) GetSnapshot(ctx context.Context, slug string) (Snapshot, error) {
	if snap, ok := c.snapshots.Get(projectCacheKey(slug)); ok {
		log.Debugf("cache hit for project: %s", slug)
		return snap, nil
	}

	snap, err := c.fetchProject(ctx, slug)
	if err != nil {
		return Snapshot{}, err
	}

	c.snapshots.Add(projectCacheKey(slug), snap)
	return snap, nil
}

// GetSnapshots fetches snapshots for a set of slugs. Duplicates are collapsed
// before dispatch. The returned map holds every slug that resolved; slugs that
// failed are reported in the second map with their reasons and never abort the
// rest of the batch.
func (c *Client) GetSnapshots(ctx context.Context, slugs []string) (map[string]Snapshot, map[string]error) {
	snaps := make(map[string]Snapshot, len(slugs))
	failed := make(map[string]error)

	seen := make(map[string]struct{}, len(slugs))
	for _, slug := range slugs {
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}

		if err := ctx.Err(); err != nil {
			failed[slug] = errors.Wrap(ErrMarketDataUnavailable, err.Error())
			continue
		}

		snap, err := c.GetSnapshot(ctx, slug)
		if err != nil {
			log.Debugf("snapshot fetch failed for %s: %v", slug, err)
			failed[slug] = err
			continue
		}
		snaps[slug] = snap
	}

	return snaps, failed
}

// Search filters the cached projects listing by collection name or slug.
func (c *Client) Search(ctx context.Context, query string) ([]Snapshot, error) {
	projects, err := c.projects(ctx)
	if err != nil {
		return nil, err
	}

	term := strings.ToLower(strings.TrimSpace(query))

	// Exact matches first so "cryptopunks" does not surface wrapped variants.
	var exact, partial []Snapshot
	for _, p := range projects {
		name := strings.ToLower(p.Name)
		slug := strings.ToLower(p.Slug)
		switch {
		case term == name || term == slug:
			exact = append(exact, p)
		case strings.Contains(name, term) || strings.Contains(slug, term):
			partial = append(partial, p)
		}
	}

	return append(exact, partial...), nil
}

// Rankings returns collections ordered by 24h volume, highest first.
func (c *Client) Rankings(ctx context.Context, offset, limit int) ([]Snapshot, error) {
	projects, err := c.projects(ctx)
	if err != nil {
		return nil, err
	}

	ranked := make([]Snapshot, len(projects))
	copy(ranked, projects)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Volume24h.GreaterThan(ranked[j].Volume24h)
	})

	if offset >= len(ranked) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ranked) {
		end = len(ranked)
	}
	return ranked[offset:end], nil
}

func (c *Client) projects(ctx context.Context) ([]Snapshot, error) {
	if cached, ok := c.listings.Get(projectsCacheKey()); ok {
		log.Debug("cache hit for projects listing")
		return cached, nil
	}

	url := fmt.Sprintf("%s/projects-v2?offset=0&limit=%d", c.config.baseURL(), projectsPageLimit)

	var payload struct {
		Projects []projectPayload `json:"projects"`
	}
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}

	now := time.Now()
	snaps := make([]Snapshot, 0, len(payload.Projects))
	for _, p := range payload.Projects {
		snaps = append(snaps, p.toSnapshot(now))
	}

	c.listings.Add(projectsCacheKey(), snaps)
	return snaps, nil
}

func (c *Client) fetchProject(ctx context.Context, slug string) (Snapshot, error) {
	url := fmt.Sprintf("%s/projects/%s", c.config.baseURL(), slug)

	var payload struct {
		Details struct {
			Name    string `json:"name"`
			Slug    string `json:"slug"`
			Ranking int    `json:"ranking"`
		} `json:"details"`
		Stats statsPayload `json:"stats"`
	}
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return Snapshot{}, err
	}

	snap := payload.Stats.toSnapshot(time.Now())
	snap.Slug = payload.Details.Slug
	snap.Name = payload.Details.Name
	snap.Ranking = payload.Details.Ranking
	if snap.Slug == "" {
		snap.Slug = slug
	}
	return snap, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "could not build market data request")
	}
	req.Header.Set("x-rapidapi-key", c.config.APIKey)
	req.Header.Set("x-rapidapi-host", c.config.APIHost)

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(ErrMarketDataUnavailable, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrMarketDataUnavailable, "unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(ErrMarketDataUnavailable, "malformed payload: %v", err)
	}
	return nil
}

type projectPayload struct {
	Name    string       `json:"name"`
	Slug    string       `json:"slug"`
	Ranking int          `json:"ranking"`
	Stats   statsPayload `json:"stats"`
}

type statsPayload struct {
	FloorInfo struct {
		CurrentFloorNative float64 `json:"currentFloorNative"`
		CurrentFloorUsd    float64 `json:"currentFloorUsd"`
	} `json:"floorInfo"`
	FloorTemporalityNative struct {
		Diff24h float64 `json:"diff24h"`
	} `json:"floorTemporalityNative"`
	SalesTemporalityNative struct {
		Volume struct {
			Val24h float64 `json:"val24h"`
		} `json:"volume"`
		Count struct {
			Val24h int `json:"val24h"`
		} `json:"count"`
	} `json:"salesTemporalityNative"`
}

func (p projectPayload) toSnapshot(at time.Time) Snapshot {
	snap := p.Stats.toSnapshot(at)
	snap.Slug = p.Slug
	snap.Name = p.Name
	snap.Ranking = p.Ranking
	return snap
}

func (s statsPayload) toSnapshot(at time.Time) Snapshot {
	return Snapshot{
		FloorEth:       decimal.NewFromFloat(s.FloorInfo.CurrentFloorNative),
		FloorUsd:       decimal.NewFromFloat(s.FloorInfo.CurrentFloorUsd),
		FloorChange24h: s.FloorTemporalityNative.Diff24h,
		Volume24h:      decimal.NewFromFloat(s.SalesTemporalityNative.Volume.Val24h),
		Sales24h:       s.SalesTemporalityNative.Count.Val24h,
		FetchedAt:      at,
	}
}
