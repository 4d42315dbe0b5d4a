// Package marketdata adapts the analytics service into metric snapshots
// the evaluator can consume.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tradepulse/alertd/internal/condition"
	"github.com/tradepulse/alertd/internal/config"
	"github.com/tradepulse/alertd/pkg/cache"
	"go.uber.org/zap"
)

var ErrSourceUnavailable = errors.New("metric_source_unavailable")

// Source produces a point-in-time metric snapshot for one user, optionally
// scoped to a symbol. A partial snapshot is not an error; conditions over
// missing fields simply do not match.
type Source interface {
	Snapshot(ctx context.Context, userID snowflake.ID, symbol string) (condition.Snapshot, error)
}

type httpSource struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPSource(cfg config.Config, log *zap.Logger) Source {
	return &httpSource{
		baseURL: cfg.AnalyticsBaseURL,
		client:  &http.Client{Timeout: cfg.AnalyticsTimeout},
		log:     log.Named("marketdata.source"),
	}
}

func (s *httpSource) Snapshot(ctx context.Context, userID snowflake.ID, symbol string) (condition.Snapshot, error) {
	endpoint := fmt.Sprintf("%s/v1/users/%s/metrics", s.baseURL, userID.String())
	if symbol != "" {
		endpoint += "?symbol=" + url.QueryEscape(symbol)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var values map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	snapshot := condition.SnapshotFromAny(values)
	if symbol != "" {
		snapshot["symbol"] = condition.String(symbol)
	}
	return snapshot, nil
}

type snapshotKey struct {
	userID snowflake.ID
	symbol string
}

// cachedSource deduplicates snapshot fetches within an evaluation batch.
// The TTL is short; staleness beyond one scheduler tick is never served.
type cachedSource struct {
	next  Source
	cache cache.Cache[snapshotKey, condition.Snapshot]
}

func NewCachedSource(next Source, ttl time.Duration) Source {
	return &cachedSource{
		next:  next,
		cache: cache.NewTTLCache[snapshotKey, condition.Snapshot](ttl),
	}
}

func (s *cachedSource) Snapshot(ctx context.Context, userID snowflake.ID, symbol string) (condition.Snapshot, error) {
	key := snapshotKey{userID: userID, symbol: symbol}
	if snapshot, ok := s.cache.Get(key); ok {
		return snapshot, nil
	}

	snapshot, err := s.next.Snapshot(ctx, userID, symbol)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, snapshot)
	return snapshot, nil
}
