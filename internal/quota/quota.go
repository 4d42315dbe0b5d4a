// Package quota resolves per-user alert quotas from the billing service.
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tradepulse/alertd/internal/config"
	"github.com/tradepulse/alertd/pkg/cache"
	"go.uber.org/zap"
)

// DefaultMaxAlerts applies when billing is unreachable or returns no
// entitlement. Creation stays available under a conservative cap rather
// than failing closed.
const DefaultMaxAlerts = 10

var ErrQuotaUnavailable = errors.New("quota_unavailable")

// Resolver answers how many concurrent alerts a user may keep.
type Resolver interface {
	MaxAlerts(ctx context.Context, userID snowflake.ID) (int, error)
}

type entitlementResponse struct {
	MaxAlerts int `json:"max_alerts"`
}

type httpResolver struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPResolver(cfg config.Config, log *zap.Logger) Resolver {
	return &httpResolver{
		baseURL: cfg.BillingBaseURL,
		client:  &http.Client{Timeout: cfg.BillingTimeout},
		log:     log.Named("quota.resolver"),
	}
}

func (r *httpResolver) MaxAlerts(ctx context.Context, userID snowflake.ID) (int, error) {
	if r.baseURL == "" {
		return DefaultMaxAlerts, nil
	}

	url := fmt.Sprintf("%s/v1/users/%s/entitlements/alerts", r.baseURL, userID.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQuotaUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return DefaultMaxAlerts, nil
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("%w: status %d", ErrQuotaUnavailable, resp.StatusCode)
	}

	var entitlement entitlementResponse
	if err := json.NewDecoder(resp.Body).Decode(&entitlement); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQuotaUnavailable, err)
	}
	if entitlement.MaxAlerts <= 0 {
		return DefaultMaxAlerts, nil
	}
	return entitlement.MaxAlerts, nil
}

// cachedResolver memoizes quota lookups so alert creation does not hit
// billing on every request.
type cachedResolver struct {
	next  Resolver
	cache cache.Cache[snowflake.ID, int]
	log   *zap.Logger
}

func NewCachedResolver(next Resolver, ttl time.Duration, log *zap.Logger) Resolver {
	return &cachedResolver{
		next:  next,
		cache: cache.NewTTLCache[snowflake.ID, int](ttl),
		log:   log.Named("quota.cache"),
	}
}

func (r *cachedResolver) MaxAlerts(ctx context.Context, userID snowflake.ID) (int, error) {
	if max, ok := r.cache.Get(userID); ok {
		return max, nil
	}

	max, err := r.next.MaxAlerts(ctx, userID)
	if err != nil {
		r.log.Warn("quota lookup failed, applying default cap",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return DefaultMaxAlerts, nil
	}

	r.cache.Set(userID, max)
	return max, nil
}
