// Package cache provides a Redis-backed read-through cache of the incident list.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/hazard-watch/internal/domain"
	"github.com/bissquit/hazard-watch/internal/pkg/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key holding the cached incident list.
const DefaultKey = "hazardwatch:incidents:all"

// Source provides the authoritative incident list.
type Source interface {
	List(ctx context.Context) ([]domain.Incident, error)
}

// Lister serves the incident list from Redis and falls back to the source on
// a miss or when Redis is unavailable. Cached entries expire after ttl, so a
// reader may see a list that is at most ttl old if an invalidation is lost.
type Lister struct {
	client *goredis.Client
	source Source
	key    string
	ttl    time.Duration
}

// NewLister creates a cached lister.
func NewLister(client *goredis.Client, source Source, ttl time.Duration) *Lister {
	return &Lister{
		client: client,
		source: source,
		key:    DefaultKey,
		ttl:    ttl,
	}
}

// List returns the cached incident list, loading it from the source on a miss.
func (l *Lister) List(ctx context.Context) ([]domain.Incident, error) {
	data, err := l.client.Get(ctx, l.key).Bytes()
	switch {
	case err == nil:
		var list []domain.Incident
		if err := json.Unmarshal(data, &list); err == nil {
			metrics.IncidentCacheLookups.WithLabelValues("hit").Inc()
			return list, nil
		}
		slog.Warn("discarding malformed incident cache entry", "key", l.key)
		metrics.IncidentCacheLookups.WithLabelValues("error").Inc()
	case errors.Is(err, goredis.Nil):
		metrics.IncidentCacheLookups.WithLabelValues("miss").Inc()
	default:
		slog.Warn("incident cache unavailable, reading from source", "error", err)
		metrics.IncidentCacheLookups.WithLabelValues("error").Inc()
	}

	list, err := l.source.List(ctx)
	if err != nil {
		return nil, err
	}

	l.store(ctx, list)
	return list, nil
}

// Invalidate drops the cached list.
func (l *Lister) Invalidate(ctx context.Context) error {
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("invalidate incident cache: %w", err)
	}
	return nil
}

func (l *Lister) store(ctx context.Context, list []domain.Incident) {
	data, err := json.Marshal(list)
	if err != nil {
		slog.Warn("failed to encode incident cache entry", "error", err)
		return
	}
	if err := l.client.Set(ctx, l.key, data, l.ttl).Err(); err != nil {
		slog.Warn("failed to refresh incident cache", "error", err)
	}
}
