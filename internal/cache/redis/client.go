package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/metrics"
	"github.com/medivault/backend/pkg/circuitbreaker"
	"github.com/medivault/backend/pkg/logger"
)

const searchPrefix = "search"

// Client caches search results per patient. Every call goes through a
// circuit breaker so a Redis outage costs one fast error per request.
type Client struct {
	client *redis.Client
	cb     *circuitbreaker.CircuitBreaker
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		rdb.Close()
		return nil, eris.Wrap(err, "failed to connect to redis")
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	cb := circuitbreaker.NewCircuitBreaker("redis", circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})

	return &Client{client: rdb, cb: cb}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func searchKey(healthID, queryHash string) string {
	return fmt.Sprintf("%s:%s:%s", searchPrefix, healthID, queryHash)
}

func (c *Client) SetSearch(ctx context.Context, healthID, queryHash string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return eris.Wrap(err, "failed to marshal search results")
	}

	err = c.cb.Execute(ctx, func() error {
		return c.client.Set(ctx, searchKey(healthID, queryHash), data, ttl).Err()
	})
	if err != nil {
		return eris.Wrap(err, "failed to set search cache")
	}

	logger.Debug("Search results cached",
		zap.String("health_id", healthID),
		zap.String("query_hash", queryHash),
		zap.Duration("ttl", ttl),
	)
	return nil
}

// GetSearch decodes a cached entry into out. A missing key is a miss, not an
// error.
func (c *Client) GetSearch(ctx context.Context, healthID, queryHash string, out interface{}) (bool, error) {
	var data []byte
	err := c.cb.Execute(ctx, func() error {
		var err error
		data, err = c.client.Get(ctx, searchKey(healthID, queryHash)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return false, eris.Wrap(err, "failed to get search cache")
	}
	if data == nil {
		return false, nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, eris.Wrap(err, "failed to unmarshal search results")
	}

	logger.Debug("Search cache hit", zap.String("health_id", healthID), zap.String("query_hash", queryHash))
	return true, nil
}

// InvalidatePatient drops every cached search of the patient. Called when
// the patient's documents change.
func (c *Client) InvalidatePatient(ctx context.Context, healthID string) error {
	return c.cb.Execute(ctx, func() error {
		iter := c.client.Scan(ctx, 0, searchKey(healthID, "*"), 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return eris.Wrap(err, "failed to iterate cache keys")
		}
		if len(keys) == 0 {
			return nil
		}
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return eris.Wrap(err, "failed to delete cache keys")
		}
		logger.Debug("Patient search cache invalidated", zap.String("health_id", healthID), zap.Int("keys", len(keys)))
		return nil
	})
}

func (c *Client) BreakerState() circuitbreaker.State {
	return c.cb.State()
}
