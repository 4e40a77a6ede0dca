// Package redis provides a domain.DocumentStore backed by Redis hashes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/observability/metrics"
)

const (
	keyPrefix    = "doc:"
	fieldBody    = "body"
	fieldVersion = "version"
)

// Client stores each document as a hash {body, version} under doc:<key>.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewClient connects to url and verifies the connection.
func NewClient(url string, logger *slog.Logger) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewFromRedis(rdb, logger), nil
}

// NewFromRedis wraps an existing connection.
func NewFromRedis(rdb *redis.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{rdb: rdb, logger: logger}
}

// Get returns the document under key.
func (c *Client) Get(ctx context.Context, key string) (*domain.Document, error) {
	start := time.Now()
	doc, err := c.get(ctx, key)
	metrics.ObserveStore("redis", "get", resultLabel(err), time.Since(start))
	return doc, err
}

func (c *Client) get(ctx context.Context, key string) (*domain.Document, error) {
	vals, err := c.rdb.HMGet(ctx, keyPrefix+key, fieldBody, fieldVersion).Result()
	if err != nil {
		return nil, &domain.StoreError{Op: "get", Key: key, Kind: domain.ErrTransport, Err: err}
	}
	body, _ := vals[0].(string)
	version, _ := vals[1].(string)
	if version == "" {
		return nil, &domain.StoreError{Op: "get", Key: key, Kind: domain.ErrNotFound}
	}
	return &domain.Document{Key: key, Body: json.RawMessage(body), Version: version}, nil
}

// Put writes body under WATCH so a concurrent writer aborts the transaction.
func (c *Client) Put(ctx context.Context, key string, body any, expectedVersion string) (string, error) {
	start := time.Now()
	version, err := c.put(ctx, key, body, expectedVersion)
	metrics.ObserveStore("redis", "put", resultLabel(err), time.Since(start))
	return version, err
}

func (c *Client) put(ctx context.Context, key string, body any, expectedVersion string) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	hk := keyPrefix + key
	version := uuid.NewString()

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, hk, fieldVersion).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if expectedVersion != "" && current != expectedVersion {
			return &domain.StoreError{Op: "put", Key: key, Kind: domain.ErrConflict,
				Err: fmt.Errorf("expected version %q, store has %q", expectedVersion, current)}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hk, fieldBody, string(data), fieldVersion, version)
			return nil
		})
		return err
	}, hk)

	var se *domain.StoreError
	switch {
	case err == nil:
	case errors.As(err, &se):
		return "", err
	case errors.Is(err, redis.TxFailedErr):
		return "", &domain.StoreError{Op: "put", Key: key, Kind: domain.ErrConflict, Err: err}
	default:
		return "", &domain.StoreError{Op: "put", Key: key, Kind: domain.ErrTransport, Err: err}
	}

	c.logger.Debug("document written", slog.String("key", key), slog.String("version", version))
	return version, nil
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
