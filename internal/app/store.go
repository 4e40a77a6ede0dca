// Package app assembles the document store both binaries run against.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/umbrellashare/umbrellashare/internal/credential"
	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/featureflags"
	"github.com/umbrellashare/umbrellashare/internal/infrastructure/chaos"
	"github.com/umbrellashare/umbrellashare/internal/infrastructure/contentapi"
	"github.com/umbrellashare/umbrellashare/internal/infrastructure/memstore"
	"github.com/umbrellashare/umbrellashare/internal/infrastructure/redis"
	"github.com/umbrellashare/umbrellashare/internal/reliability/circuitbreaker"
	"github.com/umbrellashare/umbrellashare/pkg/config"
)

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend is an opened document store plus what is needed to probe and
// release it.
type Backend struct {
	Name  string
	Store domain.DocumentStore
	Probe Pinger
	close func() error
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// TokenSources is the order a content API credential is looked up in: an
// explicit override, then the persisted token file, then the deployment
// defaults from the environment (CONTENT_API_TOKEN before GITHUB_TOKEN).
func TokenSources(cfg *config.Config, override string) []credential.Source {
	tokenFile := cfg.ContentAPI.TokenFile
	if tokenFile == "" {
		tokenFile = credential.DefaultPath()
	}
	return []credential.Source{
		credential.Static(override),
		credential.File(tokenFile),
		credential.Static(cfg.ContentAPI.Token),
		credential.Env("GITHUB_TOKEN"),
	}
}

// OpenStore builds the backend selected by cfg.StoreBackend. token is only
// used by the content API backend; an empty one is allowed and makes every
// call fail as unauthenticated.
func OpenStore(cfg *config.Config, token string, log *slog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}

	var b *Backend
	switch cfg.StoreBackend {
	case config.BackendContentAPI:
		breaker := circuitbreaker.NewCircuitBreaker(5, 2, 30*time.Second)
		client, err := contentapi.New(contentapi.Config{
			BaseURL: cfg.ContentAPI.BaseURL,
			Owner:   cfg.ContentAPI.Owner,
			Repo:    cfg.ContentAPI.Repo,
			Branch:  cfg.ContentAPI.Branch,
			Token:   token,
			Timeout: cfg.ContentAPI.Timeout,
		},
			contentapi.WithLogger(log),
			contentapi.WithCircuitBreaker(breaker),
			contentapi.WithDebugLogging(featureflags.Enabled(featureflags.DebugHTTP)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create content api client: %w", err)
		}
		if token == "" {
			log.Warn("no content api token configured, store calls will be rejected")
		}
		b = &Backend{Name: config.BackendContentAPI, Store: client, Probe: client}

	case config.BackendRedis:
		client, err := redis.NewClient(cfg.RedisURL, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		b = &Backend{Name: config.BackendRedis, Store: client, Probe: client, close: client.Close}

	case config.BackendMemory:
		store := memstore.New()
		b = &Backend{Name: config.BackendMemory, Store: store, Probe: alwaysReady{}}

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	if featureflags.Enabled(featureflags.ChaosStore) {
		cs := chaos.New(b.Store, log, cfg.ChaosFaultRate, uint64(time.Now().UnixNano()))
		cs.SetEnabled(true)
		b.Store = cs
	}
	return b, nil
}

type alwaysReady struct{}

func (alwaysReady) Ping(context.Context) error { return nil }
