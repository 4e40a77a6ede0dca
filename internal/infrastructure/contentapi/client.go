// Package contentapi stores JSON documents as files in a remote repository
// through its file-content HTTP API (GitHub "contents" API shape). The file's
// blob SHA is the document version token.
package contentapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/observability/metrics"
	"github.com/umbrellashare/umbrellashare/internal/observability/tracing"
	"github.com/umbrellashare/umbrellashare/internal/reliability/circuitbreaker"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"

	backendName  = "contentapi"
	maxErrorBody = 4 << 10
)

// Config locates the repository that holds the documents.
type Config struct {
	BaseURL string
	Owner   string
	Repo    string
	Branch  string
	Token   string
	Timeout time.Duration
}

// Client implements domain.DocumentStore against the content API.
type Client struct {
	baseURL string
	owner   string
	repo    string
	branch  string
	token   string

	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// New constructs a Client. An empty token is accepted; every operation then
// fails with domain.ErrUnauthenticated without touching the network.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("contentapi: owner and repo are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		branch:  cfg.Branch,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.http.Transport = &tokenTransport{base: tracing.Transport(c.http.Transport), token: c.token}
	if c.breaker != nil {
		c.breaker.SetStateChangeCallback(func(from, to circuitbreaker.State) {
			c.logger.Warn("content api circuit breaker changed state",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.ObserveBreakerTransition(to.String())
		})
	}
	return c, nil
}

// contentFile is the subset of the API's file representation we rely on.
type contentFile struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content contentFile `json:"content"`
}

type apiError struct {
	Message string `json:"message"`
}

// Get fetches and decodes the document stored under key.
func (c *Client) Get(ctx context.Context, key string) (*domain.Document, error) {
	start := time.Now()
	doc, err := c.get(ctx, "get", key)
	metrics.ObserveStore(backendName, "get", resultLabel(err), time.Since(start))
	return doc, err
}

// Put writes body under key. The current version is always read first
// because the API rejects overwrites that do not carry it.
func (c *Client) Put(ctx context.Context, key string, body any, expectedVersion string) (string, error) {
	start := time.Now()
	version, err := c.put(ctx, key, body, expectedVersion)
	metrics.ObserveStore(backendName, "put", resultLabel(err), time.Since(start))
	return version, err
}

// Ping checks that the repository is reachable with the configured credential.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.precheck("ping", ""); err != nil {
		return err
	}
	u := fmt.Sprintf("%s/repos/%s/%s", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo))
	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &domain.StoreError{Op: "ping", Kind: domain.ErrTransport, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.statusError("ping", "", resp)
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, key string) (*domain.Document, error) {
	if err := c.precheck(op, key); err != nil {
		return nil, err
	}
	u, err := c.contentsURL(key)
	if err != nil {
		return nil, err
	}
	if c.branch != "" {
		u += "?ref=" + url.QueryEscape(c.branch)
	}

	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &domain.StoreError{Op: op, Key: key, Kind: domain.ErrTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(op, key, resp)
	}

	var file contentFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, &domain.StoreError{Op: op, Key: key, Kind: domain.ErrTransport, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	body, err := decodeContent(file)
	if err != nil {
		return nil, &domain.StoreError{Op: op, Key: key, Kind: domain.ErrTransport, StatusCode: resp.StatusCode, Err: err}
	}
	return &domain.Document{Key: key, Body: body, Version: file.SHA}, nil
}

func (c *Client) put(ctx context.Context, key string, body any, expectedVersion string) (string, error) {
	if err := c.precheck("put", key); err != nil {
		return "", err
	}

	current := ""
	existing, err := c.get(ctx, "put", key)
	switch {
	case err == nil:
		current = existing.Version
	case errors.Is(err, domain.ErrNotFound):
	default:
		return "", err
	}
	if expectedVersion != "" && expectedVersion != current {
		return "", &domain.StoreError{Op: "put", Key: key, Kind: domain.ErrConflict,
			Err: fmt.Errorf("expected version %q, store has %q", expectedVersion, current)}
	}

	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	payload, err := json.Marshal(putRequest{
		Message: domain.CommitMessage(ctx, "Update "+key),
		Content: base64.StdEncoding.EncodeToString(data),
		Branch:  c.branch,
		SHA:     current,
	})
	if err != nil {
		return "", fmt.Errorf("encode request for %s: %w", key, err)
	}

	u, err := c.contentsURL(key)
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, http.MethodPut, u, payload)
	if err != nil {
		return "", &domain.StoreError{Op: "put", Key: key, Kind: domain.ErrTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", c.statusError("put", key, resp)
	}

	var out putResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &domain.StoreError{Op: "put", Key: key, Kind: domain.ErrTransport, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Content.SHA == "" {
		return "", &domain.StoreError{Op: "put", Key: key, Kind: domain.ErrTransport, StatusCode: resp.StatusCode, Err: errors.New("response carried no version")}
	}

	c.logger.Debug("document written",
		slog.String("key", key),
		slog.String("version", out.Content.SHA),
		slog.Bool("created", current == ""),
	)
	return out.Content.SHA, nil
}

func (c *Client) precheck(op, key string) error {
	if c.token == "" {
		return &domain.StoreError{Op: op, Key: key, Kind: domain.ErrUnauthenticated, Err: errors.New("no credential configured")}
	}
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return &domain.StoreError{Op: op, Key: key, Kind: domain.ErrTransport, Err: err}
		}
	}
	return nil
}

// do issues one request and feeds the outcome into the circuit breaker.
func (c *Client) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if c.breaker != nil {
		if err != nil || resp.StatusCode >= http.StatusInternalServerError {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
	}
	return resp, err
}

func (c *Client) statusError(op, key string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var ae apiError
	detail := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &ae) == nil && ae.Message != "" {
		detail = ae.Message
	}
	return &domain.StoreError{
		Op:         op,
		Key:        key,
		Kind:       classifyStatus(resp),
		StatusCode: resp.StatusCode,
		Err:        errors.New(detail),
	}
}

// classifyStatus maps an unsuccessful response onto the store taxonomy.
func classifyStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized:
		return domain.ErrUnauthenticated
	case http.StatusForbidden:
		// Rate limiting is reported as 403 with an exhausted quota.
		if resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != "" {
			return domain.ErrTransport
		}
		return domain.ErrUnauthenticated
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return domain.ErrConflict
	default:
		return domain.ErrTransport
	}
}

func (c *Client) contentsURL(key string) (string, error) {
	p, err := EscapeKey(key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo), p), nil
}

// EscapeKey escapes each "/"-separated segment of key on its own so the
// separators keep addressing directories.
func EscapeKey(key string) (string, error) {
	trimmed := strings.Trim(key, "/")
	if trimmed == "" {
		return "", fmt.Errorf("invalid document key %q", key)
	}
	segs := strings.Split(trimmed, "/")
	for i, s := range segs {
		if s == "" || s == "." || s == ".." {
			return "", fmt.Errorf("invalid document key %q", key)
		}
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/"), nil
}

// decodeContent turns the transport encoding back into JSON bytes. The API
// wraps base64 output at 60 columns.
func decodeContent(file contentFile) ([]byte, error) {
	if file.Type != "" && file.Type != "file" {
		return nil, fmt.Errorf("path is a %s, not a file", file.Type)
	}
	var data []byte
	switch file.Encoding {
	case "base64":
		clean := strings.NewReplacer("\n", "", "\r", "").Replace(file.Content)
		decoded, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("decode base64 content: %w", err)
		}
		data = decoded
	case "", "utf-8":
		data = []byte(file.Content)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", file.Encoding)
	}
	if !json.Valid(data) {
		return nil, errors.New("document body is not valid JSON")
	}
	return data, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "error"
	}
}
