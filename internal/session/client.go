package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentdash/internal/credentials"
	"agentdash/internal/logging"
)

// DefaultMaxRefreshRetries bounds refresh-and-retry on a 401 answer.
const DefaultMaxRefreshRetries = 1

// Client is the session object: it owns the credential store, resolves
// valid tokens and performs authenticated calls against the backend.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	stream  *http.Client
	creds   *credentials.Credentials
	logger  *slog.Logger
	now     func() time.Time

	maxRefreshRetries int

	// refreshMu keeps a single writer on the credential store during refresh.
	refreshMu sync.Mutex

	mu   sync.RWMutex
	user *User
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
		c.stream = &http.Client{Transport: hc.Transport}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func WithMaxRefreshRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRefreshRetries = n
		}
	}
}

func New(baseURL string, creds *credentials.Credentials, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:           base,
		http:              &http.Client{Timeout: 30 * time.Second},
		stream:            &http.Client{},
		creds:             creds,
		logger:            logging.Discard(),
		now:               time.Now,
		maxRefreshRetries: DefaultMaxRefreshRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request describes one backend call. Body is JSON-encoded when non-nil.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// ResolveToken returns a token that is not known to be expired.
func (c *Client) ResolveToken(ctx context.Context) (string, error) {
	tok, ok, err := c.creds.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	if !ok {
		return "", ErrAuthRequired
	}
	return c.EnsureValidToken(ctx, tok)
}

// EnsureValidToken returns token unchanged while its exp is in the future and
// refreshes it otherwise.
func (c *Client) EnsureValidToken(ctx context.Context, token string) (string, error) {
	if !Expired(token, c.now()) {
		return token, nil
	}
	c.logger.Debug("token expired, refreshing")
	return c.refresh(ctx, token)
}

func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Someone else may have swapped the token while we waited.
	if cur, ok, err := c.creds.Token(ctx); err == nil && ok && cur != stale && !Expired(cur, c.now()) {
		return cur, nil
	}

	var out tokenResponse
	err := c.publicJSON(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/refresh",
		Body:   map[string]string{"token": stale},
	}, &out)
	switch {
	case err != nil:
	case out.AccessToken == "":
		err = fmt.Errorf("refresh returned no access_token")
	case Expired(out.AccessToken, c.now()):
		err = fmt.Errorf("refresh returned an expired token")
	}
	if err != nil {
		c.logger.Warn("token refresh failed", "err", err)
		c.dropSession(ctx)
		return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if err := c.creds.SetToken(ctx, out.AccessToken); err != nil {
		return "", fmt.Errorf("store refreshed token: %w", err)
	}
	c.logger.Info("token refreshed")
	return out.AccessToken, nil
}

func (c *Client) dropSession(ctx context.Context) {
	if err := c.creds.ClearToken(ctx); err != nil {
		c.logger.Error("clear credentials", "err", err)
	}
	c.setUser(nil)
}

type sendFunc func(ctx context.Context, token string) (*http.Response, error)

// withRefreshRetry re-sends after a refresh when the backend answers 401,
// at most maxRefreshRetries times. Exhausting the bound ends the session.
func (c *Client) withRefreshRetry(ctx context.Context, token string, send sendFunc) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := send(ctx, token)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		drainAndClose(resp.Body)
		if attempt >= c.maxRefreshRetries {
			c.logger.Warn("request unauthorized after refresh", "attempts", attempt+1)
			c.dropSession(ctx)
			return nil, ErrSessionExpired
		}
		token, err = c.refresh(ctx, token)
		if err != nil {
			return nil, err
		}
	}
}

// Do performs an authenticated request. The caller closes the body.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	token, err := c.ResolveToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.withRefreshRetry(ctx, token, func(ctx context.Context, token string) (*http.Response, error) {
		return c.send(ctx, c.http, req, token)
	})
}

// DoJSON performs an authenticated request and decodes a 2xx body into out.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func (c *Client) publicJSON(ctx context.Context, req Request, out any) error {
	resp, err := c.send(ctx, c.http, req, "")
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

// OpenStream opens a server-sent event stream. The token travels in the
// query string because event streams cannot carry headers in browsers and the
// backend contract keeps that shape.
func (c *Client) OpenStream(ctx context.Context, path string) (*http.Response, error) {
	token, err := c.ResolveToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, c.stream, Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  url.Values{"token": {token}},
	}, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer drainAndClose(resp.Body)
		return nil, readError(resp)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, hc *http.Client, req Request, token string) (*http.Response, error) {
	u := c.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("X-Request-ID", requestID)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := c.now()
	resp, err := hc.Do(httpReq)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", req.Path, "request_id", requestID, "err", err)
		return nil, err
	}
	c.logger.Debug("request",
		"method", method,
		"path", req.Path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"elapsed", c.now().Sub(start),
	)
	return resp, nil
}

func decodeResponse(resp *http.Response, out any) error {
	defer drainAndClose(resp.Body)
	if resp.StatusCode/100 != 2 {
		return readError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// User returns a copy of the cached account, or nil before a successful check.
func (c *Client) User() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

func (c *Client) setUser(u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
}
