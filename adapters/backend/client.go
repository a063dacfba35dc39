// Package backend is the HTTP client of the passport REST backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

const apiPrefix = "/api/v1"

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithProjectCache sets how many verified project identifiers are kept and
// for how long.
func WithProjectCache(size int, ttl time.Duration) Option {
	return func(cl *Client) { cl.verified = expirable.NewLRU[string, string](size, nil, ttl) }
}

// WithLogger sets the client logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.log = l
		}
	}
}

// Client implements ports.Backend over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     logrus.FieldLogger

	verified *expirable.LRU[string, string]
	group    singleflight.Group
}

var _ ports.Backend = (*Client)(nil)

// NewClient creates a client of the backend at baseURL authenticating with
// apiKey.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      discard,
		verified: expirable.NewLRU[string, string](256, nil, 5*time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type call struct {
	method  string
	path    string
	headers map[string]string
	body    any
	out     any
}

func (c *Client) do(ctx context.Context, cl call) error {
	var body io.Reader
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", cl.path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+apiPrefix+cl.path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cl.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("path", cl.path).Warn("backend request failed")
		return fmt.Errorf("%s %s: %w", cl.method, cl.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e ports.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		c.log.WithFields(logrus.Fields{"path": cl.path, "status": resp.StatusCode, "code": e.Code}).Warn("backend rejected request")
		return fmt.Errorf("%s %s: %w", cl.method, cl.path, ports.WireError(e))
	}
	if cl.out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
		return fmt.Errorf("decode %s: %w", cl.path, err)
	}
	return nil
}

func bearer(access string) string {
	return "Bearer " + access
}

func (c *Client) VerifyAPIKey(ctx context.Context) error {
	return c.do(ctx, call{
		method:  http.MethodGet,
		path:    "/verify-api-key",
		headers: map[string]string{ports.HeaderAPIKey: c.apiKey},
	})
}

// ProjectIdentifier returns the project of the client's api key.
func (c *Client) ProjectIdentifier(ctx context.Context) (string, error) {
	const cacheKey = "api-key"
	if ident, ok := c.verified.Get(cacheKey); ok {
		return ident, nil
	}
	v, err, _ := c.group.Do(cacheKey, func() (any, error) {
		var out struct {
			ProjectIdentifier string `json:"project_identifier"`
		}
		err := c.do(ctx, call{
			method:  http.MethodGet,
			path:    "/project",
			headers: map[string]string{ports.HeaderAPIKey: c.apiKey},
			out:     &out,
		})
		if err != nil {
			return "", err
		}
		c.verified.Add(cacheKey, out.ProjectIdentifier)
		c.verified.Add("ident:"+out.ProjectIdentifier, out.ProjectIdentifier)
		return out.ProjectIdentifier, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// VerifyProjectIdentifier checks ident with the backend. Accepted
// identifiers are cached; concurrent checks of one identifier share a call.
func (c *Client) VerifyProjectIdentifier(ctx context.Context, ident string) error {
	if ident == "" {
		return core.ErrProjectIdentifierMissing
	}
	key := "ident:" + ident
	if _, ok := c.verified.Get(key); ok {
		return nil
	}
	_, err, _ := c.group.Do(key, func() (any, error) {
		err := c.do(ctx, call{
			method:  http.MethodGet,
			path:    "/project/verify",
			headers: map[string]string{ports.HeaderProjectIdentifier: ident},
		})
		if err == nil {
			c.verified.Add(key, ident)
		}
		return nil, err
	})
	return err
}

func (c *Client) OAuthRedirect(ctx context.Context, req ports.RedirectRequest) (ports.RedirectResponse, error) {
	var out ports.RedirectResponse
	err := c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/oauth/redirect",
		headers: map[string]string{ports.HeaderProjectIdentifier: req.ProjectIdentifier},
		body:    req,
		out:     &out,
	})
	return out, err
}

func (c *Client) Challenge(ctx context.Context, address string) (ports.ChallengeResponse, error) {
	var out ports.ChallengeResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/challenge",
		body:   map[string]string{"address": address},
		out:    &out,
	})
	return out, err
}

// Register exchanges identity sessions for tokens.
func (c *Client) Register(ctx context.Context, req ports.RegisterRequest) (core.Tokens, error) {
	var out core.Tokens
	err := c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/token",
		headers: map[string]string{ports.HeaderProjectIdentifier: req.ProjectIdentifier},
		body:    req,
		out:     &out,
	})
	if err != nil {
		return core.Tokens{}, err
	}
	if out.Access == "" || out.Refresh == "" {
		return core.Tokens{}, errors.New("register: backend returned no tokens")
	}
	return out, nil
}

func (c *Client) UpdateCurrentSession(ctx context.Context, access string, s core.CurrentSession) error {
	return c.do(ctx, call{
		method: http.MethodPost,
		path:   "/me",
		headers: map[string]string{
			ports.HeaderAuthorization:  bearer(access),
			ports.HeaderUserIdentifier: s.UID,
		},
		body: s,
	})
}

func (c *Client) VerifyToken(ctx context.Context, access string) (core.User, error) {
	var out core.User
	err := c.do(ctx, call{
		method:  http.MethodGet,
		path:    "/token/verify",
		headers: map[string]string{ports.HeaderAuthorization: bearer(access)},
		out:     &out,
	})
	return out, err
}
