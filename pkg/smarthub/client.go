package smarthub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/smarthubsync/smarthubsync/pkg/common"
	"github.com/smarthubsync/smarthubsync/pkg/types"
	"golang.org/x/sync/singleflight"
)

const (
	authPath     = "services/oauth/auth/v2"
	userDataPath = "services/secured/user-data"
	pollPath     = "services/secured/utility-usage/poll"
)

// Client talks to the SmartHub API on behalf of a single account. It owns the
// pooled HTTP session and the bearer credential and is safe for concurrent
// use.
type Client struct {
	cfg      Config
	baseURL  string
	loc      *time.Location
	sessions *sessionManager
	now      func() time.Time

	mu     sync.Mutex
	cred   types.Credential
	flight singleflight.Group
}

// New validates the config and returns a client for it.
func New(cfg Config) (*Client, error) {
	c := &Client{}
	if err := c.init(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) init(cfg Config) error {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone: %w", err)
	}
	c.cfg = cfg
	c.baseURL = "https://" + cfg.Host
	c.loc = loc
	c.now = time.Now
	c.sessions = newSessionManager(SessionTTL, func() *http.Client {
		return common.PooledHTTPClient(cfg.Timeout, common.DefaultMaxConnsPerHost)
	})
	return nil
}

// AccountID returns the configured account number.
func (c *Client) AccountID() string {
	return c.cfg.AccountID
}

// Location returns the time zone the provider reports usage in.
func (c *Client) Location() *time.Location {
	return c.loc
}

// Close drops the pooled session. The client can still be used afterwards;
// a new session is created on the next request.
func (c *Client) Close() error {
	c.sessions.invalidate()
	return nil
}

func (c *Client) endpointURL(endpoint string) (*url.URL, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := c.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}
	u.RawQuery = params.Encode()
	return http.NewRequestWithContext(ctx, "GET", u.String(), nil)
}

func (c *Client) newPostQueryRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := c.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}
	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (c *Client) newPostJSONRequest(ctx context.Context, endpoint string, data interface{}) (*http.Request, error) {
	u, err := c.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(body))
}

func (c *Client) setAuthHeaders(req *http.Request, cred types.Credential) {
	req.Header.Set("Authority", c.cfg.Host)
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Nisc-Smarthub-Username", c.cfg.Email)
}
