package smarthub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/pquerna/otp/totp"
	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/types"
)

// Authenticate returns the cached credential or logs in to obtain one.
// Concurrent callers share a single login request.
func (c *Client) Authenticate(ctx context.Context) (types.Credential, error) {
	cred, _, err := c.credential(ctx)
	return cred, err
}

// RefreshAuthentication drops the session and the cached token and logs in
// again.
func (c *Client) RefreshAuthentication(ctx context.Context) error {
	c.mu.Lock()
	stale := c.cred.Token
	c.mu.Unlock()
	_, err := c.refresh(ctx, stale)
	return err
}

// InvalidateToken clears the cached token and drops the session so the next
// request logs in again over a new connection pool.
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.cred = types.Credential{}
	c.mu.Unlock()
	c.sessions.invalidate()
}

// credential returns the cached credential, logging in if there is none.
// fresh is true if a login was needed.
func (c *Client) credential(ctx context.Context) (types.Credential, bool, error) {
	c.mu.Lock()
	cred := c.cred
	c.mu.Unlock()
	if cred.Valid() {
		return cred, false, nil
	}
	cred, err := c.sharedLogin(ctx)
	if err != nil {
		return types.Credential{}, false, err
	}
	return cred, true, nil
}

// refresh replaces the stale token. If another caller already replaced it,
// the newer credential is returned without logging in again.
func (c *Client) refresh(ctx context.Context, stale string) (types.Credential, error) {
	c.mu.Lock()
	switch {
	case c.cred.Token == stale:
		c.cred = types.Credential{}
		c.mu.Unlock()
		log.Ctx(ctx).DebugContext(ctx, "refreshing smarthub authentication")
		c.sessions.invalidate()
	case c.cred.Valid():
		cred := c.cred
		c.mu.Unlock()
		return cred, nil
	default:
		c.mu.Unlock()
	}
	return c.sharedLogin(ctx)
}

func (c *Client) sharedLogin(ctx context.Context) (types.Credential, error) {
	v, err, shared := c.flight.Do("login", func() (interface{}, error) {
		c.mu.Lock()
		cred := c.cred
		c.mu.Unlock()
		if cred.Valid() {
			return cred, nil
		}

		cred, err := c.login(ctx)
		if err != nil {
			return types.Credential{}, err
		}
		c.mu.Lock()
		c.cred = cred
		c.mu.Unlock()
		return cred, nil
	})
	if err != nil {
		return types.Credential{}, err
	}
	if shared {
		log.Ctx(ctx).DebugContext(ctx, "joined in-flight smarthub login")
	}
	return v.(types.Credential), nil
}

type authResponse struct {
	AuthorizationToken string `json:"authorizationToken"`
	PrimaryUsername    string `json:"primaryUsername"`
}

// login performs the network call against the identity endpoint. A TOTP code
// is generated for every call since codes expire.
func (c *Client) login(ctx context.Context) (types.Credential, error) {
	params := url.Values{}
	params.Set("password", c.cfg.Password)
	params.Set("userId", c.cfg.Email)
	if c.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.now())
		if err != nil {
			return types.Credential{}, &AuthError{Msg: "failed to generate two factor code", Err: err}
		}
		params.Set("twoFactorCode", code)
	}

	req, err := c.newPostQueryRequest(ctx, authPath, params)
	if err != nil {
		return types.Credential{}, err
	}
	req.Header.Set("Authority", c.cfg.Host)

	log.Ctx(ctx).DebugContext(ctx, "logging in to smarthub", slog.String("host", c.cfg.Host))
	resp, err := c.sessions.acquire().Do(req)
	if err != nil {
		return types.Credential{}, &ConnectionError{Msg: "authentication request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Credential{}, &ConnectionError{Msg: "failed to read authentication response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return types.Credential{}, &AuthError{Msg: "invalid credentials"}
	case resp.StatusCode != http.StatusOK:
		return types.Credential{}, &ConnectionError{Msg: "authentication failed", StatusCode: resp.StatusCode}
	}

	var res authResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return types.Credential{}, &DataError{Msg: "invalid authentication response", Err: err}
	}
	if res.AuthorizationToken == "" {
		return types.Credential{}, &DataError{Msg: "no authorization token in response"}
	}
	if res.PrimaryUsername == "" {
		res.PrimaryUsername = c.cfg.Email
	}

	log.Ctx(ctx).DebugContext(ctx, "smarthub login success", slog.String("primaryUsername", res.PrimaryUsername))
	return types.Credential{
		Token:           res.AuthorizationToken,
		PrimaryUsername: res.PrimaryUsername,
	}, nil
}
