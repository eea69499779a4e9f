package smarthub

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/types"
)

// PollStatus classifies a response from an authenticated endpoint.
type PollStatus int

const (
	// PollPending means the provider is still preparing the data and the
	// request should be repeated after the retry delay.
	PollPending PollStatus = iota
	// PollComplete means the response carried the requested data.
	PollComplete
	// PollNoData means the provider has nothing to return. It is not an
	// error.
	PollNoData
)

func (s PollStatus) String() string {
	switch s {
	case PollPending:
		return "pending"
	case PollComplete:
		return "complete"
	case PollNoData:
		return "no data"
	default:
		return "unknown"
	}
}

type requestBuilder func(ctx context.Context, cred types.Credential) (*http.Request, error)

// classifier inspects the body of a 200 response.
type classifier func(body []byte) (PollStatus, error)

// doWithRetry runs one logical authenticated request with up to MaxRetries
// attempts. A 401 triggers one token refresh per call and is retried without
// waiting; a token obtained at the start of the call counts as that refresh.
// Any other non-200 status fails immediately. Transport failures and pending
// responses are retried after RetryDelay. A request that is still pending
// when the attempts run out resolves to PollNoData.
func (c *Client) doWithRetry(ctx context.Context, name string, build requestBuilder, classify classifier) (PollStatus, error) {
	var refreshed bool
	var pending bool
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		l := log.Ctx(ctx).With(slog.String("request", name), slog.Int("attempt", attempt))

		cred, fresh, err := c.credential(ctx)
		if err != nil {
			return PollNoData, err
		}
		if fresh {
			refreshed = true
		}

		req, err := build(ctx, cred)
		if err != nil {
			return PollNoData, err
		}

		resp, err := c.sessions.acquire().Do(req)
		var body []byte
		if err == nil {
			body, err = io.ReadAll(resp.Body)
			resp.Body.Close()
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return PollNoData, ctxErr
			}
			l.WarnContext(ctx, "smarthub request failed", slog.Any("error", err))
			lastErr = err
			pending = false
			if attempt < c.cfg.MaxRetries {
				if err := c.wait(ctx); err != nil {
					return PollNoData, err
				}
			}
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			if refreshed {
				return PollNoData, &AuthError{Msg: name + " unauthorized after token refresh"}
			}
			l.InfoContext(ctx, "smarthub token expired, refreshing")
			if _, err := c.refresh(ctx, cred.Token); err != nil {
				return PollNoData, err
			}
			refreshed = true
			continue
		}
		if resp.StatusCode != http.StatusOK {
			l.WarnContext(ctx, "smarthub request returned error status", slog.Int("status", resp.StatusCode), slog.String("body", truncateBody(body)))
			return PollNoData, &ConnectionError{Msg: name + " failed", StatusCode: resp.StatusCode}
		}

		status, err := classify(body)
		if err != nil {
			return PollNoData, err
		}
		if status != PollPending {
			return status, nil
		}

		l.DebugContext(ctx, "smarthub data pending")
		pending = true
		lastErr = nil
		if attempt < c.cfg.MaxRetries {
			if err := c.wait(ctx); err != nil {
				return PollNoData, err
			}
		}
	}

	switch {
	case pending:
		log.Ctx(ctx).WarnContext(ctx, "maximum retries reached, data still pending", slog.String("request", name))
		return PollNoData, nil
	case lastErr != nil:
		return PollNoData, &ConnectionError{Msg: name + " failed after retries", Err: lastErr}
	default:
		return PollNoData, &APIError{Msg: name + " exhausted its retry budget"}
	}
}

// wait blocks for the retry delay or until ctx is done.
func (c *Client) wait(ctx context.Context) error {
	if c.cfg.RetryDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
