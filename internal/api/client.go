// Package api wraps the backend's REST surface. Requests carry the session's
// bearer token; a 401 on a protected endpoint triggers a single shared
// token refresh, and requests arriving during that window wait for its
// outcome instead of racing their own refresh calls.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AbdelrhmanGamal26/chatlink/config"
	"github.com/AbdelrhmanGamal26/chatlink/internal/session"
	"github.com/AbdelrhmanGamal26/chatlink/pkg/jwt"
)

// Endpoints that bootstrap authentication must never trigger the refresh
// path; a 401 from them is a credentials problem, not an expired token.
var authExcludedEndpoints = []string{
	"/auth/login",
	"/auth/signup",
	"/auth/refresh-token",
	"/auth/forgot-password",
	"/auth/reset-password",
}

func authExcluded(path string) bool {
	for _, endpoint := range authExcludedEndpoints {
		if strings.HasPrefix(path, endpoint) {
			return true
		}
	}
	return false
}

// refreshAttempt is one in-flight refresh call. Waiters block on done and
// then read token/err, which the owner fills in before closing the channel.
type refreshAttempt struct {
	done  chan struct{}
	token string
	err   error
}

type Client struct {
	baseURL string
	httpc   *http.Client
	session *session.Store
	logger  logrus.FieldLogger
	now     func() time.Time

	refreshMu sync.Mutex
	inflight  *refreshAttempt
}

func NewClient(cfg *config.Config, sess *session.Store, logger logrus.FieldLogger) *Client {
	// The refresh token travels in a cookie set at login; the jar replays it
	// on refresh calls.
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		httpc:   &http.Client{Jar: jar},
		session: sess,
		logger:  logger,
		now:     time.Now,
	}
}

// get/post/patch/del marshal JSON bodies and decode the envelope's data
// field into out, applying the bearer/refresh discipline throughout.

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) patch(ctx context.Context, path string, query url.Values, body, out any) error {
	return c.doJSON(ctx, http.MethodPatch, path, query, body, out)
}

func (c *Client) del(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	contentType := ""
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		contentType = "application/json"
	}
	return c.doRequest(ctx, method, path, query, payload, contentType, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload []byte, contentType string, out any) error {
	skipRefresh := authExcluded(path)

	token := c.session.Token()
	if token != "" && !skipRefresh && jwt.Expired(token, c.now()) {
		// The token is known-stale; refresh up front instead of provoking
		// a guaranteed 401 round trip.
		refreshed, err := c.refreshAccessToken(ctx)
		if err != nil {
			return err
		}
		token = refreshed
	}

	status, env, err := c.send(ctx, method, path, query, payload, contentType, token)
	if err != nil {
		return err
	}

	// One refresh-and-retry, never more.
	if status == http.StatusUnauthorized && !skipRefresh {
		refreshed, err := c.refreshAccessToken(ctx)
		if err != nil {
			return err
		}
		status, env, err = c.send(ctx, method, path, query, payload, contentType, refreshed)
		if err != nil {
			return err
		}
	}

	if status >= http.StatusBadRequest {
		return &APIError{Status: status, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte, contentType, token string) (int, *envelope, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response body: %w", err)
	}

	env := &envelope{}
	if len(data) > 0 {
		// Error bodies are not always JSON; a bare status is still usable.
		_ = json.Unmarshal(data, env)
	}
	return resp.StatusCode, env, nil
}

// refreshAccessToken performs, or joins, the single in-flight refresh call.
// On success the new token is stored in the session; on failure the session
// is torn down and every waiter receives the same error.
func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	if attempt := c.inflight; attempt != nil {
		c.refreshMu.Unlock()
		select {
		case <-attempt.done:
			return attempt.token, attempt.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	attempt := &refreshAttempt{done: make(chan struct{})}
	c.inflight = attempt
	c.refreshMu.Unlock()

	token, err := c.callRefresh(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("token refresh failed, logging out")
		c.session.Logout()
		attempt.err = fmt.Errorf("%w: %v", ErrSessionExpired, err)
	} else {
		c.session.SetToken(token)
		attempt.token = token
	}

	c.refreshMu.Lock()
	c.inflight = nil
	c.refreshMu.Unlock()
	close(attempt.done)

	return attempt.token, attempt.err
}

func (c *Client) callRefresh(ctx context.Context) (string, error) {
	status, env, err := c.send(ctx, http.MethodGet, "/auth/refresh-token", nil, nil, "", "")
	if err != nil {
		return "", err
	}
	if status >= http.StatusBadRequest {
		return "", &APIError{Status: status, Message: env.Message}
	}

	var data struct {
		AccessToken string `json:"accessToken"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", fmt.Errorf("decoding refresh response: %w", err)
		}
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("refresh endpoint returned no access token")
	}
	return data.AccessToken, nil
}
