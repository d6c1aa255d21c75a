// Package discord is a small client for the chat platform REST API used by the archival
// workers. Every request is paced, retried on rate limits and guarded by a circuit breaker.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/davexpro/archivist/internal/config"
	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/logging"
	"github.com/davexpro/archivist/internal/metrics"
)

const breakerName = "discord-api"

// Credential is a decrypted platform token plus its kind (db.CredentialUser or db.CredentialBot).
type Credential struct {
	Token string
	Kind  string
}

func (c Credential) authorization() string {
	if c.Kind == db.CredentialBot {
		return "Bot " + c.Token
	}
	return c.Token
}

type Client struct {
	base       string
	auth       string
	userAgent  string
	maxRetries int
	retryBase  time.Duration

	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[*response]
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// New builds a client for one credential.
func New(cfg config.DiscordConfig, cred Credential) *Client {
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	cb := gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Client{
		base:       strings.TrimRight(cfg.APIBase, "/"),
		auth:       cred.authorization(),
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryBase:  500 * time.Millisecond,
		http:       &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		cb:         cb,
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, "current user", http.MethodGet, "/users/@me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Messages returns up to limit messages older than before (newest first). An empty before
// starts at the most recent message.
func (c *Client) Messages(ctx context.Context, channelID, before string, limit int) ([]Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != "" {
		q.Set("before", before)
	}
	var msgs []Message
	if err := c.do(ctx, "list messages", http.MethodGet, "/channels/"+url.PathEscape(channelID)+"/messages", q, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) Guild(ctx context.Context, guildID string) (*Guild, error) {
	var g Guild
	if err := c.do(ctx, "get guild", http.MethodGet, "/guilds/"+url.PathEscape(guildID), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) GuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	var roles []Role
	if err := c.do(ctx, "list roles", http.MethodGet, "/guilds/"+url.PathEscape(guildID)+"/roles", nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (c *Client) GuildEmojis(ctx context.Context, guildID string) ([]Emoji, error) {
	var emojis []Emoji
	if err := c.do(ctx, "list emojis", http.MethodGet, "/guilds/"+url.PathEscape(guildID)+"/emojis", nil, &emojis); err != nil {
		return nil, err
	}
	return emojis, nil
}

func (c *Client) GuildChannels(ctx context.Context, guildID string) ([]Channel, error) {
	var channels []Channel
	if err := c.do(ctx, "list channels", http.MethodGet, "/guilds/"+url.PathEscape(guildID)+"/channels", nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
	return c.do(ctx, "delete message", http.MethodDelete, path, nil, nil)
}

// do runs one logical request: waits for the limiter, sends through the breaker and retries
// 429s and server errors until maxRetries is exhausted. Failures come back as *FetchError.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &FetchError{Op: op, Err: err}
		}

		resp, err := c.cb.Execute(func() (*response, error) {
			return c.send(ctx, method, u)
		})

		var delay time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return &FetchError{Op: op, Err: err}
			}
			lastErr = err
			delay = c.backoff(attempt)
		case resp.status == http.StatusTooManyRequests:
			metrics.RateLimited.Inc()
			lastErr = decodeAPIError(resp)
			delay = retryAfter(resp, c.backoff(attempt))
			logging.Debug().Str("op", op).Dur("retry_after", delay).Int("attempt", attempt+1).Msg("rate limited by platform")
		case resp.status >= 300:
			return &FetchError{Op: op, Err: decodeAPIError(resp)}
		default:
			if out == nil || len(resp.body) == 0 {
				return nil
			}
			if err := json.Unmarshal(resp.body, out); err != nil {
				return &FetchError{Op: op, Err: fmt.Errorf("malformed response: %w", err)}
			}
			return nil
		}

		if attempt == c.maxRetries {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &FetchError{Op: op, Err: ctx.Err()}
		}
	}

	return &FetchError{Op: op, Err: fmt.Errorf("giving up after %d attempts: %w", c.maxRetries+1, lastErr)}
}

// send performs a single HTTP exchange. Transport errors and 5xx responses are returned as
// errors so the breaker counts them; everything else is handed back for classification.
func (c *Client) send(ctx context.Context, method, u string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues(method, metrics.StatusClass(0)).Inc()
		return nil, err
	}
	defer resp.Body.Close()
	metrics.APIRequests.WithLabelValues(method, metrics.StatusClass(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	r := &response{status: resp.StatusCode, header: resp.Header, body: body}
	if resp.StatusCode >= 500 {
		return nil, decodeAPIError(r)
	}
	return r, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	return c.retryBase * time.Duration(1<<uint(attempt))
}

// retryAfter reads the platform's hint: the Retry-After header first, then the retry_after
// field of the JSON body. Both are seconds and may be fractional.
func retryAfter(resp *response, fallback time.Duration) time.Duration {
	if v := resp.header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	var body struct {
		RetryAfter *float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(resp.body, &body); err == nil && body.RetryAfter != nil && *body.RetryAfter >= 0 {
		return time.Duration(*body.RetryAfter * float64(time.Second))
	}
	return fallback
}

func decodeAPIError(resp *response) *APIError {
	apiErr := &APIError{Status: resp.status}
	if len(bytes.TrimSpace(resp.body)) > 0 {
		_ = json.Unmarshal(resp.body, apiErr)
	}
	return apiErr
}
