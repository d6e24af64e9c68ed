// Package platform polls a betting platform's bet-history API for new wagers.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/liamashdown/tiltguard/internal/config"
	"github.com/liamashdown/tiltguard/internal/metrics"
	"github.com/liamashdown/tiltguard/internal/ratelimit"
)

const defaultPageSize = 500

// Client handles communication with the platform bet-history API
type Client struct {
	baseURL      string
	httpClient   *http.Client
	authMode     config.AuthMode
	bearerToken  string
	apiKey       string
	extraHeaders map[string]string
	limiter      *ratelimit.Limiter
}

// NewClient creates a new platform API client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:      cfg.PlatformBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		authMode:     cfg.PlatformAuthMode,
		bearerToken:  cfg.PlatformBearerToken,
		apiKey:       cfg.PlatformAPIKey,
		extraHeaders: cfg.PlatformExtraHeaders,
		limiter:      ratelimit.New(cfg.PlatformRPS),
	}
}

// GetBets fetches settled bets for a user placed strictly after params.Since,
// oldest first
func (c *Client) GetBets(ctx context.Context, params BetParams) (bets []Bet, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	defer func() { metrics.RecordAPIRequest("platform", "/bets", time.Since(start), err) }()

	u, err := url.Parse(c.baseURL + "/bets")
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	q := u.Query()
	q.Set("user", params.User)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sortDirection", "ASC")
	if params.Since > 0 {
		q.Set("since", strconv.FormatInt(params.Since, 10))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("401 Unauthorized (auth_mode=%s) - check credentials", c.authMode)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(&bets); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Servers that ignore sortDirection or since still yield ordered bets.
	// since is inclusive: bets sharing the checkpoint instant may be new.
	filtered := bets[:0]
	for _, b := range bets {
		if b.PlacedAt >= params.Since {
			filtered = append(filtered, b)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].PlacedAt < filtered[j].PlacedAt })

	return filtered, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	switch c.authMode {
	case config.AuthModeBearer:
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	case config.AuthModeAPIKey:
		req.Header.Set("X-API-KEY", c.apiKey)
	case config.AuthModeNone:
	}

	for k, v := range c.extraHeaders {
		req.Header.Set(k, v)
	}
}
