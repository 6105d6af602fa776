package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"timesheet_sync/internal/domain"
)

// Client issues authenticated requests to the remote internal endpoints
// without going through the browser. It reuses the browser session cookies.
type Client struct {
	httpClient *http.Client
	detailURL  string
	headers    http.Header
	logger     *slog.Logger
}

// NewClient builds the request template of an authenticated session.
func NewClient(cfg Config, cookies domain.SessionCookies, logger *slog.Logger) *Client {
	headers := make(http.Header)
	headers.Set("Accept", "application/json")
	headers.Set("X-Requested-With", "XMLHttpRequest")
	headers.Set("User-Agent", cfg.UserAgent)
	headers.Set("Referer", cfg.URL(cfg.ListPath))
	headers.Set("Cookie", cookies.Header())

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		detailURL: cfg.URL(cfg.DetailPath),
		headers:   headers,
		logger:    logger,
	}
}

// FetchDetail fetches the full remote record of a list row.
func (c *Client) FetchDetail(ctx context.Context, code string) (*domain.RemoteSearchResult, error) {
	endpoint := c.detailURL + "?id=" + url.QueryEscape(code)

	var detail Detail
	if err := c.doRequest(ctx, endpoint, &detail); err != nil {
		return nil, fmt.Errorf("fetch detail %s: %w", code, err)
	}

	c.logger.Debug("fetched remote detail", "code", code)

	return detail.toResult(code), nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
