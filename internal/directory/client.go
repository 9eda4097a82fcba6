package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/obialo/tutornotify/pkg/circuitbreaker"
	"github.com/sony/gobreaker"
)

// Client talks to the user-directory service over HTTP. All calls go
// through a circuit breaker; an open breaker or transport error surfaces
// as ErrUnavailable.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cb: circuitbreaker.NewCircuitBreaker("user-directory"),
	}
}

func (c *Client) Lookup(ctx context.Context, ids []string) ([]User, error) {
	q := url.Values{"id": ids}
	return c.fetch(ctx, fmt.Sprintf("%s/users?%s", c.baseURL, q.Encode()))
}

func (c *Client) ListByRole(ctx context.Context, role string) ([]User, error) {
	return c.fetch(ctx, fmt.Sprintf("%s/users?role=%s", c.baseURL, url.QueryEscape(role)))
}

func (c *Client) ListActive(ctx context.Context) ([]User, error) {
	return c.fetch(ctx, fmt.Sprintf("%s/users?active=true", c.baseURL))
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]User, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
		}
		var users []User
		if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
			return nil, err
		}
		return users, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.([]User), nil
}
