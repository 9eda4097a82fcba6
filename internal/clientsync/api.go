package clientsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/obialo/tutornotify/internal/models"
)

// FeedAPI is the server surface the syncer polls and writes back to.
type FeedAPI interface {
	Fetch(ctx context.Context, sinceVersion int64) ([]models.FeedItem, error)
	MarkRead(ctx context.Context, notificationID string) error
	Delete(ctx context.Context, notificationID string) error
	ReadAll(ctx context.Context) error
}

// HTTPFeedAPI talks to the notification read API with a bearer token.
// The http.Client timeout is the poll timeout: a hung poll dies here and
// is retried on the next tick.
type HTTPFeedAPI struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPFeedAPI(baseURL, token string, client *http.Client) *HTTPFeedAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeedAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: client,
	}
}

func (a *HTTPFeedAPI) Fetch(ctx context.Context, sinceVersion int64) ([]models.FeedItem, error) {
	endpoint := fmt.Sprintf("%s/api/notifications?since=%d", a.baseURL, sinceVersion)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed fetch returned status %d", resp.StatusCode)
	}
	var envelope struct {
		Success bool              `json:"success"`
		Data    []models.FeedItem `json:"data"`
		Error   string            `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, fmt.Errorf("feed fetch failed: %s", envelope.Error)
	}
	return envelope.Data, nil
}

func (a *HTTPFeedAPI) MarkRead(ctx context.Context, notificationID string) error {
	return a.call(ctx, "POST", fmt.Sprintf("%s/api/notifications/%s/read", a.baseURL, notificationID))
}

func (a *HTTPFeedAPI) Delete(ctx context.Context, notificationID string) error {
	return a.call(ctx, "DELETE", fmt.Sprintf("%s/api/notifications/%s", a.baseURL, notificationID))
}

func (a *HTTPFeedAPI) ReadAll(ctx context.Context) error {
	return a.call(ctx, "POST", a.baseURL+"/api/notifications/read-all")
}

func (a *HTTPFeedAPI) call(ctx context.Context, method, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned status %d", method, endpoint, resp.StatusCode)
	}
	return nil
}

func (a *HTTPFeedAPI) authorize(req *http.Request) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
}
