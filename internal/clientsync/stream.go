package clientsync

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/obialo/tutornotify/internal/models"
	"go.uber.org/zap"
)

// StreamClient consumes the server's SSE push channel and turns it into
// the push feed a Syncer merges. Best effort: on any error it just
// stops, and polling carries the session until the caller reconnects.
type StreamClient struct {
	baseURL string
	token   string
	logger  *zap.Logger
}

func NewStreamClient(baseURL, token string, logger *zap.Logger) *StreamClient {
	return &StreamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  logger,
	}
}

// Listen connects and emits feed items until ctx is cancelled or the
// stream breaks. The returned channel is closed on exit, which a Syncer
// treats as push detaching.
func (sc *StreamClient) Listen(ctx context.Context) (<-chan models.FeedItem, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", sc.baseURL+"/api/notifications/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if sc.token != "" {
		req.Header.Set("Authorization", "Bearer "+sc.token)
	}

	// No client timeout here: the stream is long-lived and dies with ctx.
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	out := make(chan models.FeedItem)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			var item models.FeedItem
			if err := json.Unmarshal([]byte(payload), &item); err != nil {
				sc.logger.Warn("unparseable push event", zap.Error(err))
				continue
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			sc.logger.Warn("push stream broke, polling takes over", zap.Error(err))
		}
	}()
	return out, nil
}
