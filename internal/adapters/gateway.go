package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/obialo/tutornotify/internal/models"
	"github.com/obialo/tutornotify/pkg/circuitbreaker"
	"github.com/sony/gobreaker"
)

// Email posts rendered messages to an outbound email gateway. The
// gateway resolves the recipient id to an address and owns its own
// retry policy.
type Email struct {
	gatewayURL string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

func NewEmail(gatewayURL string) *Email {
	return &Email{
		gatewayURL: gatewayURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		cb: circuitbreaker.NewCircuitBreaker("email-gateway"),
	}
}

func (a *Email) Supports(channel models.Channel) bool {
	return channel == models.ChannelEmail
}

func (a *Email) Send(ctx context.Context, job models.ChannelJob) error {
	payload := map[string]string{
		"recipient_id":   job.RecipientID,
		"subject":        job.Title,
		"body":           job.Body,
		"level":          string(job.Level),
		"correlation_id": job.CorrelationID,
	}
	return postJSON(ctx, a.cb, a.httpClient, a.gatewayURL+"/send", payload)
}

// Sms posts rendered bodies to an SMS gateway. Title is dropped; SMS
// carries body text only.
type Sms struct {
	gatewayURL string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

func NewSms(gatewayURL string) *Sms {
	return &Sms{
		gatewayURL: gatewayURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		cb: circuitbreaker.NewCircuitBreaker("sms-gateway"),
	}
}

func (a *Sms) Supports(channel models.Channel) bool {
	return channel == models.ChannelSMS
}

func (a *Sms) Send(ctx context.Context, job models.ChannelJob) error {
	payload := map[string]string{
		"recipient_id":   job.RecipientID,
		"body":           job.Body,
		"correlation_id": job.CorrelationID,
	}
	return postJSON(ctx, a.cb, a.httpClient, a.gatewayURL+"/send", payload)
}

func postJSON(ctx context.Context, cb *gobreaker.CircuitBreaker, client *http.Client, endpoint string, payload any) error {
	_, err := cb.Execute(func() (interface{}, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
