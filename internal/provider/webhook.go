package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultWebhookTimeout = 30 * time.Second
	userAgent             = "delivery-simulator/1.0"
)

// WebhookProvider posts delivery events to per-delivery callback URLs.
type WebhookProvider struct {
	client *resty.Client
}

func NewWebhookProvider(timeout time.Duration) (*WebhookProvider, error) {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)

	return NewWebhookProviderWithClient(client)
}

func NewWebhookProviderWithClient(client *resty.Client) (*WebhookProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	// Retries are owned by the dispatcher.
	client.SetRetryCount(0)
	client.SetHeader("User-Agent", userAgent)

	return &WebhookProvider{client: client}, nil
}

func (p *WebhookProvider) Send(ctx context.Context, callbackURL string, event DeliveryEvent) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	endpoint := strings.TrimSpace(callbackURL)
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, &ProviderError{Message: "invalid callback url", Cause: err}
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Delivery-Id", event.DeliveryID).
		SetHeader("X-Delivery-Status", event.Status).
		SetBody(event).
		Post(endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message: "callback request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &ProviderError{Message: "callback returned empty response"}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
	}
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("callback returned status %d", statusCode)
	if body == "" {
		return base
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("%s: %s", base, body)
}
