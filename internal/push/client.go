// Package push talks to the web-push microservice (services/push) that
// stores admin browser subscriptions and delivers notifications.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/metrics"
)

// AdminAudience is the subscription group every admin browser joins.
const AdminAudience = "support-admins"

// Client calls the push microservice. With an empty URL every method is a no-op.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Enabled() bool { return c.baseURL != "" }

// Subscription is what the browser's PushManager.subscribe() returns.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s Subscription) Valid() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

// SubscribeRequest is the body of POST /api/subscribe on the push service.
type SubscribeRequest struct {
	Audience     string       `json:"audience"`
	Subscription Subscription `json:"subscription"`
}

// UnsubscribeRequest is the body of DELETE /api/subscribe.
type UnsubscribeRequest struct {
	Audience string `json:"audience"`
	Endpoint string `json:"endpoint"`
}

// NotifyRequest fans one notification out to every subscription of Audience.
type NotifyRequest struct {
	Audience string            `json:"audience"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
}

// Subscribe stores an admin browser subscription.
func (c *Client) Subscribe(ctx context.Context, sub Subscription) error {
	if !c.Enabled() {
		return nil
	}
	return c.post(ctx, http.MethodPost, "/api/subscribe", SubscribeRequest{Audience: AdminAudience, Subscription: sub})
}

// Unsubscribe removes a subscription by endpoint.
func (c *Client) Unsubscribe(ctx context.Context, endpoint string) error {
	if !c.Enabled() {
		return nil
	}
	return c.post(ctx, http.MethodDelete, "/api/subscribe", UnsubscribeRequest{Audience: AdminAudience, Endpoint: endpoint})
}

// NotifyAdmins sends one notification to every admin subscription. Errors are
// logged and counted, never returned: a lost push must not fail a chat message.
func (c *Client) NotifyAdmins(ctx context.Context, title, body string, data map[string]string) {
	if !c.Enabled() {
		return
	}
	err := c.post(ctx, http.MethodPost, "/api/notify", NotifyRequest{Audience: AdminAudience, Title: title, Body: body, Data: data})
	if err != nil {
		metrics.PushSent.WithLabelValues("error").Inc()
		logger.Errorf("push notify: %v", err)
		return
	}
	metrics.PushSent.WithLabelValues("ok").Inc()
}

func (c *Client) post(ctx context.Context, method, path string, in any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("push %s %s: %d", method, path, resp.StatusCode)
	}
	return nil
}
