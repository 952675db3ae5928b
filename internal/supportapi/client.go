// Package supportapi is the REST client for the /support endpoints.
package supportapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	Status  int
	Message string
	Op      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supportapi.%s: %d %s", e.Op, e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Status == http.StatusNotFound
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New builds a client for baseURL. token is sent as a bearer token on every
// request; the customer page leaves it empty.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WithHTTPClient swaps the transport (tests use httptest clients).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// SocketURL derives the websocket address of the backend.
func (c *Client) SocketURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func (c *Client) Token() string { return c.token }

type SendMessageRequest struct {
	CustomerID string `json:"customerId"`
	Text       string `json:"text"`
}

type StatusRequest struct {
	Status model.ConversationStatus `json:"status"`
}

// ListCustomers fetches every support customer with unread counts and last message.
func (c *Client) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	var out []model.Customer
	if err := c.do(ctx, "ListCustomers", http.MethodGet, "/support/customers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendAdminMessage persists an admin reply.
func (c *Client) SendAdminMessage(ctx context.Context, customerID, text string) (*model.ChatMessage, error) {
	var out model.ChatMessage
	req := SendMessageRequest{CustomerID: customerID, Text: text}
	if err := c.do(ctx, "SendAdminMessage", http.MethodPost, "/support/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead clears the unread counter of a conversation.
func (c *Client) MarkRead(ctx context.Context, customerID string) error {
	return c.do(ctx, "MarkRead", http.MethodPut, "/support/customers/"+url.PathEscape(customerID)+"/read", nil, nil)
}

// SetStatus switches a conversation between active and resolved.
func (c *Client) SetStatus(ctx context.Context, customerID string, status model.ConversationStatus) error {
	return c.do(ctx, "SetStatus", http.MethodPut, "/support/customers/"+url.PathEscape(customerID)+"/status", StatusRequest{Status: status}, nil)
}

// Register creates a customer for the support page.
func (c *Client) Register(ctx context.Context, reg model.Registration) (*model.Customer, error) {
	var out model.Customer
	if err := c.do(ctx, "Register", http.MethodPost, "/support/register", reg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Lookup finds a returning customer by phone number.
func (c *Client) Lookup(ctx context.Context, phone string) (*model.Customer, error) {
	var out model.Customer
	if err := c.do(ctx, "Lookup", http.MethodGet, "/support/lookup/"+url.PathEscape(phone), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetChat returns the full history of one conversation.
func (c *Client) GetChat(ctx context.Context, customerID string) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	if err := c.do(ctx, "GetChat", http.MethodGet, "/support/chats/"+url.PathEscape(customerID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	defer logger.DeferLogDuration("supportapi."+op, time.Now())()
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("supportapi.%s encode: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("supportapi.%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supportapi.%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error, Op: op}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("supportapi.%s decode: %w", op, err)
	}
	return nil
}
