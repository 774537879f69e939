package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tenantdesk/internal/domain/chat"
)

// Config defines REST client settings.
type Config struct {
	BaseURL     string
	Token       string
	CallTimeout time.Duration
}

// Client wraps the property-management backend's chat REST API.
type Client struct {
	http        *http.Client
	baseURL     string
	token       string
	callTimeout time.Duration
	logger      *slog.Logger
}

// APIError carries the status code and a bounded body snippet of a failed call.
type APIError struct {
	Status  int
	Snippet string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rest: backend returned status %d: %s", e.Status, e.Snippet)
}

type conversationList struct {
	Items []chat.Conversation `json:"items"`
}

type messageList struct {
	Items []chat.Message `json:"items"`
}

type partnerList struct {
	Items []chat.Partner `json:"items"`
}

// NewClient builds a typed client for the backend chat contract.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("rest: base url required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	return &Client{
		http:        httpClient,
		baseURL:     cfg.BaseURL,
		token:       cfg.Token,
		callTimeout: callTimeout,
		logger:      logger,
	}, nil
}

// ListConversations returns the full conversation list for the current user.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var out conversationList
	if err := c.do(ctx, http.MethodGet, "/api/v1/chat/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ListMessages returns one page of messages, chronological within the page.
// Pages are requested newest-first: page 1 holds the most recent messages.
func (c *Client) ListMessages(ctx context.Context, conversationID string, page, pageSize int) ([]chat.Message, error) {
	if conversationID == "" {
		return nil, errors.New("rest: conversation id required")
	}
	query := url.Values{
		"page":      {strconv.Itoa(page)},
		"page_size": {strconv.Itoa(pageSize)},
	}
	path := "/api/v1/chat/conversations/" + url.PathEscape(conversationID) + "/messages?" + query.Encode()
	var out messageList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// SendMessage posts a message and returns the persisted copy. The clientRef
// is a caller-generated token the backend may use to de-duplicate retries.
func (c *Client) SendMessage(ctx context.Context, conversationID, text, clientRef string) (chat.Message, error) {
	if conversationID == "" {
		return chat.Message{}, errors.New("rest: conversation id required")
	}
	if chat.Empty(text) {
		return chat.Message{}, errors.New("rest: text required")
	}
	body := struct {
		Text      string `json:"text"`
		ClientRef string `json:"client_ref,omitempty"`
	}{Text: text, ClientRef: clientRef}
	path := "/api/v1/chat/conversations/" + url.PathEscape(conversationID) + "/messages"
	var out chat.Message
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return chat.Message{}, err
	}
	return out, nil
}

// CreateConversation starts an ad-hoc thread with the given partner, or
// returns the existing one for that partner pair.
func (c *Client) CreateConversation(ctx context.Context, partnerID string) (chat.Conversation, error) {
	if partnerID == "" {
		return chat.Conversation{}, errors.New("rest: partner id required")
	}
	body := struct {
		PartnerID string `json:"partner_id"`
	}{PartnerID: partnerID}
	var out chat.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat/conversations", body, &out); err != nil {
		return chat.Conversation{}, err
	}
	return out, nil
}

// SearchPartners lists candidate chat partners for the current user, excluding self.
func (c *Client) SearchPartners(ctx context.Context) ([]chat.Partner, error) {
	var out partnerList
	if err := c.do(ctx, http.MethodGet, "/api/v1/chat/partners", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// MarkRead resets the unread counter of a conversation for the current user.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("rest: conversation id required")
	}
	path := "/api/v1/chat/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	callCtx, cancel := c.wrapCall(ctx)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Status: resp.StatusCode, Snippet: string(snippet)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if c.logger != nil {
			c.logger.Error("rest decode failed", "method", method, "path", path, "error", err)
		}
		return err
	}
	return nil
}

func (c *Client) wrapCall(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := c.callTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
