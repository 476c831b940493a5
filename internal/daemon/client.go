// Package daemon is a stateless HTTP facade over the local messaging
// daemon's REST API. It does no retries; retry policy belongs to the
// sync reconciler.
package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the messaging daemon over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the daemon at baseURL. connectTimeout bounds TCP
// dial, receiveTimeout bounds the whole request including the body.
func New(baseURL string, connectTimeout, receiveTimeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{DialContext: dialer.DialContext},
			Timeout:   receiveTimeout,
		},
	}
}

// SendMessage posts a direct message. replyToID and ttl are optional
// (empty / zero to omit).
func (c *Client) SendMessage(ctx context.Context, recipientID, content, replyToID string, ttl int) (*SendResult, error) {
	var res SendResult
	req := sendRequest{RecipientID: recipientID, Content: content, ReplyToID: replyToID, TTL: ttl}
	if err := c.post(ctx, "send", "/api/v1/send", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PollInbox fetches inbound messages received since the last poll.
func (c *Client) PollInbox(ctx context.Context) ([]Message, error) {
	var msgs []Message
	if err := c.get(ctx, "poll inbox", "/api/v1/inbox", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListConversations fetches the daemon's conversation summaries.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if err := c.get(ctx, "list conversations", "/api/v1/conversations", &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// ConversationMessages fetches the full message history for one peer.
func (c *Client) ConversationMessages(ctx context.Context, peerID string) ([]Message, error) {
	var msgs []Message
	path := "/api/v1/conversation/" + url.PathEscape(peerID)
	if err := c.get(ctx, "conversation messages", path, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// BroadcastPresence announces our own presence status.
func (c *Client) BroadcastPresence(ctx context.Context, status, note string) error {
	return c.post(ctx, "broadcast presence", "/api/v1/presence", presenceRequest{Status: status, Note: note}, nil)
}

// PeerPresence fetches a peer's presence as an opaque map.
func (c *Client) PeerPresence(ctx context.Context, peerID string) (map[string]any, error) {
	var out map[string]any
	path := "/api/v1/presence/" + url.PathEscape(peerID)
	if err := c.get(ctx, "peer presence", path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TransportStatus fetches opaque transport diagnostics.
func (c *Client) TransportStatus(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "transport status", "/api/v1/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Identity fetches the local identity info as an opaque map.
func (c *Client) Identity(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "identity", "/api/v1/identity", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendGroupMessage posts a message to a group.
func (c *Client) SendGroupMessage(ctx context.Context, groupID, content, replyToID string) (*SendResult, error) {
	var res SendResult
	path := "/api/v1/groups/" + url.PathEscape(groupID) + "/send"
	if err := c.post(ctx, "group send", path, groupSendRequest{Content: content, ReplyToID: replyToID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListAgents fetches known agent records as opaque maps.
func (c *Client) ListAgents(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.get(ctx, "list agents", "/api/v1/agents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IsAlive is a lightweight reachability probe. It swallows all errors and
// returns false instead of raising.
func (c *Client) IsAlive(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	return c.do(op, req, out)
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &UnreachableError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &UnreachableError{Op: op, Status: resp.StatusCode}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &MalformedResponseError{Op: op, Err: err}
	}
	return nil
}
