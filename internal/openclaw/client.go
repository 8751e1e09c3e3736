package openclaw

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultCallTimeout = 10 * time.Second

// Config addresses one gateway deployment. It is resolved per board rather
// than held globally: distinct boards may route through distinct gateways.
type Config struct {
	URL              string
	Token            string
	AllowInsecureTLS bool
}

// GatewayError is the single error kind for every transport-layer failure:
// connection refusal, malformed responses, and explicit upstream rejections
// all surface as one type so callers need not distinguish causes.
type GatewayError struct {
	Message string
}

func (e *GatewayError) Error() string { return e.Message }

func gatewayErrorf(format string, args ...any) *GatewayError {
	return &GatewayError{Message: fmt.Sprintf(format, args...)}
}

// Client is the call boundary to the OpenClaw gateway RPC surface.
type Client struct {
	Config     Config
	HTTPClient *http.Client
}

func NewClient(cfg Config) *Client {
	client := &http.Client{Timeout: defaultCallTimeout}
	if cfg.AllowInsecureTLS {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Client{Config: cfg, HTTPClient: client}
}

type rpcRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Call performs one RPC against the gateway. Any failure is returned as a
// *GatewayError carrying the upstream message.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if strings.TrimSpace(c.Config.URL) == "" {
		return nil, gatewayErrorf("gateway url not configured")
	}
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return nil, gatewayErrorf("encode %s request: %v", method, err)
	}
	endpoint := strings.TrimRight(c.Config.URL, "/") + "/rpc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, gatewayErrorf("build %s request: %v", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Config.Token)
	}
	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, gatewayErrorf("%s: %v", method, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, gatewayErrorf("%s: read response: %v", method, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, gatewayErrorf("%s: status %d: %s", method, res.StatusCode, strings.TrimSpace(string(data)))
	}
	var decoded rpcResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, gatewayErrorf("%s: malformed response: %v", method, err)
	}
	if decoded.Error != nil {
		return nil, gatewayErrorf("%s: %s", method, decoded.Error.Message)
	}
	return decoded.Result, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultCallTimeout}
}

// EnsureSession creates or relabels a session. Safe to call repeatedly with
// the same key.
func (c *Client) EnsureSession(ctx context.Context, key, label string) error {
	_, err := c.Call(ctx, "sessions.patch", map[string]any{"key": key, "label": label})
	return err
}

// SendMessage dispatches one message into a session. deliver controls whether
// the message is pushed to a live listener versus just queued.
func (c *Client) SendMessage(ctx context.Context, content, sessionKey string, deliver bool) error {
	_, err := c.Call(ctx, "chat.send", map[string]any{
		"session": sessionKey,
		"content": content,
		"deliver": deliver,
	})
	return err
}

// Session is the subset of gateway session metadata this service reads.
type Session struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}

// ListSessions returns the gateway's sessions, normalizing both list- and
// object-shaped upstream responses.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	raw, err := c.Call(ctx, "sessions.list", nil)
	if err != nil {
		return nil, err
	}
	var direct []Session
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}
	var wrapped struct {
		Sessions []Session `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, gatewayErrorf("sessions.list: malformed response: %v", err)
	}
	return wrapped.Sessions, nil
}

// GetHistory returns the messages in a session, normalizing both list- and
// object-shaped upstream responses.
func (c *Client) GetHistory(ctx context.Context, sessionKey string) ([]json.RawMessage, error) {
	raw, err := c.Call(ctx, "chat.history", map[string]any{"session": sessionKey})
	if err != nil {
		return nil, err
	}
	var direct []json.RawMessage
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}
	var wrapped struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, gatewayErrorf("chat.history: malformed response: %v", err)
	}
	return wrapped.Messages, nil
}
