// Package bridge adapts a broker's REST API to the venue interface
// used by the engine. It owns retries, timeouts and the circuit
// breaker so execution hiccups never reach decision logic.
package bridge

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig describes the broker endpoint.
type ClientConfig struct {
	APIURL             string
	APIToken           string
	Username           string
	Password           string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Client is a thin REST client for the broker's order API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	username   string
	password   string
	token      string
}

func NewClient(cfg ClientConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("broker api_url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse broker api_url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		username:   strings.TrimSpace(cfg.Username),
		password:   strings.TrimSpace(cfg.Password),
		token:      strings.TrimSpace(cfg.APIToken),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// orderPayload mirrors the broker's order placement schema.
type orderPayload struct {
	ClientID   string   `json:"client_id"`
	Instrument string   `json:"instrument"`
	Side       string   `json:"side"`
	Units      float64  `json:"units"`
	Type       string   `json:"type"`
	Price      *float64 `json:"price,omitempty"`
}

type orderResponse struct {
	BrokerOrderID string `json:"order_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

// transaction is one execution report from the broker's transaction
// feed, polled since the last known transaction ID.
type transaction struct {
	ID         int64   `json:"id"`
	ClientID   string  `json:"client_id"`
	Instrument string  `json:"instrument"`
	Type       string  `json:"type"` // FILL, CANCEL, REJECT
	Units      float64 `json:"units"`
	Price      float64 `json:"price"`
	Fee        float64 `json:"fee,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Time       string  `json:"time"`
}

func (c *Client) placeOrder(ctx context.Context, p orderPayload) (*orderResponse, error) {
	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/orders", p, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) cancelOrder(ctx context.Context, clientID string) error {
	path := fmt.Sprintf("/v1/orders/%s/cancel", url.PathEscape(clientID))
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) transactionsSince(ctx context.Context, sinceID int64) ([]transaction, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/v1/transactions?since=%d", sinceID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	var txs []transaction
	if err := json.Unmarshal(raw, &txs); err == nil {
		return txs, nil
	}
	var env struct {
		Transactions []transaction `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse broker transactions: %w", err)
	}
	return env.Transactions, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any, out any) error {
	endpoint, err := c.resolveEndpoint(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal broker request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("build broker request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("broker call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(data) == 0 {
			return fmt.Errorf("broker error: %s", resp.Status)
		}
		return fmt.Errorf("broker error (%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode broker response: %w", err)
	}
	return nil
}

func (c *Client) resolveEndpoint(path string) (*url.URL, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = "/"
	}
	query := ""
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		query = trimmed[idx+1:]
		trimmed = trimmed[:idx]
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.RawQuery = query
	base.Fragment = ""
	return &base, nil
}
