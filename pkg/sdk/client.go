// Package sdk is the Go client for the fraud decision engine.
//
// Authorization switches and back-office tooling use it to submit card
// authorizations and read the engine's operational state:
//
//	client := sdk.NewClient(sdk.Config{BaseURL: "http://fraudengine:8080"})
//
//	d, err := client.EvaluateAuth(ctx, &sdk.Transaction{
//	    TransactionID: "tx-123",
//	    CardHash:      "h-abc",
//	    Amount:        149.90,
//	    Currency:      "BRL",
//	    CountryCode:   "BR",
//	})
//	if err != nil {
//	    // transport failure or malformed request; the caller's standing
//	    // instruction applies (typically stand-in approve)
//	}
//	if d.Action == sdk.ActionDecline {
//	    // reject the authorization
//	}
//
// Replay submits the same document with every engine side effect suppressed,
// for investigating how a ruleset version scores a historical transaction.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the engine endpoint, e.g. "http://fraudengine:8080" (required).
	BaseURL string

	// Timeout bounds each call end to end (default 5s). Decisions are served
	// in milliseconds; a long timeout only delays the caller's own fallback.
	Timeout time.Duration

	// HTTPClient overrides the transport, e.g. to share a pool or add TLS
	// config. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client talks to one fraud engine deployment. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client from the config, applying defaults.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}
}

// EvaluateAuth submits a card authorization and returns the decision
// envelope. A non-nil Decision always carries an Action; degraded paths are
// reported through EngineMode and EngineErrorCode, not as errors.
func (c *Client) EvaluateAuth(ctx context.Context, tx *Transaction) (*Decision, error) {
	return c.evaluate(ctx, tx, false)
}

// Replay submits a transaction with all engine side effects suppressed: no
// velocity increments, no decision event. The returned envelope has
// EngineMode "REPLAY".
func (c *Client) Replay(ctx context.Context, tx *Transaction) (*Decision, error) {
	return c.evaluate(ctx, tx, true)
}

func (c *Client) evaluate(ctx context.Context, tx *Transaction, replay bool) (*Decision, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("fraudengine: marshal transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/evaluate/auth", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fraudengine: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if replay {
		req.Header.Set("X-Replay-Mode", "true")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fraudengine: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fraudengine: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, raw)
	}

	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("fraudengine: parse decision: %w", err)
	}
	d.LoadShed = strings.EqualFold(resp.Header.Get("X-Load-Shed"), "true")
	return &d, nil
}

// Status reads the engine's operational snapshot: loaded ruleset versions,
// breaker state, queue depth, and the invariant counters.
func (c *Client) Status(ctx context.Context) (*EngineStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/engine/status", nil)
	if err != nil {
		return nil, fmt.Errorf("fraudengine: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fraudengine: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fraudengine: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, raw)
	}

	var status EngineStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("fraudengine: parse status: %w", err)
	}
	return &status, nil
}

// Ready reports whether the engine has passed its startup gate. It returns
// nil when /readyz answers 200 and an *APIError otherwise.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return fmt.Errorf("fraudengine: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fraudengine: request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

// apiError decodes the engine's error body when it has one.
func apiError(status int, raw []byte) error {
	apiErr := &APIError{StatusCode: status}
	_ = json.Unmarshal(raw, apiErr)
	return apiErr
}
