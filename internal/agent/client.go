package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Ping is the location payload posted to the delivery API. Field names match
// the server's ingest contract.
type Ping struct {
	DeliveryID *uuid.UUID `json:"deliveryId,omitempty"`
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	SpeedKph   float64    `json:"speedKph"`
	Heading    float64    `json:"heading"`
	AccuracyM  float64    `json:"accuracyM"`
	BatteryPct int        `json:"batteryPct"`
	Charging   bool       `json:"charging"`
	RecordedAt time.Time  `json:"recordedAt"`
}

// Client talks to the delivery API on behalf of one driver. Login stores the
// access token; subsequent calls send it as a bearer credential.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient builds an API client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type loginPayload struct {
	Phone string `json:"phone"`
	PIN   string `json:"pin"`
}

type loginEnvelope struct {
	Data struct {
		AccessToken  string    `json:"accessToken"`
		AccessExpiry time.Time `json:"accessExpiresAt"`
	} `json:"data"`
}

// Login authenticates with phone and PIN and caches the access token.
func (c *Client) Login(ctx context.Context, phone, pin string) error {
	body, err := json.Marshal(loginPayload{Phone: phone, PIN: pin})
	if err != nil {
		return fmt.Errorf("agent: encode login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agent: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent: login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent: login: %w", apiError(resp))
	}
	var envelope loginEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("agent: decode login response: %w", err)
	}
	if envelope.Data.AccessToken == "" {
		return errors.New("agent: login response without access token")
	}

	c.mu.Lock()
	c.token = envelope.Data.AccessToken
	c.mu.Unlock()
	return nil
}

// PostLocation submits one ping. The server replies 202 on acceptance.
func (c *Client) PostLocation(ctx context.Context, ping Ping) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return errors.New("agent: not logged in")
	}

	body, err := json.Marshal(ping)
	if err != nil {
		return fmt.Errorf("agent: encode ping: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/drivers/me/location", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agent: build ping request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent: ping request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("agent: post location: %w", apiError(resp))
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// apiError turns a non-success response into an error carrying the server's
// error code when the body follows the canonical shape.
func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		return fmt.Errorf("status %d: %s (%s)", resp.StatusCode, envelope.Error.Message, envelope.Error.Code)
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}
