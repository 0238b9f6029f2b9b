// Package signer wraps the threshold-signing collaborator that attests claim
// payloads. The private key shares never leave the signer cluster; the core
// only sees payloads and signatures.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client calls the signing collaborator over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a signer client for the given base URL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

type signRequest struct {
	Payload json.RawMessage `json:"payload"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

// Sign submits a claim payload and returns its signature.
func (c *Client) Sign(ctx context.Context, payload json.RawMessage) (string, error) {
	body, err := json.Marshal(signRequest{Payload: payload})
	if err != nil {
		return "", fmt.Errorf("encode sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signer service returned status %d", resp.StatusCode)
	}

	var result signResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode sign response: %w", err)
	}
	if result.Signature == "" {
		return "", fmt.Errorf("signer returned empty signature")
	}
	return result.Signature, nil
}
