// Package fhe wraps the fully homomorphic encryption collaborator. The core
// only ever submits plaintext attribute values for encryption under a user's
// public key; ciphertexts are opaque and never decrypted server-side.
package fhe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BatchFields carries the optional attribute values for one batched
// encryption call. Field names follow the service's camelCase wire contract;
// an absent input yields an absent ciphertext.
type BatchFields struct {
	BirthYearOffset *int     `json:"birthYearOffset,omitempty"`
	CountryCode     *int     `json:"countryCode,omitempty"`
	LivenessScore   *float64 `json:"livenessScore,omitempty"`
}

// Empty reports whether no field is set; the service rejects empty batches,
// so the caller skips the call entirely.
func (f BatchFields) Empty() bool {
	return f.BirthYearOffset == nil && f.CountryCode == nil && f.LivenessScore == nil
}

// BatchCiphertexts holds the per-field results. A nil entry means the field
// was not submitted or the service produced nothing for it.
type BatchCiphertexts struct {
	BirthYearOffset *string `json:"birthYearOffsetCiphertext"`
	CountryCode     *string `json:"countryCodeCiphertext"`
	LivenessScore   *string `json:"livenessScoreCiphertext"`
}

// Client calls the FHE collaborator over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds an FHE client for the given base URL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

type batchRequest struct {
	KeyID     string `json:"keyId"`
	RequestID string `json:"requestId"`
	BatchFields
}

// EncryptBatch issues one batched encryption call for all provided fields.
// Errors are either *ServiceError or *TransportError.
func (c *Client) EncryptBatch(ctx context.Context, keyID string, fields BatchFields, requestID string) (*BatchCiphertexts, error) {
	const operation = "encrypt_batch"

	body, err := json.Marshal(batchRequest{KeyID: keyID, RequestID: requestID, BatchFields: fields})
	if err != nil {
		return nil, &TransportError{Operation: operation, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/encrypt/batch", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Operation: operation, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ServiceError{
			Operation: operation,
			Kind:      kindForStatus(resp.StatusCode),
			Status:    resp.StatusCode,
			Body:      string(raw),
		}
	}

	var result BatchCiphertexts
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &TransportError{Operation: operation, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &result, nil
}
