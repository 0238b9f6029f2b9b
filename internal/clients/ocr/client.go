// Package ocr wraps the document OCR collaborator. The service extracts
// machine-readable fields from a document image and returns privacy
// commitments computed next to the raw data, so the core never sees an
// unhashed document number.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Result is the OCR extraction outcome for one document image.
type Result struct {
	DocumentNumber  string  `json:"documentNumber"`
	FirstName       string  `json:"firstName"`
	LastName        string  `json:"lastName"`
	DateOfBirth     string  `json:"dateOfBirth"` // YYYY-MM-DD
	ExpirationDate  string  `json:"expirationDate"`
	NationalityCode string  `json:"nationalityCode"` // ISO 3166-1 alpha-3
	DocumentType    string  `json:"documentType"`
	IssuingCountry  string  `json:"issuingCountry"`
	Confidence      float64 `json:"confidence"`

	Commitments *Commitments `json:"commitments"`
	Issues      []string     `json:"issues"`
}

// Commitments are the salted hashes derived by the OCR service.
type Commitments struct {
	DocumentHash   string `json:"documentHash"`
	NameCommitment string `json:"nameCommitment"`
	UserSalt       string `json:"userSalt"`
}

// Client calls the OCR collaborator over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds an OCR client for the given base URL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

type processRequest struct {
	Image     []byte `json:"image"`
	PriorSalt string `json:"priorSalt,omitempty"`
}

// ProcessDocument runs OCR on the image. PriorSalt carries the user's
// existing salt on re-verification so commitments stay stable.
func (c *Client) ProcessDocument(ctx context.Context, image []byte, priorSalt string) (*Result, error) {
	body, err := json.Marshal(processRequest{Image: image, PriorSalt: priorSalt})
	if err != nil {
		return nil, fmt.Errorf("encode ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocr service returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	return &result, nil
}
