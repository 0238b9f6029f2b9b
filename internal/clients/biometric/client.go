// Package biometric wraps the face detection collaborator. Verdicts are
// always recomputed server-side from the returned scores; the core never
// trusts a pass/fail boolean supplied by a client device.
package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Face is one detected face with its scores and embedding.
type Face struct {
	Box            Box       `json:"box"`
	Embedding      []float64 `json:"embedding"`
	AntispoofScore float64   `json:"antispoofScore"`
	LivenessScore  float64   `json:"livenessScore"`
	Yaw            float64   `json:"yaw"`
}

// Box is a face bounding box in pixel coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the box area, used to pick the largest face.
func (b Box) Area() int {
	return b.Width * b.Height
}

// Client calls the biometric collaborator over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a biometric client for the given base URL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

type detectRequest struct {
	Image []byte `json:"image"`
}

type detectResponse struct {
	Faces []Face `json:"faces"`
}

// Detect returns all faces found in the image.
func (c *Client) Detect(ctx context.Context, image []byte) ([]Face, error) {
	body, err := json.Marshal(detectRequest{Image: image})
	if err != nil {
		return nil, fmt.Errorf("encode detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("biometric service returned status %d", resp.StatusCode)
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}
	return result.Faces, nil
}

// Crop asks the service to re-detect within the given region of the image,
// which yields a cleaner embedding for document photos.
func (c *Client) Crop(ctx context.Context, image []byte, box Box) ([]Face, error) {
	payload := struct {
		Image []byte `json:"image"`
		Box   Box    `json:"box"`
	}{Image: image, Box: box}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode crop request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect/crop", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build crop request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crop request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("biometric service returned status %d", resp.StatusCode)
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode crop response: %w", err)
	}
	return result.Faces, nil
}

// CosineSimilarity compares two embeddings, normalized into 0..1.
// Mismatched or empty vectors score zero rather than erroring: a missing
// embedding must read as "no match", never as a fabricated score.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}

// LargestFace returns the face with the biggest bounding box, or nil when
// none were detected.
func LargestFace(faces []Face) *Face {
	var best *Face
	for i := range faces {
		if best == nil || faces[i].Box.Area() > best.Box.Area() {
			best = &faces[i]
		}
	}
	return best
}
