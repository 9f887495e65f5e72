// Package remote implements engine.Engine against an HTTP embedding server
// exposing POST /embed/face (multipart field "file").
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/starford/rollcall/internal/engine"
	"github.com/starford/rollcall/internal/models"
)

const defaultURL = "http://localhost:8000"

// faceDetection is one face in the server response.
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Client is an engine.Engine backed by an embedding server.
type Client struct {
	baseURL   string
	threshold float64
	client    *http.Client
}

var _ engine.Engine = (*Client)(nil)

// New creates a client for baseURL.
func New(baseURL string, threshold float64, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	if threshold <= 0 {
		threshold = engine.DefaultThreshold
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		threshold: threshold,
		client:    &http.Client{Timeout: timeout},
	}
}

// Detect posts img as JPEG and converts the returned faces.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]models.DetectedFace, error) {
	var frame bytes.Buffer
	if err := jpeg.Encode(&frame, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("remote: encode frame: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("remote: create form file: %w", err)
	}
	if _, err := part.Write(frame.Bytes()); err != nil {
		return nil, fmt.Errorf("remote: write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("remote: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/face", &body)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote: API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var faceResp faceResponse
	if err := json.Unmarshal(raw, &faceResp); err != nil {
		return nil, fmt.Errorf("remote: parse response: %w", err)
	}

	out := make([]models.DetectedFace, 0, len(faceResp.Faces))
	for _, f := range faceResp.Faces {
		if len(f.BBox) != 4 || len(f.Embedding) == 0 {
			continue
		}
		out = append(out, models.DetectedFace{
			Box: models.Box(image.Rect(
				int(f.BBox[0]), int(f.BBox[1]), int(f.BBox[2]), int(f.BBox[3]),
			)),
			Embedding: models.Embedding(f.Embedding),
		})
	}
	return out, nil
}

// Distance returns the Euclidean distance between two embeddings.
func (c *Client) Distance(a, b models.Embedding) float64 {
	return engine.Euclidean(a, b)
}

// Threshold returns the configured match tolerance.
func (c *Client) Threshold() float64 { return c.threshold }
