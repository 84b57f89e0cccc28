package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// BoundingBox is a face region as ratios (0-1) of the image width and height.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DetectedFace is one face found by /detect.
type DetectedFace struct {
	BoundingBox BoundingBox `json:"bounding_box"`
	Confidence  float64     `json:"confidence"`
}

// SearchMatch is one enrolled face returned by /search. ExternalID is the tag
// given at enrollment, which carries the employee id.
type SearchMatch struct {
	FaceID     string  `json:"face_id"`
	ExternalID string  `json:"external_image_id"`
	Similarity float64 `json:"similarity"`
}

// CompareResult holds the best similarity above the requested threshold.
// Matched is false when no face in the target cleared it.
type CompareResult struct {
	Similarity float64
	Matched    bool
	Unmatched  int
}

// ServiceError is a non-2xx answer from the face service.
type ServiceError struct {
	Status  int
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("face service error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("face service error %d: %s", e.Status, e.Message)
}

// StatusCode returns the upstream HTTP status.
func (e *ServiceError) StatusCode() int { return e.Status }

// ResourceNotFound reports a missing collection rather than a missing route.
func (e *ServiceError) ResourceNotFound() bool {
	return e.Status == http.StatusNotFound &&
		(e.Code == "collection_not_found" || e.Code == "ResourceNotFoundException")
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL    string
	Collection string
	Timeout    time.Duration
	HTTP       *http.Client

	ready atomic.Bool
	group singleflight.Group
}

// New creates a client bound to one face collection. Every call is bounded by timeout.
func New(baseURL, collection string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		Collection: collection,
		Timeout:    timeout,
		HTTP:       &http.Client{Timeout: timeout + 5*time.Second},
	}
}

func encodeImage(img []byte) string {
	return base64.StdEncoding.EncodeToString(img)
}

// post sends payload as JSON and decodes a 2xx answer into out.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeServiceError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeServiceError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &ServiceError{Status: resp.StatusCode, Message: string(bodyBytes)}
	var out struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(bodyBytes, &out) == nil {
		se.Code = out.Code
		switch {
		case out.Message != "":
			se.Message = out.Message
		case out.Detail != "":
			se.Message = out.Detail
		}
	}
	return se
}

// EnsureCollection creates the face collection once. Concurrent callers share
// one in-flight request; only success is remembered, so a failed attempt is
// retried by the next caller.
func (c *Client) EnsureCollection(ctx context.Context) error {
	if c.ready.Load() {
		return nil
	}
	_, err, _ := c.group.Do(c.Collection, func() (any, error) {
		if c.ready.Load() {
			return nil, nil
		}
		err := c.post(ctx, "/collections", map[string]string{"collection_id": c.Collection}, nil)
		var se *ServiceError
		if errors.As(err, &se) && se.Status == http.StatusConflict {
			err = nil
		}
		if err != nil {
			return nil, fmt.Errorf("ensure collection %s: %w", c.Collection, err)
		}
		c.ready.Store(true)
		return nil, nil
	})
	return err
}

// DetectFaces returns every face in img in detection order.
func (c *Client) DetectFaces(ctx context.Context, img []byte) ([]DetectedFace, error) {
	if len(img) == 0 {
		return nil, fmt.Errorf("image required")
	}
	var out struct {
		Faces []DetectedFace `json:"faces"`
	}
	if err := c.post(ctx, "/detect", map[string]any{"image": encodeImage(img)}, &out); err != nil {
		return nil, err
	}
	return out.Faces, nil
}

// SearchFaces looks img up in the collection and returns up to maxFaces
// candidates at or above threshold, best first.
func (c *Client) SearchFaces(ctx context.Context, img []byte, maxFaces int, threshold float64) ([]SearchMatch, error) {
	if len(img) == 0 {
		return nil, fmt.Errorf("image required")
	}
	if err := c.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"collection_id": c.Collection,
		"image":         encodeImage(img),
		"max_faces":     maxFaces,
		"threshold":     threshold,
	}
	var out struct {
		Matches []SearchMatch `json:"matches"`
	}
	if err := c.post(ctx, "/search", payload, &out); err != nil {
		return nil, err
	}

	matches := out.Matches[:0]
	for _, m := range out.Matches {
		if m.Similarity >= threshold {
			matches = append(matches, m)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if maxFaces > 0 && len(matches) > maxFaces {
		matches = matches[:maxFaces]
	}
	return matches, nil
}

// CompareFaces compares the face in source against the faces in target.
func (c *Client) CompareFaces(ctx context.Context, source, target []byte, threshold float64) (*CompareResult, error) {
	payload := map[string]any{
		"source_image": encodeImage(source),
		"target_image": encodeImage(target),
		"threshold":    threshold,
	}
	var out struct {
		Matches []struct {
			Similarity float64 `json:"similarity"`
		} `json:"matches"`
		Unmatched int `json:"unmatched"`
	}
	if err := c.post(ctx, "/compare", payload, &out); err != nil {
		return nil, err
	}

	res := &CompareResult{Unmatched: out.Unmatched}
	for _, m := range out.Matches {
		if m.Similarity > res.Similarity {
			res.Similarity = m.Similarity
		}
	}
	res.Matched = len(out.Matches) > 0 && res.Similarity >= threshold
	return res, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
