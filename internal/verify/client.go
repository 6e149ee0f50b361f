package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the external verification microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// NewClient creates a client. With skip set, every image verifies, which
// keeps local development working without the service running.
func NewClient(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // image analysis can take time
		},
	}
}

// Verify sends the captured image for 1:1 verification against the
// student's enrolled profile picture.
func (c *Client) Verify(ctx context.Context, imageData string, roll int) (Verdict, error) {
	if c.Skip {
		return Verdict{Verified: true, Method: "skip", Reason: "verification_skipped"}, nil
	}
	if imageData == "" {
		return Verdict{}, fmt.Errorf("image data required")
	}

	body, _ := json.Marshal(map[string]any{
		"image_data":  imageData,
		"roll_number": roll,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("verification service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return Verdict{}, fmt.Errorf("verification service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out Verdict
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verdict{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// Health checks if the verification service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("verification service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("verification service unhealthy: %s", resp.Status)
	}

	return nil
}
