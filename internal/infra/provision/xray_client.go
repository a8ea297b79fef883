package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vpn-subscription-store/internal/domain"
	"vpn-subscription-store/internal/domain/ports/adapter"
	"vpn-subscription-store/internal/infra/metrics"
)

var _ adapter.Provisioner = (*XrayClient)(nil)

// XrayClient provisions VPN access through the xray panel sidecar service.
// The sidecar keys clients by email, so the subscriber id goes out in the
// email field.
type XrayClient struct {
	baseURL string
	client  *http.Client
}

func NewXrayClient(baseURL string, timeout time.Duration) *XrayClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &XrayClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type createClientRequest struct {
	Email string `json:"email"`
	Days  int    `json:"days"`
}

type createClientResponse struct {
	Success   bool   `json:"success"`
	VlessLink string `json:"vless_link"`
	ClientID  string `json:"client_id"`
	Email     string `json:"email"`
	Error     string `json:"error"`
}

func (c *XrayClient) CreateClient(ctx context.Context, subscriberID string, validityDays int) (string, error) {
	start := time.Now()
	link, err := c.createClient(ctx, subscriberID, validityDays)
	metrics.ObserveProvisionCall(time.Since(start).Milliseconds(), err == nil)
	return link, err
}

func (c *XrayClient) createClient(ctx context.Context, subscriberID string, validityDays int) (string, error) {
	if subscriberID == "" {
		return "", domain.ErrInvalidArgument
	}

	body, err := json.Marshal(createClientRequest{Email: subscriberID, Days: validityDays})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/create-client", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("xray service unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var out createClientResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w, body: %s", err, string(raw))
	}
	if resp.StatusCode != http.StatusOK || !out.Success || out.VlessLink == "" {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("xray create-client failed: %s", msg)
	}
	return out.VlessLink, nil
}

// Ping checks the sidecar health endpoint.
func (c *XrayClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("xray health: status %d", resp.StatusCode)
	}
	return nil
}
