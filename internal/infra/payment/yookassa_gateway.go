package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"vpn-subscription-store/internal/domain"
	"vpn-subscription-store/internal/domain/model"
	"vpn-subscription-store/internal/domain/ports/adapter"
)

var _ adapter.CheckoutGateway = (*YooKassaGateway)(nil)

// YooKassaGateway implements CheckoutGateway against the YooKassa v3 API.
// Payments are created with capture:true; waiting_for_capture still shows
// up when the shop settings force manual capture, so Capture is implemented.
type YooKassaGateway struct {
	shopID    string
	secretKey string
	baseURL   string
	client    *http.Client
}

func NewYooKassaGateway(shopID, secretKey string) *YooKassaGateway {
	return &YooKassaGateway{
		shopID:    shopID,
		secretKey: secretKey,
		baseURL:   "https://api.yookassa.ru/v3",
		client:    &http.Client{Timeout: 20 * time.Second},
	}
}

func (g *YooKassaGateway) Name() string { return "yookassa" }

type yooKassaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yooKassaConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type yooKassaPayment struct {
	ID           string               `json:"id"`
	Status       string               `json:"status"`
	Paid         bool                 `json:"paid"`
	Amount       yooKassaAmount       `json:"amount"`
	Confirmation yooKassaConfirmation `json:"confirmation"`
	Metadata     map[string]string    `json:"metadata"`
	Description  string               `json:"description"`
}

func (g *YooKassaGateway) CreateCheckout(ctx context.Context, orderID string, amount int64, description, returnURL string, meta map[string]string) (adapter.Checkout, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	meta["order_id"] = orderID

	requestData := map[string]interface{}{
		"amount": yooKassaAmount{
			Value:    model.FormatRub(amount),
			Currency: "RUB",
		},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"description": description,
		"metadata":    meta,
	}

	body, err := json.Marshal(requestData)
	if err != nil {
		return adapter.Checkout{}, fmt.Errorf("failed to marshal request data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments", bytes.NewBuffer(body))
	if err != nil {
		return adapter.Checkout{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(g.shopID, g.secretKey)
	req.Header.Set("Content-Type", "application/json")
	// Idempotence-Key makes a retried POST return the original payment
	// instead of charging twice.
	req.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := g.client.Do(req)
	if err != nil {
		return adapter.Checkout{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapter.Checkout{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return adapter.Checkout{}, fmt.Errorf("yookassa create: status %d, body: %s", resp.StatusCode, string(raw))
	}

	var payment yooKassaPayment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return adapter.Checkout{}, fmt.Errorf("failed to unmarshal response: %w, body: %s", err, string(raw))
	}
	if payment.ID == "" || payment.Confirmation.ConfirmationURL == "" {
		return adapter.Checkout{}, fmt.Errorf("yookassa create: incomplete response: %s", string(raw))
	}

	return adapter.Checkout{URL: payment.Confirmation.ConfirmationURL, ExternalID: payment.ID}, nil
}

func (g *YooKassaGateway) QueryStatus(ctx context.Context, externalID string) (adapter.ProviderStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/payments/"+externalID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(g.shopID, g.secretKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", domain.ErrNotFound
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("yookassa query: status %d, body: %s", resp.StatusCode, string(raw))
	}

	var payment yooKassaPayment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return mapYooKassaStatus(payment.Status), nil
}

// Capture settles a waiting_for_capture payment for its full amount.
func (g *YooKassaGateway) Capture(ctx context.Context, externalID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments/"+externalID+"/capture", bytes.NewBufferString("{}"))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(g.shopID, g.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("yookassa capture: status %d, body: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// VerifySignature checks an HMAC-SHA256 of the raw webhook body against the
// shop secret. YooKassa integrations in the wild send the digest in three
// shapes; all are accepted, each compared in constant time:
//
//	"v1 <id> HMAC-SHA256 <base64>"
//	hex digest
//	bare base64 digest
func (g *YooKassaGateway) VerifySignature(rawBody []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(g.secretKey))
	mac.Write(rawBody)
	sum := mac.Sum(nil)

	if strings.HasPrefix(signature, "v1 ") {
		parts := strings.Fields(signature)
		if len(parts) != 4 {
			return false
		}
		sent, err := base64.StdEncoding.DecodeString(parts[3])
		if err != nil {
			return false
		}
		return hmac.Equal(sent, sum)
	}

	if sent, err := hex.DecodeString(signature); err == nil && len(sent) == sha256.Size {
		return hmac.Equal(sent, sum)
	}

	if sent, err := base64.StdEncoding.DecodeString(signature); err == nil && len(sent) == sha256.Size {
		return hmac.Equal(sent, sum)
	}

	return false
}

func mapYooKassaStatus(s string) adapter.ProviderStatus {
	switch s {
	case "succeeded":
		return adapter.ProviderStatusSucceeded
	case "waiting_for_capture":
		return adapter.ProviderStatusAwaitingCapture
	case "canceled":
		return adapter.ProviderStatusCanceled
	default:
		return adapter.ProviderStatusPending
	}
}
