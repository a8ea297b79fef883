package adapter

import "context"

// ProviderStatus is the normalized status vocabulary every gateway maps
// its own statuses onto. Callers must never branch on provider-specific
// strings.
type ProviderStatus string

const (
	ProviderStatusPending         ProviderStatus = "pending"
	ProviderStatusAwaitingCapture ProviderStatus = "awaiting_capture"
	ProviderStatusSucceeded       ProviderStatus = "succeeded"
	ProviderStatusCanceled        ProviderStatus = "canceled"
)

// Paid reports whether the status is evidence of a settled charge.
// awaiting_capture counts: the money is authorized and capture is ours
// to perform.
func (s ProviderStatus) Paid() bool {
	return s == ProviderStatusSucceeded || s == ProviderStatusAwaitingCapture
}

// Checkout is the result of creating a hosted-checkout session.
type Checkout struct {
	URL        string // where to redirect the user
	ExternalID string // provider payment id; empty for providers that only echo ours back
}

// CheckoutGateway is the hex port for payment providers.
type CheckoutGateway interface {
	Name() string

	// CreateCheckout opens a hosted payment session for amount kopecks and
	// returns the redirect URL plus the provider's payment id.
	CreateCheckout(ctx context.Context, orderID string, amount int64, description, returnURL string, meta map[string]string) (Checkout, error)

	// QueryStatus asks the provider for the current payment status.
	// Gateways without a query API return domain.ErrUnsupported.
	QueryStatus(ctx context.Context, externalID string) (ProviderStatus, error)

	// Capture settles an authorized payment (awaiting_capture -> succeeded).
	// Gateways that auto-capture return domain.ErrUnsupported.
	Capture(ctx context.Context, externalID string) error

	// VerifySignature authenticates an inbound notification. rawBody is the
	// unparsed request body (or canonical parameter string) and signature
	// the value the provider sent alongside it.
	VerifySignature(rawBody []byte, signature string) bool
}
