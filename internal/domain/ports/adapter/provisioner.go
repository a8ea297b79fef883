package adapter

import "context"

// Provisioner is the hex port for the external service that mints VPN
// client credentials. It knows nothing about payments and is not assumed
// idempotent; the order state machine guarantees at most one call per
// completed payment.
type Provisioner interface {
	// CreateClient registers a client for the subscriber and returns the
	// opaque credential (a VLESS link). Calls must be made with a bounded
	// timeout; on failure the caller retries via reconciliation, never by
	// looping here.
	CreateClient(ctx context.Context, subscriberID string, validityDays int) (string, error)
}
