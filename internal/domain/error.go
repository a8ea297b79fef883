package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidPlan         = errors.New("unknown plan")
	ErrInvalidAmount       = errors.New("amount is not representable by the payment provider")
	ErrInvalidPromocode    = errors.New("promocode is not applicable")
	ErrInvalidSignature    = errors.New("notification signature verification failed")
	ErrOrderAlreadyFailed  = errors.New("order already failed")
	ErrProvisioningPending = errors.New("order is paid but the credential is not provisioned yet")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrUnsupported         = errors.New("operation not supported by this gateway")

	// Storage-layer errors
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context for query")
)
