package payments

import (
	"context"
	"fmt"
)

// Gateway is the contract the booking core needs from a payment provider:
// place a hold on funds, capture part or all of it, or release it.
// Implementations must bound every call with a timeout.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
	Capture(ctx context.Context, authorizationID string, amountCents int64) (Receipt, error)
	Void(ctx context.Context, authorizationID string) error
}

// GatewayError carries the provider-specific failure reason so callers can
// log and surface it without parsing provider payloads themselves.
type GatewayError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *GatewayError) Unwrap() error { return e.Err }
