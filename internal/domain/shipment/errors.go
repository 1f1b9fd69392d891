package shipment

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
)

// Sentinel errors for shipment operations.
var (
	ErrCarrierUnavailable   = errors.New("carrier could not create the order")
	ErrAssociationFailed    = errors.New("carrier could not assign a courier")
	ErrNotCancellable       = errors.New("order cannot be cancelled")
	ErrCancellationRejected = errors.New("carrier rejected the cancellation")
	ErrAlreadyCancelled     = errors.New("order already cancelled")
	ErrAlreadyShipped       = errors.New("order already has a shipment")
	ErrInvalidCharge        = errors.New("final charges must be a known non-negative amount")
	ErrForbidden            = errors.New("order belongs to another customer")
	ErrInvalidOrder         = errors.New("invalid order")
)

// CarrierFailure wraps a failed carrier step together with the carrier's
// response so callers can show it to the user.
type CarrierFailure struct {
	Kind    error
	OrderID string
	Err     error
}

func (e *CarrierFailure) Error() string {
	return fmt.Sprintf("order %s: %s: %s", e.OrderID, e.Kind, e.Err)
}

// Is matches the failure kind.
func (e *CarrierFailure) Is(target error) bool {
	return target == e.Kind
}

func (e *CarrierFailure) Unwrap() error {
	return e.Err
}

// Payload returns the carrier's raw response, if any.
func (e *CarrierFailure) Payload() []byte {
	var cerr *carrier.Error
	if errors.As(e.Err, &cerr) {
		return cerr.Payload
	}
	return nil
}
