package engine

import "errors"

// Guard failures are detected before any mutation; a rejected operation never
// commits partial state.
var (
	// ErrUnauthorized is returned when the actor is not the required
	// principal (or the system) for the operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState is returned when the operation is not valid for the
	// auction's current status.
	ErrInvalidState = errors.New("invalid auction state")

	// ErrInvalidParameters covers rejected creation/configuration inputs,
	// e.g. a zero minimum step or a ceiling below the opening price.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrPriceTooLow is returned for bids below the opening price or below
	// the current highest bid plus the minimum step.
	ErrPriceTooLow = errors.New("price too low")

	// ErrPriceAboveCeiling is returned for bids above the upper bound price.
	ErrPriceAboveCeiling = errors.New("price above ceiling")

	// ErrSettlementFailed wraps collaborator failures during settlement. The
	// stop that triggered it is aborted and can be retried.
	ErrSettlementFailed = errors.New("settlement failed")
)
