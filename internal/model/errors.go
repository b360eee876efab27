package model

import "errors"

// Domain error taxonomy. Handlers map these to HTTP status codes with
// errors.Is; core packages wrap them with context via fmt.Errorf("%w").
var (
	// ErrUnsupportedAsset is returned when a basket names an asset the
	// engine is not configured to accept.
	ErrUnsupportedAsset = errors.New("collateral: unsupported asset")

	// ErrZeroAmount is returned when a basket entry has a non-positive amount.
	ErrZeroAmount = errors.New("collateral: amount must be positive")

	// ErrValuationUnavailable is returned when the valuation gateway cannot
	// produce a USD total for the basket.
	ErrValuationUnavailable = errors.New("collateral: valuation unavailable")

	// ErrNotAuthorized is returned when the caller may not run the
	// requested strategy yet.
	ErrNotAuthorized = errors.New("collateral: not authorized")

	// ErrAlreadyProcessed is returned on any replayed fulfillment or
	// strategy call for a consumed request.
	ErrAlreadyProcessed = errors.New("collateral: request already processed")

	// ErrNotEligibleYet is returned when a time-gated strategy is invoked
	// before its eligibility timestamp.
	ErrNotEligibleYet = errors.New("collateral: strategy not eligible yet")

	// ErrSystemPaused is returned for new submissions while the circuit
	// breaker is open. Recovery strategies are never gated by it.
	ErrSystemPaused = errors.New("collateral: system paused")

	// ErrPositionNotWithdrawable is returned when withdrawing from a
	// position that is not in the minted state.
	ErrPositionNotWithdrawable = errors.New("collateral: position not withdrawable")

	// ErrInsufficientMinted is returned when the burn amount exceeds the
	// position's outstanding minted amount.
	ErrInsufficientMinted = errors.New("collateral: burn exceeds minted amount")

	// ErrParseFailure is returned when a risk-assessment response carries
	// no recognizable ratio or confidence token.
	ErrParseFailure = errors.New("collateral: unparseable risk response")

	// ErrExternalCallFailed is returned when a collaborator call (token
	// movement, compute submission) fails; the enclosing operation aborts.
	ErrExternalCallFailed = errors.New("collateral: external call failed")

	// ErrFingerprintMismatch is returned when a fulfillment names a request
	// whose recorded fingerprint does not match.
	ErrFingerprintMismatch = errors.New("collateral: request fingerprint mismatch")

	// ErrPositionNotFound / ErrRequestNotFound are returned by stores.
	ErrPositionNotFound = errors.New("collateral: position not found")
	ErrRequestNotFound  = errors.New("collateral: request not found")
)
