package domain

import "errors"

var (
	ErrDeviceUnavailable  = errors.New("capture device unavailable")
	ErrPermissionDenied   = errors.New("capture permission denied")
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrStaleSession       = errors.New("envelope does not match the active session")
	ErrNegotiationFailure = errors.New("negotiation failed")
	ErrRelayUnavailable   = errors.New("signaling relay unavailable")

	// ErrInvalidTransition is returned for intents that are not legal in the
	// current call status, e.g. answering while idle.
	ErrInvalidTransition = errors.New("invalid call transition")
	ErrBusy              = errors.New("a call is already in progress")
)
