package session

import (
	"errors"
)

var (
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrNilParameter       = errors.New("nil parameter")
	ErrHostedDisabled     = errors.New("hosted flag not enabled")
	ErrMalformedIDToken   = errors.New("malformed id_token")
	ErrPopupBlocked       = errors.New("popup blocked")
	ErrCrossOrigin        = errors.New("cross origin location")
	ErrUnexpectedResponse = errors.New("unexpected response")
)
