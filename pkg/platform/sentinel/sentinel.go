package sentinel

import "errors"

// Sentinel errors for store-level facts. Stores return these wrapped with %w;
// the broker service translates them into domain errors before they reach a
// transport.
//
//   - ErrNotFound: no such session, grant or exchange token
//   - ErrExpired: the exchange token outlived its window
//   - ErrAlreadyUsed: a concurrent redeemer consumed the token first
//   - ErrUnavailable: the backing store could not be reached
var (
	ErrNotFound    = errors.New("not found")
	ErrExpired     = errors.New("expired")
	ErrAlreadyUsed = errors.New("already used")
	ErrUnavailable = errors.New("unavailable")
)
