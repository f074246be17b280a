package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNetworkUnavailable = errors.New("all endpoints unavailable")
	ErrSimulationReverted = errors.New("simulation reverted")
	ErrNonceConflict      = errors.New("nonce conflict")
	ErrDeadlineExpired    = errors.New("deadline expired")
	ErrDegenerateDeadline = errors.New("degenerate deadline")
	ErrCircuitOpen        = errors.New("circuit open")
	ErrGasCeilingExceeded = errors.New("gas ceiling exceeded")
	ErrNonceExhausted     = errors.New("no nonce available")
	ErrSignerMismatch     = errors.New("signer mismatch")
)
