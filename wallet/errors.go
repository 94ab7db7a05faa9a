package wallet

import "errors"

var (
	// ErrUnsupported is returned for operations the active back-end mode
	// cannot serve (eth_call and gas estimation in SPV mode).
	ErrUnsupported = errors.New("wallet: operation not supported in this mode")

	// ErrCancelled is returned once to callers whose operation was cut
	// short by Stop or Clear.
	ErrCancelled = errors.New("wallet: operation cancelled")

	// ErrNotStarted is returned for operations that need a running
	// back-end.
	ErrNotStarted = errors.New("wallet: controller not started")

	// ErrAlreadyStarted is returned by Start on a running controller.
	ErrAlreadyStarted = errors.New("wallet: controller already started")

	// ErrInvalidAmount is returned for negative or nil transfer values.
	ErrInvalidAmount = errors.New("wallet: invalid transfer amount")
)
