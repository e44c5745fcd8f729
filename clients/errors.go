package clients

import "errors"

var (
	// ErrNilBalance is reported when a reader returns neither a balance nor an error.
	ErrNilBalance = errors.New("ledger returned no balance")

	// ErrNoLedger is reported by a Gateway built without a reader.
	ErrNoLedger = errors.New("no ledger reader configured")
)
