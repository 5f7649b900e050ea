package ledger

import "fmt"

// Error wraps any failure from the ledger endpoint: network faults,
// authorization rejection by the contract, or a revert. Write errors
// must never be blindly retried by callers, since a duplicate
// transaction would double-append a record.
type Error struct {
	Op    string // contract operation name
	Write bool   // true when the failed call was a transaction
	Err   error  // underlying cause
}

func (e *Error) Error() string {
	kind := "call"
	if e.Write {
		kind = "transaction"
	}
	return fmt.Sprintf("ledger %s %s: %v", kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func callErr(op string, err error) error {
	return &Error{Op: op, Err: err}
}

func txErr(op string, err error) error {
	return &Error{Op: op, Write: true, Err: err}
}
