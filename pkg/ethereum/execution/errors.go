package execution

import "errors"

var (
	// ErrTransactionNotFound is returned when the node does not know the transaction.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrBlockNotFound is returned when the node does not have the block.
	ErrBlockNotFound = errors.New("block not found")

	// ErrMissingStack is returned when a trace was captured without the operand stack.
	ErrMissingStack = errors.New("struct log has no stack; trace with stack enabled")
)
