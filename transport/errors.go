package transport

import (
	"github.com/pkg/errors"
)

var (
	// ErrTransfer matches every *TransferError.
	ErrTransfer = errors.New("transfer failure")

	// ErrCorruptHeader is reported when a chunk header fails its checksum.
	ErrCorruptHeader = errors.New("corrupt chunk header")

	// ErrChunkTooLarge is reported for chunks over Options.MaxChunkSize.
	ErrChunkTooLarge = errors.New("chunk too large")

	ErrBadHandshake = errors.New("bad byte order handshake")
)

// TransferError wraps a failure of the underlying stream or of the
// framing on top of it.
type TransferError struct {
	Op  string
	Err error
}

func transferErr(op string, err error, msg string) error {
	return &TransferError{Op: op, Err: errors.Wrap(err, msg)}
}

func (e *TransferError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func (e *TransferError) Is(target error) bool {
	return target == ErrTransfer
}
