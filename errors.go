package objgraph

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrFormatViolation matches every *FormatError.
	ErrFormatViolation = errors.New("format violation")

	// ErrInvalidListLayout is reported when a variable section claims more
	// elements than the entity can hold.
	ErrInvalidListLayout = errors.New("invalid list layout")

	// ErrUnhandledType matches every *UnhandledTypeError.
	ErrUnhandledType = errors.New("unhandled type")

	// ErrLegacyMapping matches every *LegacyMappingError.
	ErrLegacyMapping = errors.New("legacy mapping failure")

	// ErrNotWritable is returned when a write is attempted while the
	// WriteController reports that writing is disabled.
	ErrNotWritable = errors.New("storage is not writable")
)

// FormatError reports bytes that cannot be decoded: bad headers, lengths,
// checksums or list layouts.
type FormatError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func formatErrf(data []byte, off int, err error, format string, args ...any) error {
	return &FormatError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormatViolation
}

func (e *FormatError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	var msg string
	if e.Err != nil {
		msg = fmt.Sprintf("%s at %d: %v", e.Msg, e.Off, e.Err)
	} else {
		msg = fmt.Sprintf("%s at %d", e.Msg, e.Off)
	}
	if e.Data == nil {
		return msg
	} else if n <= prefixLen+suffixLen {
		return fmt.Sprintf("%s: (%d) %x", msg, n, e.Data)
	} else {
		return fmt.Sprintf("%s: (%d) %x...%x", msg, n, e.Data[:prefixLen], e.Data[n-suffixLen:])
	}
}

// UnhandledTypeError means no handler is registered (or derivable) for a Go
// type being stored or for a type ID being loaded.
type UnhandledTypeError struct {
	GoType   reflect.Type
	TypeID   uint64
	TypeName string
	Msg      string
}

func (e *UnhandledTypeError) Is(target error) bool {
	return target == ErrUnhandledType
}

func (e *UnhandledTypeError) Error() string {
	var buf strings.Builder
	buf.WriteString("unhandled type")
	if e.GoType != nil {
		buf.WriteByte(' ')
		buf.WriteString(e.GoType.String())
	}
	if e.TypeName != "" {
		fmt.Fprintf(&buf, " %q", e.TypeName)
	}
	if e.TypeID != 0 {
		fmt.Fprintf(&buf, " (type ID %d)", e.TypeID)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	return buf.String()
}

// LegacyMappingError reports a legacy layout that cannot be reconciled with
// the current type without guessing.
type LegacyMappingError struct {
	TypeName string
	Member   string
	Msg      string
	Err      error
}

func legacyErrf(typeName, member string, err error, format string, args ...any) error {
	return &LegacyMappingError{typeName, member, fmt.Sprintf(format, args...), err}
}

func (e *LegacyMappingError) Unwrap() error {
	return e.Err
}

func (e *LegacyMappingError) Is(target error) bool {
	return target == ErrLegacyMapping
}

func (e *LegacyMappingError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.TypeName)
	if e.Member != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Member)
	}
	buf.WriteString(": ")
	buf.WriteString(e.Msg)
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
