package rooms

import (
	"errors"
	"fmt"
)

// Code is a result code returned to clients. Codes are comparable errors, so
// callers match them with errors.Is.
type Code string

func (c Code) Error() string {
	return string(c)
}

const (
	ErrRoomFull         Code = "ROOM_FULL"
	ErrUnknownRoom      Code = "UNKNOWN_ROOM"
	ErrUnknownClient    Code = "UNKNOWN_CLIENT"
	ErrDuplicateClient  Code = "DUPLICATE_CLIENT"
	ErrTypeMismatch     Code = "TYPE_MISMATCH"
	ErrCalleeNotAllowed Code = "CALLEE_NOT_ALLOWED"
	ErrInvalidRoom      Code = "INVALID_ROOM"
	ErrInvalidCallee    Code = "INVALID_CALLEE"
	ErrInvalidCaller    Code = "INVALID_CALLER"
	ErrInvalidArgument  Code = "INVALID_ARGUMENT"
	ErrInternal         Code = "INTERNAL_ERROR"
	// ErrDelivery is reported when a forwarded message could not reach the peer.
	// Room membership is unaffected.
	ErrDelivery Code = "DELIVERY_ERROR"
)

// Kind groups codes by how a caller should react to them.
type Kind int

const (
	// KindValidation means the request itself was malformed.
	KindValidation Kind = iota
	// KindConflict means the request was well formed but the room state refused it.
	KindConflict
	// KindInternal means the server could not complete the request.
	KindInternal
)

func (c Code) Kind() Kind {
	switch c {
	case ErrInvalidArgument:
		return KindValidation
	case ErrInternal, ErrDelivery:
		return KindInternal
	case "":
		return KindInternal
	default:
		return KindConflict
	}
}

// CodeOf extracts the result code carried by err. Errors that carry no code
// are reported as ErrInternal; a nil error yields "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrInternal
}

func internalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
