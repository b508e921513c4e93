package bridge

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/user/attendance-ping/session"
)

// Error codes seen by the UI layer
const (
	CodeNoBT           = "NO_BT"
	CodeErr            = "ERR"
	CodeClientErr      = "CLIENT_ERR"
	CodeServerErr      = "SERVER_ERR"
	CodeNotImplemented = "NotImplemented"
)

// Error is a failed Invoke: a short code plus a human readable message
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code string, err error) *Error {
	return &Error{Code: code, Message: err.Error(), Err: err}
}

// classify maps a session error onto a bridge code. fallback is used for
// anything that is neither missing hardware nor a bad argument.
func classify(err error, fallback string) *Error {
	switch {
	case session.IsNoRadio(err):
		return wrapError(CodeNoBT, err)
	case errors.Is(err, session.ErrInvalidArgument):
		return wrapError(CodeErr, err)
	default:
		return wrapError(fallback, err)
	}
}

// CodeOf returns the bridge code carried by err, or "" if there is none
func CodeOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

func grpcCode(code string) codes.Code {
	switch code {
	case CodeErr:
		return codes.InvalidArgument
	case CodeNoBT:
		return codes.FailedPrecondition
	case CodeClientErr, CodeServerErr:
		return codes.Unavailable
	case CodeNotImplemented:
		return codes.Unimplemented
	default:
		return codes.Unknown
	}
}

// toStatus renders err as a gRPC status whose message starts with the code
func toStatus(err error) error {
	var be *Error
	if !errors.As(err, &be) {
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(grpcCode(be.Code), be.Error())
}

// fromStatus recovers the bridge error from a status produced by toStatus
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	code, msg, found := strings.Cut(st.Message(), ": ")
	switch {
	case found && grpcCode(code) == st.Code():
		return &Error{Code: code, Message: msg, Err: err}
	default:
		return fmt.Errorf("bridge: %w", err)
	}
}
