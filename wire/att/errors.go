package att

import (
	"errors"
	"fmt"
)

// Error codes (Core Spec v5.3 Vol 3, Part F, 3.4.1.1)
const (
	ErrInvalidHandle               = 0x01
	ErrWriteNotPermitted           = 0x03
	ErrInvalidPDU                  = 0x04
	ErrRequestNotSupported         = 0x06
	ErrAttributeNotFound           = 0x0A
	ErrInvalidAttributeValueLength = 0x0D
	ErrUnlikelyError               = 0x0E

	ErrApplicationErrorStart = 0x80
	ErrApplicationErrorEnd   = 0x9F
)

var ErrorNames = map[uint8]string{
	ErrInvalidHandle:               "Invalid Handle",
	ErrWriteNotPermitted:           "Write Not Permitted",
	ErrInvalidPDU:                  "Invalid PDU",
	ErrRequestNotSupported:         "Request Not Supported",
	ErrAttributeNotFound:           "Attribute Not Found",
	ErrInvalidAttributeValueLength: "Invalid Attribute Value Length",
	ErrUnlikelyError:               "Unlikely Error",
}

// Error is an Error Response received from (or sent to) the remote side
type Error struct {
	Code          uint8
	RequestOpcode uint8
	Handle        uint16
}

func (e *Error) Error() string {
	name, ok := ErrorNames[e.Code]
	if !ok {
		if e.Code >= ErrApplicationErrorStart && e.Code <= ErrApplicationErrorEnd {
			name = fmt.Sprintf("Application Error (0x%02X)", e.Code)
		} else {
			name = fmt.Sprintf("Unknown Error (0x%02X)", e.Code)
		}
	}
	opcodeName, ok := OpcodeNames[e.RequestOpcode]
	if !ok {
		opcodeName = fmt.Sprintf("0x%02X", e.RequestOpcode)
	}
	return fmt.Sprintf("att: %s (handle 0x%04X, request %s)", name, e.Handle, opcodeName)
}

func NewError(code uint8, requestOpcode uint8, handle uint16) *Error {
	return &Error{Code: code, RequestOpcode: requestOpcode, Handle: handle}
}

// ErrorCode returns the ATT error code carried anywhere in err's chain, or 0
func ErrorCode(err error) uint8 {
	var attErr *Error
	if errors.As(err, &attErr) {
		return attErr.Code
	}
	return 0
}
