package att

// Opcodes used on the attendance link. Values follow Core Spec v5.3 Vol 3, Part F, 3.4.
const (
	OpErrorResponse = 0x01

	OpExchangeMTURequest  = 0x02
	OpExchangeMTUResponse = 0x03

	// Characteristic value handle lookup by UUID
	OpReadByTypeRequest  = 0x08
	OpReadByTypeResponse = 0x09

	OpWriteRequest  = 0x12
	OpWriteResponse = 0x13

	// Write without response
	OpWriteCommand = 0x52
)

// OpcodeNames is used when logging PDUs
var OpcodeNames = map[uint8]string{
	OpErrorResponse:       "Error Response",
	OpExchangeMTURequest:  "Exchange MTU Request",
	OpExchangeMTUResponse: "Exchange MTU Response",
	OpReadByTypeRequest:   "Read By Type Request",
	OpReadByTypeResponse:  "Read By Type Response",
	OpWriteRequest:        "Write Request",
	OpWriteResponse:       "Write Response",
	OpWriteCommand:        "Write Command",
}

// ATT MTU bounds
const (
	DefaultMTU = 23
	MaxMTU     = 517
)

// IsRequest reports whether opcode expects a response from the server
func IsRequest(opcode uint8) bool {
	switch opcode {
	case OpExchangeMTURequest, OpReadByTypeRequest, OpWriteRequest:
		return true
	}
	return false
}

// IsResponse reports whether opcode answers a request
func IsResponse(opcode uint8) bool {
	switch opcode {
	case OpErrorResponse, OpExchangeMTUResponse, OpReadByTypeResponse, OpWriteResponse:
		return true
	}
	return false
}

// ResponseOpcode returns the success response for a request opcode, or 0
func ResponseOpcode(requestOpcode uint8) uint8 {
	switch requestOpcode {
	case OpExchangeMTURequest:
		return OpExchangeMTUResponse
	case OpReadByTypeRequest:
		return OpReadByTypeResponse
	case OpWriteRequest:
		return OpWriteResponse
	}
	return 0
}
