package att

import (
	"encoding/binary"
	"fmt"
)

type ExchangeMTURequest struct {
	ClientRxMTU uint16
}

type ExchangeMTUResponse struct {
	ServerRxMTU uint16
}

type ErrorResponse struct {
	RequestOpcode uint8
	Handle        uint16
	ErrorCode     uint8
}

// ReadByTypeRequest looks up attributes of Type (a 2 or 16 byte little-endian UUID)
type ReadByTypeRequest struct {
	StartHandle uint16
	EndHandle   uint16
	Type        []byte
}

// ReadByTypeResponse carries Length-sized (handle, value) records
type ReadByTypeResponse struct {
	Length        uint8
	AttributeData []byte
}

type WriteRequest struct {
	Handle uint16
	Value  []byte
}

type WriteResponse struct{}

type WriteCommand struct {
	Handle uint16
	Value  []byte
}

// AsError converts an Error Response PDU into a Go error
func (r *ErrorResponse) AsError() *Error {
	return NewError(r.ErrorCode, r.RequestOpcode, r.Handle)
}

// EncodePacket serializes one of the PDU structs above
func EncodePacket(pkt interface{}) ([]byte, error) {
	switch p := pkt.(type) {
	case *ExchangeMTURequest:
		buf := make([]byte, 3)
		buf[0] = OpExchangeMTURequest
		binary.LittleEndian.PutUint16(buf[1:3], p.ClientRxMTU)
		return buf, nil

	case *ExchangeMTUResponse:
		buf := make([]byte, 3)
		buf[0] = OpExchangeMTUResponse
		binary.LittleEndian.PutUint16(buf[1:3], p.ServerRxMTU)
		return buf, nil

	case *ErrorResponse:
		buf := make([]byte, 5)
		buf[0] = OpErrorResponse
		buf[1] = p.RequestOpcode
		binary.LittleEndian.PutUint16(buf[2:4], p.Handle)
		buf[4] = p.ErrorCode
		return buf, nil

	case *ReadByTypeRequest:
		if len(p.Type) != 2 && len(p.Type) != 16 {
			return nil, fmt.Errorf("att: attribute type must be 2 or 16 bytes, got %d", len(p.Type))
		}
		buf := make([]byte, 5+len(p.Type))
		buf[0] = OpReadByTypeRequest
		binary.LittleEndian.PutUint16(buf[1:3], p.StartHandle)
		binary.LittleEndian.PutUint16(buf[3:5], p.EndHandle)
		copy(buf[5:], p.Type)
		return buf, nil

	case *ReadByTypeResponse:
		buf := make([]byte, 2+len(p.AttributeData))
		buf[0] = OpReadByTypeResponse
		buf[1] = p.Length
		copy(buf[2:], p.AttributeData)
		return buf, nil

	case *WriteRequest:
		buf := make([]byte, 3+len(p.Value))
		buf[0] = OpWriteRequest
		binary.LittleEndian.PutUint16(buf[1:3], p.Handle)
		copy(buf[3:], p.Value)
		return buf, nil

	case *WriteResponse:
		return []byte{OpWriteResponse}, nil

	case *WriteCommand:
		buf := make([]byte, 3+len(p.Value))
		buf[0] = OpWriteCommand
		binary.LittleEndian.PutUint16(buf[1:3], p.Handle)
		copy(buf[3:], p.Value)
		return buf, nil

	default:
		return nil, fmt.Errorf("att: unsupported packet type %T", pkt)
	}
}

// DecodePacket parses an ATT PDU. Unknown opcodes yield an *Error carrying
// ErrRequestNotSupported so the server can answer with it directly.
func DecodePacket(data []byte) (interface{}, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("att: empty packet")
	}
	opcode := data[0]
	body := data[1:]

	switch opcode {
	case OpExchangeMTURequest:
		if len(body) != 2 {
			return nil, NewError(ErrInvalidPDU, opcode, 0)
		}
		return &ExchangeMTURequest{ClientRxMTU: binary.LittleEndian.Uint16(body)}, nil

	case OpExchangeMTUResponse:
		if len(body) != 2 {
			return nil, fmt.Errorf("att: malformed MTU response")
		}
		return &ExchangeMTUResponse{ServerRxMTU: binary.LittleEndian.Uint16(body)}, nil

	case OpErrorResponse:
		if len(body) != 4 {
			return nil, fmt.Errorf("att: malformed error response")
		}
		return &ErrorResponse{
			RequestOpcode: body[0],
			Handle:        binary.LittleEndian.Uint16(body[1:3]),
			ErrorCode:     body[3],
		}, nil

	case OpReadByTypeRequest:
		if len(body) != 4+2 && len(body) != 4+16 {
			return nil, NewError(ErrInvalidPDU, opcode, 0)
		}
		t := make([]byte, len(body)-4)
		copy(t, body[4:])
		return &ReadByTypeRequest{
			StartHandle: binary.LittleEndian.Uint16(body[0:2]),
			EndHandle:   binary.LittleEndian.Uint16(body[2:4]),
			Type:        t,
		}, nil

	case OpReadByTypeResponse:
		if len(body) < 1 || body[0] == 0 || (len(body)-1)%int(body[0]) != 0 {
			return nil, fmt.Errorf("att: malformed read by type response")
		}
		d := make([]byte, len(body)-1)
		copy(d, body[1:])
		return &ReadByTypeResponse{Length: body[0], AttributeData: d}, nil

	case OpWriteRequest, OpWriteCommand:
		if len(body) < 2 {
			if opcode == OpWriteCommand {
				return nil, fmt.Errorf("att: malformed write command")
			}
			return nil, NewError(ErrInvalidPDU, opcode, 0)
		}
		handle := binary.LittleEndian.Uint16(body[0:2])
		value := make([]byte, len(body)-2)
		copy(value, body[2:])
		if opcode == OpWriteCommand {
			return &WriteCommand{Handle: handle, Value: value}, nil
		}
		return &WriteRequest{Handle: handle, Value: value}, nil

	case OpWriteResponse:
		return &WriteResponse{}, nil

	default:
		return nil, NewError(ErrRequestNotSupported, opcode, 0)
	}
}

// Opcode returns the opcode of an encoded PDU, or 0 for an empty slice
func Opcode(data []byte) uint8 {
	if len(data) == 0 {
		return 0
	}
	return data[0]
}
