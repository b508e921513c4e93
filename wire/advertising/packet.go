package advertising

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AD types used by the attendance advertisement (EIR/AD format)
const (
	ADTypeFlags                        = 0x01
	ADTypeIncomplete128BitServiceUUIDs = 0x06
	ADTypeComplete128BitServiceUUIDs   = 0x07
	ADTypeShortenedLocalName           = 0x08
	ADTypeCompleteLocalName            = 0x09
	ADTypeTxPowerLevel                 = 0x0A
)

// Advertising flags
const (
	FlagLEGeneralDiscoverableMode = 0x02
	FlagBREDRNotSupported         = 0x04
)

// MaxAdvertisingDataLen is the legacy (BLE 4.x) advertising data limit
const MaxAdvertisingDataLen = 31

var ErrDataTooLarge = errors.New("advertising: data too large")

// ADStructure is one TLV entry: [Length: 1 byte][Type: 1 byte][Data]
// where Length covers Type and Data.
type ADStructure struct {
	Type byte
	Data []byte
}

// EncodeADStructures packs structures into one advertising payload, failing
// with ErrDataTooLarge when the result would not fit in a legacy PDU.
func EncodeADStructures(structures []ADStructure) ([]byte, error) {
	var buf []byte
	for _, s := range structures {
		length := 1 + len(s.Data)
		if length > 255 {
			return nil, fmt.Errorf("AD structure too long: %d bytes (max 255)", length)
		}
		buf = append(buf, byte(length), s.Type)
		buf = append(buf, s.Data...)
	}
	if len(buf) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrDataTooLarge, len(buf), MaxAdvertisingDataLen)
	}
	return buf, nil
}

// DecodeADStructures parses an advertising payload. A zero length byte ends
// the payload (trailing padding).
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var structures []ADStructure
	offset := 0
	for offset < len(data) {
		length := int(data[offset])
		if length == 0 {
			break
		}
		offset++
		if offset+length > len(data) {
			return nil, fmt.Errorf("AD structure length exceeds data: length=%d, remaining=%d", length, len(data)-offset)
		}
		adData := make([]byte, length-1)
		copy(adData, data[offset+1:offset+length])
		structures = append(structures, ADStructure{Type: data[offset], Data: adData})
		offset += length
	}
	return structures, nil
}

func NewFlagsAD(flags byte) ADStructure {
	return ADStructure{Type: ADTypeFlags, Data: []byte{flags}}
}

func NewCompleteLocalNameAD(name string) ADStructure {
	return ADStructure{Type: ADTypeCompleteLocalName, Data: []byte(name)}
}

func NewTxPowerLevelAD(powerLevel int8) ADStructure {
	return ADStructure{Type: ADTypeTxPowerLevel, Data: []byte{byte(powerLevel)}}
}

// NewComplete128BitServiceUUIDsAD lists service UUIDs in over-the-air
// (little-endian) byte order.
func NewComplete128BitServiceUUIDsAD(ids ...uuid.UUID) ADStructure {
	data := make([]byte, 0, len(ids)*16)
	for _, id := range ids {
		data = append(data, reverse(id[:])...)
	}
	return ADStructure{Type: ADTypeComplete128BitServiceUUIDs, Data: data}
}

// LocalName returns the complete or shortened local name, or ""
func LocalName(structures []ADStructure) string {
	for _, s := range structures {
		if s.Type == ADTypeCompleteLocalName || s.Type == ADTypeShortenedLocalName {
			return string(s.Data)
		}
	}
	return ""
}

// Flags returns the flags byte, if present
func Flags(structures []ADStructure) (byte, bool) {
	for _, s := range structures {
		if s.Type == ADTypeFlags && len(s.Data) > 0 {
			return s.Data[0], true
		}
	}
	return 0, false
}

// ServiceUUIDs returns every 128-bit service UUID, complete or incomplete list
func ServiceUUIDs(structures []ADStructure) []uuid.UUID {
	var ids []uuid.UUID
	for _, s := range structures {
		if s.Type != ADTypeComplete128BitServiceUUIDs && s.Type != ADTypeIncomplete128BitServiceUUIDs {
			continue
		}
		if len(s.Data)%16 != 0 {
			continue
		}
		for i := 0; i < len(s.Data); i += 16 {
			var id uuid.UUID
			copy(id[:], reverse(s.Data[i:i+16]))
			ids = append(ids, id)
		}
	}
	return ids
}

// UUIDBytesLE returns id in the little-endian order used on the air and in ATT
func UUIDBytesLE(id uuid.UUID) []byte {
	return reverse(id[:])
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

// ADTypeName returns a human-readable name for an AD type
func ADTypeName(adType byte) string {
	switch adType {
	case ADTypeFlags:
		return "Flags"
	case ADTypeIncomplete128BitServiceUUIDs:
		return "Incomplete 128-bit Service UUIDs"
	case ADTypeComplete128BitServiceUUIDs:
		return "Complete 128-bit Service UUIDs"
	case ADTypeShortenedLocalName:
		return "Shortened Local Name"
	case ADTypeCompleteLocalName:
		return "Complete Local Name"
	case ADTypeTxPowerLevel:
		return "Tx Power Level"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", adType)
	}
}
