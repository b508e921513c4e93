package gatt

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/user/attendance-ping/wire/advertising"
)

// BuildWriteOnlyService lays out one primary service holding one write-only
// characteristic and returns the handle clients write to:
//
//	0x0001  primary service declaration   value: service UUID
//	0x0002  characteristic declaration    value: properties, value handle, characteristic UUID
//	0x0003  characteristic value          write-only
func BuildWriteOnlyService(serviceUUID, charUUID uuid.UUID) (*AttributeDatabase, uint16) {
	db := NewAttributeDatabase()
	db.Add(UUIDPrimaryService, advertising.UUIDBytesLE(serviceUUID), PermReadable)

	charType := advertising.UUIDBytesLE(charUUID)
	valueHandle := uint16(db.Len() + 2)
	decl := make([]byte, 3, 3+len(charType))
	decl[0] = PropWrite | PropWriteWithoutResponse
	binary.LittleEndian.PutUint16(decl[1:3], valueHandle)
	decl = append(decl, charType...)
	db.Add(UUIDCharacteristic, decl, PermReadable)

	db.Add(charType, nil, PermWritable)
	return db, valueHandle
}
