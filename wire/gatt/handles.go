package gatt

import "bytes"

// Declaration types (16-bit, little-endian)
var (
	UUIDPrimaryService = []byte{0x00, 0x28} // 0x2800
	UUIDCharacteristic = []byte{0x03, 0x28} // 0x2803
)

// Characteristic properties
const (
	PropRead                 = 0x02
	PropWriteWithoutResponse = 0x04
	PropWrite                = 0x08
)

// Attribute permissions (server-side only, never sent over the air)
const (
	PermReadable = 0x01
	PermWritable = 0x02
)

// Attribute is a single row of the attribute table
type Attribute struct {
	Handle      uint16
	Type        []byte // 2 or 16 byte UUID, little-endian
	Value       []byte
	Permissions uint8
}

// Writable reports whether clients may write the attribute value
func (a *Attribute) Writable() bool {
	return a.Permissions&PermWritable != 0
}

// AttributeDatabase is the server's attribute table. It is built once before
// advertising starts and only read afterwards, so it needs no locking.
type AttributeDatabase struct {
	attributes []*Attribute
}

func NewAttributeDatabase() *AttributeDatabase {
	return &AttributeDatabase{}
}

// Add appends an attribute and returns its handle. Handles start at 0x0001.
func (db *AttributeDatabase) Add(attrType, value []byte, permissions uint8) uint16 {
	handle := uint16(len(db.attributes) + 1)
	db.attributes = append(db.attributes, &Attribute{
		Handle:      handle,
		Type:        append([]byte{}, attrType...),
		Value:       append([]byte{}, value...),
		Permissions: permissions,
	})
	return handle
}

// Attribute looks up a handle
func (db *AttributeDatabase) Attribute(handle uint16) (*Attribute, bool) {
	if handle == 0 || int(handle) > len(db.attributes) {
		return nil, false
	}
	return db.attributes[handle-1], true
}

// FindByType returns the attributes of attrType within [start, end]
func (db *AttributeDatabase) FindByType(start, end uint16, attrType []byte) []*Attribute {
	var found []*Attribute
	for _, a := range db.attributes {
		if a.Handle < start || a.Handle > end {
			continue
		}
		if bytes.Equal(a.Type, attrType) {
			found = append(found, a)
		}
	}
	return found
}

// Len returns the number of attributes
func (db *AttributeDatabase) Len() int {
	return len(db.attributes)
}
