package rfcomm

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Service-record handshake, sent by the dialer right after the socket opens:
//
//	[len: 4 bytes BE][hardware UUID: len bytes][session UUID: 16 bytes]
//
// The listener answers with a single status byte.
const (
	statusAccepted byte = 0x00
	statusRejected byte = 0x01

	maxHardwareIDLen = 256
)

func writeHello(w io.Writer, hardwareUUID string, sessionID uuid.UUID) error {
	id := []byte(hardwareUUID)
	buf := make([]byte, 4+len(id)+16)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(id)))
	copy(buf[4:], id)
	copy(buf[4+len(id):], sessionID[:])
	_, err := w.Write(buf)
	return err
}

func readHello(r io.Reader) (hardwareUUID string, sessionID uuid.UUID, err error) {
	var idLen uint32
	if err = binary.Read(r, binary.BigEndian, &idLen); err != nil {
		return "", uuid.Nil, err
	}
	if idLen > maxHardwareIDLen {
		return "", uuid.Nil, fmt.Errorf("hardware id too long: %d bytes", idLen)
	}
	id := make([]byte, idLen)
	if _, err = io.ReadFull(r, id); err != nil {
		return "", uuid.Nil, err
	}
	if _, err = io.ReadFull(r, sessionID[:]); err != nil {
		return "", uuid.Nil, err
	}
	return string(id), sessionID, nil
}
