package advertising

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/user/attendance-ping/util"
)

// Record is what a scanner sees of an advertising device. One CBOR file per
// advertiser stands in for the broadcast.
type Record struct {
	HardwareUUID string    `cbor:"1,keyasint"`
	Address      string    `cbor:"2,keyasint"`
	AdvData      []byte    `cbor:"3,keyasint"`
	Connectable  bool      `cbor:"4,keyasint"`
	UpdatedAt    time.Time `cbor:"5,keyasint"`
}

// Structures decodes the record's advertising payload
func (r *Record) Structures() ([]ADStructure, error) {
	return DecodeADStructures(r.AdvData)
}

// LocalName returns the advertised device name, or "" when the record
// carries none
func (r *Record) LocalName() string {
	structures, err := r.Structures()
	if err != nil {
		return ""
	}
	return LocalName(structures)
}

// Advertises reports whether the record lists serviceUUID
func (r *Record) Advertises(serviceUUID uuid.UUID) bool {
	structures, err := r.Structures()
	if err != nil {
		return false
	}
	for _, id := range ServiceUUIDs(structures) {
		if id == serviceUUID {
			return true
		}
	}
	return false
}

const recordExt = ".adv"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// GetAirDir returns the directory holding live advertisement records
func GetAirDir() string {
	dir := filepath.Join(util.GetDataDir(), "air")
	if err := os.MkdirAll(dir, 0755); err != nil {
		panic(err)
	}
	return dir
}

func recordPath(address string) string {
	name := strings.ToLower(strings.ReplaceAll(address, ":", ""))
	return filepath.Join(GetAirDir(), name+recordExt)
}

// Publish starts "broadcasting" r. The file is written atomically so a
// concurrent scan never sees a partial record.
func Publish(r *Record) error {
	if len(r.AdvData) > MaxAdvertisingDataLen {
		return fmt.Errorf("%w: %d bytes", ErrDataTooLarge, len(r.AdvData))
	}
	data, err := encMode.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode advertisement: %w", err)
	}
	path := recordPath(r.Address)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".adv-*")
	if err != nil {
		return fmt.Errorf("failed to publish advertisement: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish advertisement: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish advertisement: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish advertisement: %w", err)
	}
	return nil
}

// Withdraw stops broadcasting for address. Missing records are not an error.
func Withdraw(address string) error {
	if err := os.Remove(recordPath(address)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Lookup reads the record currently broadcast by address
func Lookup(address string) (*Record, error) {
	return readRecord(recordPath(address))
}

// Scan returns every live record advertising serviceUUID, sorted by address.
// uuid.Nil matches all records. Unreadable records are skipped.
func Scan(serviceUUID uuid.UUID) ([]*Record, error) {
	entries, err := os.ReadDir(GetAirDir())
	if err != nil {
		return nil, err
	}
	var found []*Record
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != recordExt {
			continue
		}
		r, err := readRecord(filepath.Join(GetAirDir(), e.Name()))
		if err != nil {
			continue
		}
		if serviceUUID != uuid.Nil && !r.Advertises(serviceUUID) {
			continue
		}
		found = append(found, r)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Address < found[j].Address })
	return found, nil
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode advertisement %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}
