package pcd

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Permission is the access permission a device is created with.
type Permission uint8

// Permission codes as carried by device announcements.
const (
	PermReadOnly  Permission = 0x01
	PermWriteOnly Permission = 0x10
	PermReadWrite Permission = 0x11
)

// maxSerialLength bounds serial numbers so they fit a single attribute line.
const maxSerialLength = 64

// Valid reports whether p is one of the three known permission codes.
func (p Permission) Valid() bool {
	switch p {
	case PermReadOnly, PermWriteOnly, PermReadWrite:
		return true
	default:
		return false
	}
}

// String returns the short name of the permission.
func (p Permission) String() string {
	switch p {
	case PermReadOnly:
		return "RDONLY"
	case PermWriteOnly:
		return "WRONLY"
	case PermReadWrite:
		return "RDWR"
	default:
		return fmt.Sprintf("Permission(0x%02x)", uint8(p))
	}
}

// Allows reports whether a device with permission p may be opened with mode m.
// ReadWrite devices accept every mode; the other two accept only their own.
func (p Permission) Allows(m AccessMode) bool {
	switch p {
	case PermReadWrite:
		return m.Valid()
	case PermReadOnly:
		return m == AccessReadOnly
	case PermWriteOnly:
		return m == AccessWriteOnly
	default:
		return false
	}
}

// MarshalJSON encodes the permission as its short name.
func (p Permission) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts either the numeric code or any name ParsePermission knows.
func (p *Permission) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	perm, err := PermissionOf(v)
	if err != nil {
		return err
	}
	*p = perm
	return nil
}

// ParsePermission parses a permission from its name or numeric code.
//
// Accepted forms (case-insensitive): "rdonly", "ro", "read-only", "wronly",
// "wo", "write-only", "rdwr", "rw", "read-write", and numeric codes with an
// optional base prefix ("0x11", "17").
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rdonly", "ro", "read-only", "readonly":
		return PermReadOnly, nil
	case "wronly", "wo", "write-only", "writeonly":
		return PermWriteOnly, nil
	case "rdwr", "rw", "read-write", "readwrite":
		return PermReadWrite, nil
	}

	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}
	p := Permission(n)
	if !p.Valid() {
		return 0, fmt.Errorf("%w: 0x%02x", ErrInvalidPermission, n)
	}
	return p, nil
}

// PermissionOf converts a decoded value (JSON, CBOR or YAML scalar) to a Permission.
func PermissionOf(v any) (Permission, error) {
	var n uint64
	switch val := v.(type) {
	case string:
		return ParsePermission(val)
	case Permission:
		n = uint64(val)
	case int:
		if val < 0 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidPermission, val)
		}
		n = uint64(val)
	case int64:
		if val < 0 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidPermission, val)
		}
		n = uint64(val)
	case uint64:
		n = val
	case uint32:
		n = uint64(val)
	case float64:
		if val < 0 || val != math.Trunc(val) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidPermission, val)
		}
		n = uint64(val)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidPermission, v)
	}

	if n > math.MaxUint8 || !Permission(n).Valid() {
		return 0, fmt.Errorf("%w: 0x%02x", ErrInvalidPermission, n)
	}
	return Permission(n), nil
}

// AccessMode is the mode a caller requests when opening a device.
type AccessMode int

// Access modes.
const (
	AccessReadOnly AccessMode = iota + 1
	AccessWriteOnly
	AccessReadWrite
)

// Valid reports whether m is a known access mode.
func (m AccessMode) Valid() bool {
	return m >= AccessReadOnly && m <= AccessReadWrite
}

// CanRead reports whether sessions opened with m may read.
func (m AccessMode) CanRead() bool {
	return m == AccessReadOnly || m == AccessReadWrite
}

// CanWrite reports whether sessions opened with m may write.
func (m AccessMode) CanWrite() bool {
	return m == AccessWriteOnly || m == AccessReadWrite
}

func (m AccessMode) String() string {
	switch m {
	case AccessReadOnly:
		return "r"
	case AccessWriteOnly:
		return "w"
	case AccessReadWrite:
		return "rw"
	default:
		return fmt.Sprintf("AccessMode(%d)", int(m))
	}
}

// ParseAccessMode parses "r", "w" or "rw" (and their long forms).
func ParseAccessMode(s string) (AccessMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "r", "ro", "read", "rdonly", "read-only":
		return AccessReadOnly, nil
	case "w", "wo", "write", "wronly", "write-only":
		return AccessWriteOnly, nil
	case "rw", "wr", "read-write", "rdwr":
		return AccessReadWrite, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidAccessMode, s)
	}
}

// Descriptor is the resolved configuration of one device instance.
type Descriptor struct {
	Capacity     uint32     `json:"size" yaml:"size"`
	Permission   Permission `json:"perm" yaml:"perm"`
	SerialNumber string     `json:"serial_number" yaml:"serial_number"`
}

// Validate checks the permission and serial number. Capacity is not checked
// here: a zero capacity is an allocation failure, reported by the driver.
func (d Descriptor) Validate() error {
	if !d.Permission.Valid() {
		return fmt.Errorf("%w: 0x%02x", ErrInvalidPermission, uint8(d.Permission))
	}
	if d.SerialNumber == "" || len(d.SerialNumber) > maxSerialLength {
		return fmt.Errorf("%w: %q", ErrInvalidSerial, d.SerialNumber)
	}
	if strings.ContainsAny(d.SerialNumber, "\n\r") {
		return fmt.Errorf("%w: contains line break", ErrInvalidSerial)
	}
	return nil
}

// ParseCapacity parses a capacity value with an optional base prefix
// ("512", "0x200", "0o1000"). Zero is rejected.
func ParseCapacity(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCapacity, s)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCapacity)
	}
	return uint32(n), nil
}
