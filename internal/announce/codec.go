package announce

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/pcd-core/internal/catalogue"
	"github.com/nerrad567/pcd-core/internal/pcd"
)

// Format is a payload encoding.
type Format string

// Payload formats.
const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ParseFormat parses a configured format name. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCBOR:
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("announce: cbor encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyQuiet,
		IndefLength:    cbor.IndefLengthAllowed,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("announce: cbor decoder mode: %v", err))
	}
}

// AttachMessage is the wire form of a device announcement. Exactly one of
// Name and Node should be set; when both are, the node wins.
//
// With Name, the descriptor fields are optional: if none is present the
// catalogue entry's own descriptor is used. Perm accepts a number (0x11)
// or a name ("RDWR", "0x11").
type AttachMessage struct {
	Name         string       `json:"name,omitempty"`
	Node         *NodeMessage `json:"node,omitempty"`
	SerialNumber string       `json:"serial_number,omitempty"`
	Size         uint32       `json:"size,omitempty"`
	Perm         any          `json:"perm,omitempty"`
}

// NodeMessage is a description node carried inside an announcement.
type NodeMessage struct {
	Name       string         `json:"name"`
	Compatible []string       `json:"compatible"`
	Properties map[string]any `json:"properties,omitempty"`
}

// DetachMessage asks for a device to be detached by number or by name.
type DetachMessage struct {
	Number *int   `json:"number,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Announcement converts the message for the catalogue.
func (m AttachMessage) Announcement() (catalogue.Announcement, error) {
	if m.Node != nil {
		if m.Node.Name == "" || len(m.Node.Compatible) == 0 {
			return catalogue.Announcement{}, fmt.Errorf("%w: node needs a name and compatible list", ErrInvalidAnnouncement)
		}
		return catalogue.Announcement{
			Name: m.Node.Name,
			Node: &catalogue.DescriptionNode{
				NodeName:   m.Node.Name,
				Compat:     m.Node.Compatible,
				Properties: m.Node.Properties,
			},
		}, nil
	}

	if m.Name == "" {
		return catalogue.Announcement{}, fmt.Errorf("%w: neither name nor node given", ErrInvalidAnnouncement)
	}
	a := catalogue.Announcement{Name: m.Name}
	if m.SerialNumber == "" && m.Size == 0 && m.Perm == nil {
		return a, nil
	}

	perm, err := pcd.PermissionOf(m.Perm)
	if err != nil {
		return catalogue.Announcement{}, fmt.Errorf("%w: %w", ErrInvalidAnnouncement, err)
	}
	a.Platform = &pcd.Descriptor{
		Capacity:     m.Size,
		Permission:   perm,
		SerialNumber: m.SerialNumber,
	}
	return a, nil
}

// Decode unmarshals a JSON or CBOR payload into v. A payload whose first
// non-space byte is '{' is JSON; anything else is CBOR.
func Decode(payload []byte, v any) error {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("%w: json: %w", ErrDecode, err)
		}
		return nil
	}
	if err := decMode.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: cbor: %w", ErrDecode, err)
	}
	return nil
}

// DecodeAttach decodes an attach payload into a catalogue announcement.
func DecodeAttach(payload []byte) (catalogue.Announcement, error) {
	var m AttachMessage
	if err := Decode(payload, &m); err != nil {
		return catalogue.Announcement{}, err
	}
	normaliseNumbers(&m)
	return m.Announcement()
}

// DecodeDetach decodes a detach payload.
func DecodeDetach(payload []byte) (DetachMessage, error) {
	var m DetachMessage
	if err := Decode(payload, &m); err != nil {
		return DetachMessage{}, err
	}
	if m.Number == nil && m.Name == "" {
		return DetachMessage{}, fmt.Errorf("%w: detach needs a number or name", ErrInvalidAnnouncement)
	}
	return m, nil
}

// Encode marshals v in the given format.
func Encode(format Format, v any) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.Marshal(v)
	case FormatCBOR:
		return encMode.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// normaliseNumbers turns json.Number values into int64 or float64 so the
// catalogue's property readers see plain numbers.
func normaliseNumbers(m *AttachMessage) {
	m.Perm = plainNumber(m.Perm)
	if m.Node == nil {
		return
	}
	for k, v := range m.Node.Properties {
		m.Node.Properties[k] = plainNumber(v)
	}
}

func plainNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
