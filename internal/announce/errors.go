package announce

import "errors"

// Domain errors for announcement handling.
var (
	// ErrDecode is returned when a payload is neither valid JSON nor valid CBOR.
	ErrDecode = errors.New("announce: cannot decode payload")

	// ErrInvalidAnnouncement is returned when a decoded announcement names
	// neither a type nor a node, or carries an unusable field.
	ErrInvalidAnnouncement = errors.New("announce: invalid announcement")

	// ErrUnknownTopic is returned for messages on a topic the listener does not handle.
	ErrUnknownTopic = errors.New("announce: unknown topic")

	// ErrDeviceNotFound is returned when a detach request names no bound device.
	ErrDeviceNotFound = errors.New("announce: device not found")

	// ErrUnsupportedFormat is returned for a payload format other than json or cbor.
	ErrUnsupportedFormat = errors.New("announce: unsupported payload format")
)
