package catalogue

import "errors"

// Resolution errors.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, catalogue.ErrMissingProperty) {
//	    // description node is incomplete
//	}
var (
	// ErrNoMatch is returned when neither the description node nor the
	// announced type name matches a catalogue entry.
	ErrNoMatch = errors.New("catalogue: no match")

	// ErrMissingProperty is returned when a description node lacks one of the
	// required properties. The property name is appended to the message.
	ErrMissingProperty = errors.New("catalogue: missing property")

	// ErrNoDescriptor is returned when a type name matched but no descriptor
	// was supplied by the announcement or the catalogue entry.
	ErrNoDescriptor = errors.New("catalogue: no descriptor available")

	// ErrInvalidEntry is returned when building a catalogue from bad entries.
	ErrInvalidEntry = errors.New("catalogue: invalid entry")

	// ErrInvalidTree is returned when a description tree cannot be parsed.
	ErrInvalidTree = errors.New("catalogue: invalid description tree")
)
