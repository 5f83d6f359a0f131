package driver

import "errors"

// Driver errors.
//
// Attach failures wrap one of the step errors, and the step error may wrap
// the underlying cause:
//
//	if errors.Is(err, driver.ErrResolutionFailed) && errors.Is(err, catalogue.ErrNoMatch) {
//	    // announcement did not match any catalogue entry
//	}
var (
	// ErrResolutionFailed is returned when an announcement cannot be resolved
	// to a descriptor.
	ErrResolutionFailed = errors.New("driver: resolution failed")

	// ErrAllocationFailed is returned when a device buffer cannot be allocated,
	// including a zero or oversized capacity.
	ErrAllocationFailed = errors.New("driver: allocation failed")

	// ErrRegistrationFailed is returned when a device number cannot be
	// registered for I/O dispatch.
	ErrRegistrationFailed = errors.New("driver: registration failed")

	// ErrPublishFailed is returned when a device cannot be published to the
	// control plane.
	ErrPublishFailed = errors.New("driver: publish failed")

	// ErrUnknownDevice is returned when a device number is not bound.
	ErrUnknownDevice = errors.New("driver: unknown device")

	// ErrPermissionDenied is returned when an access mode is not allowed by the
	// device permission, or a session uses a direction it was not opened for.
	ErrPermissionDenied = errors.New("driver: permission denied")

	// ErrOutOfRange is returned when a seek lands outside [0, capacity].
	ErrOutOfRange = errors.New("driver: position out of range")

	// ErrNoSpace is returned when a write starts at or after the end of the device.
	ErrNoSpace = errors.New("driver: no space left on device")

	// ErrInvalidWhence is returned for an unknown seek origin.
	ErrInvalidWhence = errors.New("driver: invalid whence")

	// ErrInvalidCapacity is returned when setting a capacity of zero or above
	// the configured maximum.
	ErrInvalidCapacity = errors.New("driver: invalid capacity")

	// ErrUnknownAttribute is returned for an attribute name the device does not have.
	ErrUnknownAttribute = errors.New("driver: unknown attribute")

	// ErrReadOnlyAttribute is returned when storing to a read-only attribute.
	ErrReadOnlyAttribute = errors.New("driver: attribute is read-only")

	// ErrSessionClosed is returned when using a session after Close.
	ErrSessionClosed = errors.New("driver: session closed")

	// ErrRegistryClosed is returned by Attach and Open after the registry is closed.
	ErrRegistryClosed = errors.New("driver: registry closed")
)
