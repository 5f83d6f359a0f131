package pcd

import "errors"

// Validation errors for descriptors and permissions.
var (
	// ErrInvalidPermission is returned when a permission code is not one of
	// 0x01, 0x10 or 0x11.
	ErrInvalidPermission = errors.New("pcd: invalid permission")

	// ErrInvalidAccessMode is returned when an access mode string is not recognised.
	ErrInvalidAccessMode = errors.New("pcd: invalid access mode")

	// ErrInvalidCapacity is returned when a capacity is zero or cannot be parsed.
	ErrInvalidCapacity = errors.New("pcd: invalid capacity")

	// ErrInvalidSerial is returned when a serial number is empty or too long.
	ErrInvalidSerial = errors.New("pcd: invalid serial number")
)
