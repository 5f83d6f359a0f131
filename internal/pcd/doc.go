// Package pcd defines the data model shared by every layer of the pseudo
// character device core: the device Descriptor, the three-state Permission
// a device is created with, and the AccessMode a caller requests when it
// opens a device.
//
// # Permission codes
//
// Permissions use the codes carried by device announcements:
//
//	0x01  read-only
//	0x10  write-only
//	0x11  read-write
//
// The compatibility between a device Permission and a requested AccessMode
// is decided by Permission.Allows:
//
//	device perm   read-only req   write-only req   read-write req
//	ReadOnly      allow           deny             deny
//	WriteOnly     deny            allow            deny
//	ReadWrite     allow           allow            allow
//
// # Usage
//
//	desc := pcd.Descriptor{
//	    Capacity:     512,
//	    Permission:   pcd.PermReadWrite,
//	    SerialNumber: "PCDEVABC1111",
//	}
//	if err := desc.Validate(); err != nil {
//	    return err
//	}
package pcd
