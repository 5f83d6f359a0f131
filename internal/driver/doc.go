// Package driver is the pseudo character device core.
//
// A Registry binds devices announced to it, dispatches I/O sessions to them
// and serves their control-plane attributes until they are detached.
//
// # Lifecycle
//
// Attach runs a fixed sequence and undoes completed steps in reverse order
// when a later one fails:
//
//  1. resolve the announcement through the catalogue (ErrResolutionFailed)
//  2. allocate the device buffer (ErrAllocationFailed)
//  3. assign the next device number
//  4. register the device for I/O dispatch, at most MaxDevices bound at once (ErrRegistrationFailed)
//  5. publish it to the control plane and the external Publisher (ErrPublishFailed);
//     the Publisher runs without the registry lock while the device is pending
//  6. count it as bound
//
// Device numbers are never reused within the lifetime of a Registry.
// Detach reverses steps 5 to 2. Close detaches everything in number order.
//
// # I/O
//
//	num, err := reg.Attach(ctx, catalogue.Announcement{Name: "pcdev-A1x", Platform: &desc})
//	s, err := reg.Open(num, pcd.AccessReadWrite)
//	defer s.Close()
//	s.Write([]byte("hello"))
//	s.Seek(0, io.SeekStart)
//
// Sessions are io.ReadWriteSeekers bounded by the device capacity.
//
// # Control plane
//
// Capacity, Serial and SetCapacity operate on a device by number, as do the
// text attributes "size" (alias "max_size") and "serial" (alias
// "serial_num") through Show and Store.
//
// # Thread Safety
//
// Registry mutation is serialised by a registry-wide lock. Each device has
// its own mutex that orders reads, writes and resizes on that device. The
// registry lock is taken before a device lock and never while one is held,
// and no operation holds two device locks. Observers run after every lock
// is released.
package driver
