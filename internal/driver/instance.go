package driver

import (
	"sync"
	"time"

	"github.com/nerrad567/pcd-core/internal/catalogue"
	"github.com/nerrad567/pcd-core/internal/pcd"
)

// instance is one bound device. Every field below mu is guarded by it;
// the fields above are set before the instance is registered and never change.
type instance struct {
	number     int
	name       string
	typeKey    string
	source     catalogue.Source
	tuning     catalogue.Tuning
	perm       pcd.Permission
	serial     string
	attachedAt time.Time

	mu       sync.Mutex
	buf      []byte // len(buf) is the current capacity
	detached bool
}

func newInstance(res catalogue.Resolution, now time.Time) *instance {
	return &instance{
		typeKey:    res.Entry.TypeKey,
		source:     res.Source,
		tuning:     res.Tuning,
		perm:       res.Descriptor.Permission,
		serial:     res.Descriptor.SerialNumber,
		attachedAt: now,
		name:       res.NodeName,
		buf:        make([]byte, res.Descriptor.Capacity),
	}
}

// capacityLocked returns the current capacity. mu must be held.
func (in *instance) capacityLocked() uint32 {
	return uint32(len(in.buf))
}

// resize truncates or zero-extends the buffer and returns the old capacity.
func (in *instance) resize(n uint32) (uint32, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.detached {
		return 0, ErrUnknownDevice
	}

	old := in.capacityLocked()
	next := make([]byte, n)
	copy(next, in.buf)
	in.buf = next
	return old, nil
}

// release marks the instance detached and drops its buffer. Sessions still
// holding the instance fail from then on.
func (in *instance) release() {
	in.mu.Lock()
	in.detached = true
	in.buf = nil
	in.mu.Unlock()
}

func (in *instance) info() (DeviceInfo, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.detached {
		return DeviceInfo{}, ErrUnknownDevice
	}
	return in.infoLocked(), nil
}

func (in *instance) infoLocked() DeviceInfo {
	return DeviceInfo{
		Number:     in.number,
		Name:       in.name,
		TypeKey:    in.typeKey,
		Source:     in.source,
		Capacity:   in.capacityLocked(),
		Permission: in.perm,
		Serial:     in.serial,
		Tuning:     in.tuning,
		AttachedAt: in.attachedAt,
	}
}
