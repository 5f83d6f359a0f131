package driver

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/nerrad567/pcd-core/internal/pcd"
)

// Control-plane attribute names.
const (
	AttrSize   = "size"
	AttrSerial = "serial"
)

// attrAliases maps accepted alternative names to attributes.
var attrAliases = map[string]string{
	AttrSize:     AttrSize,
	"max_size":   AttrSize,
	AttrSerial:   AttrSerial,
	"serial_num": AttrSerial,
}

// Attributes lists the attribute names every device exposes.
func Attributes() []string {
	return []string{AttrSize, AttrSerial}
}

// lookup returns the published instance for number.
func (r *Registry) lookup(number int) (*instance, error) {
	r.mu.RLock()
	inst, ok := r.published[number]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, number)
	}
	return inst, nil
}

// Capacity returns the current capacity of a device.
func (r *Registry) Capacity(number int) (uint32, error) {
	inst, err := r.lookup(number)
	if err != nil {
		return 0, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.detached {
		return 0, fmt.Errorf("%w: %d", ErrUnknownDevice, number)
	}
	return inst.capacityLocked(), nil
}

// Serial returns the serial number of a device.
func (r *Registry) Serial(number int) (string, error) {
	inst, err := r.lookup(number)
	if err != nil {
		return "", err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.detached {
		return "", fmt.Errorf("%w: %d", ErrUnknownDevice, number)
	}
	return inst.serial, nil
}

// SetCapacity resizes a device, truncating or zero-extending its buffer.
// Open sessions see the new capacity on their next call.
func (r *Registry) SetCapacity(number int, capacity uint32) error {
	if capacity == 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidCapacity)
	}
	if capacity > r.cfg.MaxCapacity {
		return fmt.Errorf("%w: %d exceeds maximum %d", ErrInvalidCapacity, capacity, r.cfg.MaxCapacity)
	}

	inst, err := r.lookup(number)
	if err != nil {
		return err
	}

	old, err := inst.resize(capacity)
	if err != nil {
		return fmt.Errorf("%w: %d", err, number)
	}

	r.logger.Info("device resized", "number", number, "from", old, "to", capacity)
	r.notify(Event{
		Type:         EventResized,
		Number:       number,
		Name:         inst.name,
		TypeKey:      inst.typeKey,
		Serial:       inst.serial,
		Capacity:     capacity,
		PrevCapacity: old,
		At:           r.now(),
	})
	return nil
}

// Show returns the text value of a named attribute.
func (r *Registry) Show(number int, attr string) (string, error) {
	switch attrAliases[attr] {
	case AttrSize:
		capacity, err := r.Capacity(number)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(uint64(capacity), 10), nil
	case AttrSerial:
		return r.Serial(number)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
}

// Store sets a named attribute from its text value. Sizes accept a base
// prefix ("0x200"). The serial number is read-only.
func (r *Registry) Store(number int, attr, value string) error {
	switch attrAliases[attr] {
	case AttrSize:
		capacity, err := pcd.ParseCapacity(value)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCapacity, err)
		}
		return r.SetCapacity(number, capacity)
	case AttrSerial:
		if _, err := r.lookup(number); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrReadOnlyAttribute, AttrSerial)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
}

// Info returns a snapshot of a device.
func (r *Registry) Info(number int) (DeviceInfo, error) {
	inst, err := r.lookup(number)
	if err != nil {
		return DeviceInfo{}, err
	}
	info, err := inst.info()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %d", err, number)
	}
	return info, nil
}

// List returns a snapshot of every bound device in number order.
func (r *Registry) List() []DeviceInfo {
	r.mu.RLock()
	instances := make([]*instance, 0, len(r.published))
	for _, inst := range r.published {
		instances = append(instances, inst)
	}
	r.mu.RUnlock()

	infos := make([]DeviceInfo, 0, len(instances))
	for _, inst := range instances {
		info, err := inst.info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Number < infos[j].Number })
	return infos
}
