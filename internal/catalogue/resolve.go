package catalogue

import (
	"fmt"

	"github.com/nerrad567/pcd-core/internal/pcd"
)

// Announcement describes a device being offered to the driver. Either Node
// or Name identifies it; Node wins when both are set.
type Announcement struct {
	// Name is the explicit type name used for catalogue lookup.
	Name string

	// Node is the hardware-description node, if the device came from a tree.
	Node Node

	// Platform carries descriptor data supplied alongside a named announcement.
	Platform *pcd.Descriptor
}

// Source records which matching strategy produced a resolution.
type Source int

// Resolution sources.
const (
	SourceCatalogue Source = iota + 1
	SourceDescription
)

func (s Source) String() string {
	switch s {
	case SourceCatalogue:
		return "catalogue"
	case SourceDescription:
		return "description"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// MarshalText encodes the source by name.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Resolution is the outcome of matching one announcement.
type Resolution struct {
	Source     Source
	Descriptor pcd.Descriptor
	Entry      Entry
	Tuning     Tuning

	// NodeName is set for description-node resolutions.
	NodeName string
}

// Resolve matches an announcement against the catalogue.
//
// A description node is matched by its compatible strings and must carry the
// serial number, size and permission properties. Otherwise the announcement
// name is looked up and the descriptor comes from, in order, the platform
// data, the entry's producer, or the entry's static descriptor.
func (c *Catalogue) Resolve(a Announcement) (Resolution, error) {
	if a.Node != nil {
		return c.resolveNode(a.Node)
	}
	return c.resolveName(a)
}

func (c *Catalogue) resolveNode(n Node) (Resolution, error) {
	entry, ok := c.match(n.Compatible())
	if !ok {
		return Resolution{}, fmt.Errorf("%w: node %q compatible %v", ErrNoMatch, n.Name(), n.Compatible())
	}

	serial, ok := n.ReadString(PropSerialNumber)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrMissingProperty, PropSerialNumber)
	}
	size, ok := n.ReadU32(PropSize)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrMissingProperty, PropSize)
	}
	rawPerm, ok := n.ReadU32(PropPermission)
	if !ok {
		// Permission may also be written by name ("rdwr").
		name, named := n.ReadString(PropPermission)
		if !named {
			return Resolution{}, fmt.Errorf("%w: %s", ErrMissingProperty, PropPermission)
		}
		p, err := pcd.ParsePermission(name)
		if err != nil {
			return Resolution{}, err
		}
		rawPerm = uint32(p)
	}
	perm, err := pcd.PermissionOf(uint64(rawPerm))
	if err != nil {
		return Resolution{}, err
	}

	desc := pcd.Descriptor{Capacity: size, Permission: perm, SerialNumber: serial}
	if err := desc.Validate(); err != nil {
		return Resolution{}, err
	}

	return Resolution{
		Source:     SourceDescription,
		Descriptor: desc,
		Entry:      entry,
		Tuning:     c.Tuning(entry),
		NodeName:   n.Name(),
	}, nil
}

func (c *Catalogue) resolveName(a Announcement) (Resolution, error) {
	entry, ok := c.Lookup(a.Name)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %q", ErrNoMatch, a.Name)
	}

	var desc pcd.Descriptor
	switch {
	case a.Platform != nil:
		desc = *a.Platform
	case entry.Produce != nil:
		d, err := entry.Produce()
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: %s: %w", ErrNoDescriptor, entry.TypeKey, err)
		}
		desc = d
	case entry.Static != nil:
		desc = *entry.Static
	default:
		return Resolution{}, fmt.Errorf("%w: %s", ErrNoDescriptor, entry.TypeKey)
	}

	if err := desc.Validate(); err != nil {
		return Resolution{}, err
	}

	return Resolution{
		Source:     SourceCatalogue,
		Descriptor: desc,
		Entry:      entry,
		Tuning:     c.Tuning(entry),
	}, nil
}
