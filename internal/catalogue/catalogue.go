package catalogue

import (
	"fmt"

	"github.com/nerrad567/pcd-core/internal/pcd"
)

// Type keys of the built-in catalogue.
const (
	TypePCDevA1x = "pcdev-A1x"
	TypePCDevB1x = "pcdev-B1x"
	TypePCDevC1x = "pcdev-C1x"
	TypePCDevD1x = "pcdev-D1x"
)

// Tuning holds the two per-type tuning values a catalogue entry points at.
// They are reported for diagnostics and never change device behaviour.
type Tuning struct {
	Item1 int `json:"item1"`
	Item2 int `json:"item2"`
}

// DescriptorFunc produces a descriptor for a matched type name.
type DescriptorFunc func() (pcd.Descriptor, error)

// Entry maps a device type key to its tuning index and, optionally, to a
// descriptor source used when the announcement carries no platform data.
type Entry struct {
	TypeKey     string
	ConfigIndex int

	// Produce takes precedence over Static when both are set.
	Produce DescriptorFunc
	Static  *pcd.Descriptor
}

// Catalogue is an ordered, immutable table of entries plus the tuning side
// table they index. It is safe for concurrent use.
type Catalogue struct {
	entries []Entry
	byKey   map[string]int
	tuning  []Tuning
}

// New builds a catalogue. Type keys must be unique and non-empty, and every
// ConfigIndex must address a row of tuning.
func New(entries []Entry, tuning []Tuning) (*Catalogue, error) {
	c := &Catalogue{
		entries: make([]Entry, 0, len(entries)),
		byKey:   make(map[string]int, len(entries)),
		tuning:  append([]Tuning(nil), tuning...),
	}

	for _, e := range entries {
		if e.TypeKey == "" {
			return nil, fmt.Errorf("%w: empty type key", ErrInvalidEntry)
		}
		if _, dup := c.byKey[e.TypeKey]; dup {
			return nil, fmt.Errorf("%w: duplicate type key %q", ErrInvalidEntry, e.TypeKey)
		}
		if e.ConfigIndex < 0 || e.ConfigIndex >= len(tuning) {
			return nil, fmt.Errorf("%w: %q config index %d out of range", ErrInvalidEntry, e.TypeKey, e.ConfigIndex)
		}
		if e.Static != nil {
			static := *e.Static
			e.Static = &static
		}
		c.byKey[e.TypeKey] = len(c.entries)
		c.entries = append(c.entries, e)
	}

	return c, nil
}

// Default returns the built-in catalogue of the four pcdev types.
func Default() *Catalogue {
	c, err := New([]Entry{
		{TypeKey: TypePCDevA1x, ConfigIndex: 0},
		{TypeKey: TypePCDevB1x, ConfigIndex: 1},
		{TypeKey: TypePCDevC1x, ConfigIndex: 2},
		{TypeKey: TypePCDevD1x, ConfigIndex: 3},
	}, []Tuning{
		{Item1: 60, Item2: 23},
		{Item1: 50, Item2: 13},
		{Item1: 40, Item2: 33},
		{Item1: 30, Item2: 43},
	})
	if err != nil {
		panic(fmt.Sprintf("catalogue: built-in table invalid: %v", err))
	}
	return c
}

// Lookup returns the entry registered under typeKey.
func (c *Catalogue) Lookup(typeKey string) (Entry, bool) {
	i, ok := c.byKey[typeKey]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Entries returns the entries in table order.
func (c *Catalogue) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Tuning returns the tuning row for an entry.
func (c *Catalogue) Tuning(e Entry) Tuning {
	if e.ConfigIndex < 0 || e.ConfigIndex >= len(c.tuning) {
		return Tuning{}
	}
	return c.tuning[e.ConfigIndex]
}

// Len returns the number of entries.
func (c *Catalogue) Len() int {
	return len(c.entries)
}

// match returns the first entry, in table order, whose key is one of the
// compatible strings.
func (c *Catalogue) match(compatible []string) (Entry, bool) {
	for _, e := range c.entries {
		for _, compat := range compatible {
			if compat == e.TypeKey {
				return e, true
			}
		}
	}
	return Entry{}, false
}
