package catalogue

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Required description-node properties.
const (
	PropSerialNumber = "org,device-serial-num"
	PropSize         = "org,size"
	PropPermission   = "org,perm"
)

// Node is a hardware-description node announcing one device.
type Node interface {
	// Name identifies the node in logs and device info.
	Name() string

	// Compatible lists the type keys the node claims, most specific first.
	Compatible() []string

	// ReadString returns a string property.
	ReadString(prop string) (string, bool)

	// ReadU32 returns an unsigned 32-bit property.
	ReadU32(prop string) (uint32, bool)
}

// DescriptionNode is a Node backed by a property map, as loaded from a
// YAML description tree.
type DescriptionNode struct {
	NodeName   string         `yaml:"name" json:"name"`
	Compat     stringList     `yaml:"compatible" json:"compatible"`
	Properties map[string]any `yaml:"properties" json:"properties"`
}

// descriptionTree is the top level of a description tree file.
type descriptionTree struct {
	Devices []*DescriptionNode `yaml:"devices"`
}

// Name implements Node.
func (n *DescriptionNode) Name() string { return n.NodeName }

// Compatible implements Node.
func (n *DescriptionNode) Compatible() []string { return n.Compat }

// ReadString implements Node.
func (n *DescriptionNode) ReadString(prop string) (string, bool) {
	v, ok := n.Properties[prop]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	case int, int64, uint64, float64:
		return fmt.Sprint(s), true
	default:
		return "", false
	}
}

// ReadU32 implements Node. Strings are parsed with a base prefix so that
// "0x11" and 17 read the same.
func (n *DescriptionNode) ReadU32(prop string) (uint32, bool) {
	v, ok := n.Properties[prop]
	if !ok {
		return 0, false
	}
	var u uint64
	switch val := v.(type) {
	case int:
		if val < 0 {
			return 0, false
		}
		u = uint64(val)
	case int64:
		if val < 0 {
			return 0, false
		}
		u = uint64(val)
	case uint64:
		u = val
	case uint32:
		u = uint64(val)
	case float64:
		if val < 0 || val != math.Trunc(val) {
			return 0, false
		}
		u = uint64(val)
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(val), 0, 32)
		if err != nil {
			return 0, false
		}
		u = parsed
	default:
		return 0, false
	}
	if u > math.MaxUint32 {
		return 0, false
	}
	return uint32(u), true
}

// ParseTree parses a YAML description tree:
//
//	devices:
//	  - name: pcdev-1
//	    compatible: pcdev-A1x
//	    properties:
//	      org,device-serial-num: PCDEV1ABC
//	      org,size: 512
//	      org,perm: 0x11
func ParseTree(data []byte) ([]*DescriptionNode, error) {
	var tree descriptionTree
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTree, err)
	}

	seen := make(map[string]bool, len(tree.Devices))
	for i, n := range tree.Devices {
		if n == nil || n.NodeName == "" {
			return nil, fmt.Errorf("%w: device %d has no name", ErrInvalidTree, i)
		}
		if seen[n.NodeName] {
			return nil, fmt.Errorf("%w: duplicate node %q", ErrInvalidTree, n.NodeName)
		}
		seen[n.NodeName] = true
		if len(n.Compat) == 0 {
			return nil, fmt.Errorf("%w: node %q has no compatible", ErrInvalidTree, n.NodeName)
		}
	}
	return tree.Devices, nil
}

// LoadTree reads and parses a description tree file.
func LoadTree(path string) ([]*DescriptionNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading description tree: %w", err)
	}
	return ParseTree(data)
}

// stringList decodes either a scalar or a sequence of strings.
type stringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = stringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("compatible: expected string or list, got %v at line %d", value.Tag, value.Line)
	}
}
