// Package catalogue resolves device announcements to descriptors.
//
// A Catalogue is an ordered table of type keys. Each entry points at a row of
// a tuning side table and may carry a static descriptor or a producer
// function. Two matching strategies are supported:
//
//   - description node: the node's compatible strings select the entry and
//     the descriptor is read from the node's properties
//   - type name: the announcement's name selects the entry and the descriptor
//     comes from the announcement's platform data or from the entry
//
// A description node always takes priority over the name.
//
// Description nodes can be loaded from a YAML tree with LoadTree.
package catalogue
