// Package announce connects the device registry to the message bus.
//
// Inbound, a Listener subscribes to <prefix>/announce/attach and
// <prefix>/announce/detach and turns each message into a registry call.
// Payloads are JSON or CBOR; the first byte decides which. An attach
// message names a catalogue type with an optional descriptor:
//
//	{"name": "pcdev-A1x", "serial_number": "PCDEVABC1111", "size": 512, "perm": "0x11"}
//
// or carries a description node:
//
//	{"node": {"name": "pcdev-lab", "compatible": ["pcdev-B1x"],
//	  "properties": {"org,device-serial-num": "LAB1", "org,size": 1024, "org,perm": 17}}}
//
// A detach message gives {"number": 10} or {"name": "pcdev-lab"}.
//
// Outbound, a Publisher is installed as the registry's driver.Publisher,
// so a bus failure fails the attach. It keeps a retained attributes
// message per bound device and follows resizes as an observer.
package announce
