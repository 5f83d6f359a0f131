package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "pcd"

// Topics builds the topic hierarchy under a prefix:
//
//	<prefix>/announce/attach          device announcements (inbound)
//	<prefix>/announce/detach          detach requests by number (inbound)
//	<prefix>/device/<name>/attributes retained control-plane view of a bound device
//	<prefix>/device/<name>/event      lifecycle events for a device
//	<prefix>/system/status            retained online/offline status, also the LWT
type Topics struct {
	Prefix string
}

// NewTopics returns builders for prefix, trimming any trailing slash.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// AnnounceAttach returns the topic devices are announced on.
//
// Example: pcd/announce/attach
func (t Topics) AnnounceAttach() string {
	return t.prefix() + "/announce/attach"
}

// AnnounceDetach returns the topic detach requests arrive on.
//
// Example: pcd/announce/detach
func (t Topics) AnnounceDetach() string {
	return t.prefix() + "/announce/detach"
}

// AllAnnouncements matches both announcement topics.
//
// Pattern: pcd/announce/+
func (t Topics) AllAnnouncements() string {
	return t.prefix() + "/announce/+"
}

// DeviceAttributes returns the retained attribute topic for a device.
//
// Example: pcd/device/pcdev-0/attributes
func (t Topics) DeviceAttributes(name string) string {
	return t.prefix() + "/device/" + name + "/attributes"
}

// DeviceEvent returns the lifecycle event topic for a device.
//
// Example: pcd/device/pcdev-0/event
func (t Topics) DeviceEvent(name string) string {
	return t.prefix() + "/device/" + name + "/event"
}

// SystemStatus returns the system status topic.
//
// Example: pcd/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}
