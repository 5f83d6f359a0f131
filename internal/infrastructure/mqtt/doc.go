// Package mqtt provides the MQTT connection used for device announcements.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
// Everything lives under a configurable prefix (default "pcd"). Announcements
// arrive on <prefix>/announce/attach and <prefix>/announce/detach; bound
// devices are published retained on <prefix>/device/<name>/attributes and
// cleared on detach. See Topics.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllAnnouncements(), 1,
//	    func(topic string, payload []byte) error {
//	        return listener.Handle(ctx, topic, payload)
//	    })
//
// TLS should be enabled (cfg.Broker.TLS) whenever the broker is not local.
package mqtt
