// Package mqtt provides episode-scoped MQTT connectivity for the node.
//
// This package manages:
//   - A single connection per wake episode with no auto-reconnect
//   - Last Will and Testament registered before the connection opens
//   - QoS 0 publishing with payload size limits
//   - Topic subscriptions with wildcard support and panic-safe handlers
//   - Node topic construction via Topics
//
// # Architecture
//
// The node talks to the Gray Logic hub's Mosquitto broker over the
// local network. Unlike a mains-powered service, the node connects for
// seconds at a time:
//
//	wake → connect (will registered) → publish/subscribe → close → sleep
//
// Auto-reconnect and session resumption are disabled. A dropped link
// mid-episode is not repaired; the remaining work degrades (samples go
// to the offline buffer) and the next wake starts a fresh clean
// session. The broker-held will guarantees the retained
// availability topic flips to "offline" even when the node browns out
// with no chance to disconnect cleanly.
//
// # QoS
//
// Everything moves at QoS 0. Live readings are superseded within one
// sleep interval, and gap coverage for history comes from the offline
// buffer's replay rather than broker-side delivery guarantees.
//
// # Usage
//
//	will := mqtt.Will{Topic: topics.Availability(), Payload: "offline", Retained: true}
//	client, err := mqtt.Connect(cfg.MQTT, clientID, will)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.PublishString(topics.Availability(), "online", true)
//
//	client.Subscribe(topics.Weather(prefix, "temp_f"), func(topic string, payload []byte) error {
//	    // update snapshot
//	    return nil
//	})
package mqtt
