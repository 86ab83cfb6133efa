package mqtt

import "fmt"

// maxPayloadSize caps outbound payloads at 64KiB. The node's largest
// payload is a discovery document well under 1KiB; anything bigger is
// a bug upstream, not a message worth sending.
const maxPayloadSize = 64 * 1024

// Publish sends a message at QoS 0.
//
// Parameters:
//   - topic: destination topic (must be non-empty)
//   - payload: message payload (max 64KiB, nil allowed)
//   - retained: whether the broker keeps the message for new subscribers
//
// Returns:
//   - error: ErrInvalidTopic, ErrPayloadTooLarge, ErrNotConnected, or
//     ErrPublishFailed if the network write does not complete
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}

	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds %d limit", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot publish to %s", ErrNotConnected, topic)
	}

	token := c.client.Publish(topic, qosAtMostOnce, retained, payload)

	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout publishing to %s", ErrPublishFailed, topic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishString sends a string message at QoS 0.
func (c *Client) PublishString(topic, payload string, retained bool) error {
	return c.Publish(topic, []byte(payload), retained)
}
