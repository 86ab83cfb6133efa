package mqtt

import "fmt"

// Subscribe registers a handler for a topic at QoS 0. Wildcard
// patterns (+, #) are supported.
//
// Subscriptions live only as long as the connection: every session is
// clean, so nothing is resumed broker-side and each episode subscribes
// afresh.
//
// Parameters:
//   - topic: topic or wildcard pattern (must be non-empty)
//   - handler: callback invoked for each matching message
//
// Returns:
//   - error: ErrInvalidTopic, ErrSubscribeFailed for a nil handler or
//     broker refusal, ErrNotConnected if the link is down
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}

	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot subscribe to %s", ErrNotConnected, topic)
	}

	// Track before subscribing so a delivery racing the token wait
	// still finds the handler registered.
	c.subMu.Lock()
	c.subscriptions[topic] = handler
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qosAtMostOnce, c.wrapHandler(handler))

	if !token.WaitTimeout(defaultPublishTimeout) {
		c.removeSubscription(topic)
		return fmt.Errorf("%w: timeout subscribing to %s", ErrSubscribeFailed, topic)
	}

	if err := token.Error(); err != nil {
		c.removeSubscription(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

func (c *Client) removeSubscription(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of registered subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	return len(c.subscriptions)
}

// HasSubscription reports whether a handler is registered for the
// exact topic string (no wildcard matching).
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	_, ok := c.subscriptions[topic]

	return ok
}
