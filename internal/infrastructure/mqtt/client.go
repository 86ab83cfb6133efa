package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

// MessageHandler processes an inbound MQTT message. Handlers run on
// paho's delivery goroutines; shared state they touch needs its own
// locking.
type MessageHandler func(topic string, payload []byte) error

// Logger is the minimal logging interface the client depends on.
// Satisfied by logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client wraps the paho MQTT client for a single wake episode.
//
// The connection is episode-scoped: Connect dials once, the client
// serves publishes and subscriptions for the duration of the episode,
// and Close drops the link before the node sleeps. A lost connection
// is not repaired; the next episode constructs a new Client.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// subscriptions tracks registered topic handlers.
	subscriptions map[string]MessageHandler
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onDisconnect func(error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect establishes a broker connection with the supplied will
// registered. The will rides the CONNECT packet, so the broker holds
// the node's "offline" marker before the first byte of telemetry moves.
//
// Parameters:
//   - cfg: broker address, credentials and timeouts
//   - clientID: full client identifier for this episode
//   - will: availability will the broker publishes on ungraceful loss
//
// Returns:
//   - *Client: connected client ready to publish and subscribe
//   - error: ErrConnectionFailed if the broker cannot be reached
func Connect(cfg config.MQTTConfig, clientID string, will Will) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]MessageHandler),
	}

	opts := buildClientOptions(cfg, clientID, will)
	opts.SetConnectionLostHandler(c.handleConnectionLost)

	c.client = pahomqtt.NewClient(opts)

	connectTimeout := time.Duration(cfg.ConnectTimeout) * time.Second
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.setConnected(true)

	return c, nil
}

// handleConnectionLost runs when the broker link drops unexpectedly.
// With auto-reconnect off this is terminal for the episode: the client
// stays down and in-progress work sees ErrNotConnected.
func (c *Client) handleConnectionLost(_ pahomqtt.Client, err error) {
	c.setConnected(false)

	if l := c.getLogger(); l != nil {
		l.Warn("mqtt connection lost", "error", err)
	}

	c.callbackMu.RLock()
	cb := c.onDisconnect
	c.callbackMu.RUnlock()

	if cb != nil {
		cb(err)
	}
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// IsConnected reports whether the broker link is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnDisconnect registers a callback invoked on unexpected
// connection loss. Pass nil to clear. Graceful Close does not fire it.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.callbackMu.Lock()
	c.onDisconnect = fn
	c.callbackMu.Unlock()
}

// SetLogger attaches a logger for connection and handler diagnostics.
// Pass nil to silence the client.
func (c *Client) SetLogger(l Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()

	return c.logger
}

// HealthCheck verifies broker connectivity.
//
// Returns:
//   - error: nil if connected, ErrNotConnected otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w: health check failed", ErrNotConnected)
	}

	return nil
}

// Close disconnects from the broker after a short quiesce for
// in-flight messages. Parting messages, such as the retained
// availability update, must be published before Close is called; the
// transport does not originate payloads of its own.
//
// Safe to call on a zero-value or already-closed client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.setConnected(false)

	if c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesce)
	}

	return nil
}

// wrapHandler adapts a MessageHandler to paho's callback signature,
// recovering panics so one malformed payload cannot take down the
// episode.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("mqtt handler panic",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if l := c.getLogger(); l != nil {
				l.Warn("mqtt handler error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
