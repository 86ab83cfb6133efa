package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

const (
	// defaultPublishTimeout bounds how long a publish waits for the
	// network write to complete.
	defaultPublishTimeout = 5 * time.Second

	// disconnectQuiesce is how long Close waits for in-flight messages
	// to drain before dropping the link, in milliseconds.
	disconnectQuiesce = 500

	// qosAtMostOnce is the only QoS level the node publishes or
	// subscribes at. Delivery gaps are covered by the offline buffer,
	// not by broker-side handshakes.
	qosAtMostOnce byte = 0
)

// Will describes the Last Will and Testament registered at connect time.
// The broker publishes it on the node's behalf if the session drops
// without a clean disconnect.
type Will struct {
	Topic    string
	Payload  string
	Retained bool
}

// buildClientOptions constructs paho client options from configuration.
//
// Sessions are episode-scoped: auto-reconnect and connect-retry stay
// off, and every connection is a clean session. A dropped link is not
// repaired mid-episode; the next wake dials fresh.
func buildClientOptions(cfg config.MQTTConfig, clientID string, will Will) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	broker := fmt.Sprintf("tcp://%s:%d", cfg.Broker.Host, cfg.Broker.Port)
	opts.AddBroker(broker)
	opts.SetClientID(clientID)

	// Authentication
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(time.Duration(cfg.ConnectTimeout) * time.Second)
	opts.SetKeepAlive(time.Duration(cfg.Keepalive) * time.Second)

	// The will must be registered before the connection is made; the
	// broker only honours a will presented during CONNECT.
	if will.Topic != "" {
		opts.SetWill(will.Topic, will.Payload, qosAtMostOnce, will.Retained)
	}

	return opts
}
