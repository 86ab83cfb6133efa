package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/telemetry"
)

// Availability payloads. The will carries the offline form; a graceful
// Close publishes it explicitly so the will never needs to fire.
const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// MQTTClient is the transport surface the session depends on.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message at QoS 0.
	Publish(topic string, payload []byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, handler func(topic string, payload []byte) error) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Close closes the connection.
	Close() error
}

// DialFunc opens a broker connection with the supplied will already
// registered.
type DialFunc func(cfg config.MQTTConfig, clientID string, will mqtt.Will) (MQTTClient, error)

// Options holds configuration for creating a session manager.
type Options struct {
	// Config is the loaded node configuration.
	Config *config.Config

	// Snapshot receives parsed weather fields from inbound messages.
	Snapshot *telemetry.Snapshot

	// Logger for session diagnostics. Defaults to logging.Default().
	Logger *logging.Logger

	// OnClock receives hub clock payloads verbatim. Optional; the node
	// has no RTC, so callers decide what hub time is worth.
	OnClock func(value string)

	// Dial overrides the transport factory. Nil uses the real MQTT
	// client. Tests inject fakes here.
	Dial DialFunc
}

// Manager owns the MQTT session for a wake episode.
//
// A session is strictly episode-scoped: Begin dials and announces,
// publishes flow while the link holds, Close says goodbye and
// disconnects. Nothing survives into the next episode except the
// broker's retained messages.
//
// Thread Safety: All methods are safe for concurrent use. Inbound
// dispatch runs on the transport's delivery goroutines.
type Manager struct {
	cfg     *config.Config
	topics  mqtt.Topics
	snap    *telemetry.Snapshot
	log     *logging.Logger
	onClock func(string)
	dial    DialFunc

	mu          sync.Mutex
	client      MQTTClient
	lastReading *telemetry.Reading
}

// NewManager creates a session manager.
//
// Returns:
//   - *Manager: ready to Begin
//   - error: if required options are missing
func NewManager(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, errors.New("session: config is required")
	}
	if opts.Snapshot == nil {
		return nil, errors.New("session: snapshot is required")
	}

	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	m := &Manager{
		cfg: opts.Config,
		topics: mqtt.Topics{
			Base:   opts.Config.Node.BaseTopic,
			NodeID: opts.Config.Node.ID,
		},
		snap:    opts.Snapshot,
		log:     log.With("component", "session"),
		onClock: opts.OnClock,
		dial:    opts.Dial,
	}

	if m.dial == nil {
		m.dial = m.realDial
	}

	return m, nil
}

// realDial connects the real MQTT transport and adapts it to the
// MQTTClient interface.
func (m *Manager) realDial(cfg config.MQTTConfig, clientID string, will mqtt.Will) (MQTTClient, error) {
	client, err := mqtt.Connect(cfg, clientID, will)
	if err != nil {
		return nil, err
	}

	client.SetLogger(m.log)

	return &transportAdapter{client: client}, nil
}

// transportAdapter adapts the infrastructure MQTT client to the
// session's MQTTClient interface. The only difference is Subscribe's
// handler type: the infrastructure client takes a named
// mqtt.MessageHandler, the interface a plain function signature.
type transportAdapter struct {
	client *mqtt.Client
}

// Publish implements MQTTClient.
func (a *transportAdapter) Publish(topic string, payload []byte, retained bool) error {
	return a.client.Publish(topic, payload, retained)
}

// Subscribe implements MQTTClient.
func (a *transportAdapter) Subscribe(topic string, handler func(topic string, payload []byte) error) error {
	return a.client.Subscribe(topic, mqtt.MessageHandler(handler))
}

// IsConnected implements MQTTClient.
func (a *transportAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Close implements MQTTClient.
func (a *transportAdapter) Close() error {
	return a.client.Close()
}

// clientID builds the per-episode client identifier. The random
// suffix keeps successive episodes from colliding in the broker's
// client registry while the previous session's keepalive is still
// timing out.
func (m *Manager) clientID() string {
	base := m.cfg.MQTT.Broker.ClientID
	if base == "" {
		base = m.cfg.Node.ID
	}

	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
}

// Begin establishes the session: dials with the will registered,
// announces online, re-issues the full subscription set, and publishes
// discovery metadata. The link layer must already be up.
//
// Subscriptions are re-issued in full on every call; no subscription
// state survives between sessions.
//
// On failure the link layer is left untouched and no session exists;
// subsequent publishes fail closed with ErrNotConnected.
//
// Returns:
//   - error: ErrSessionActive if a session is already up, or the
//     underlying connect/subscribe failure
func (m *Manager) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		if m.client.IsConnected() {
			return ErrSessionActive
		}
		// Dead transport from a lost connection; release it before
		// dialling again.
		_ = m.client.Close()
		m.client = nil
	}

	will := mqtt.Will{
		Topic:    m.topics.Availability(),
		Payload:  availabilityOffline,
		Retained: true,
	}

	clientID := m.clientID()

	client, err := m.dial(m.cfg.MQTT, clientID, will)
	if err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}

	// Online marker first: watchers flip to online before any data
	// starts moving.
	if err := client.Publish(m.topics.Availability(), []byte(availabilityOnline), true); err != nil {
		_ = client.Close()
		return fmt.Errorf("session: announce online: %w", err)
	}

	if err := m.subscribeAll(client); err != nil {
		_ = client.Close()
		return fmt.Errorf("session: subscribe: %w", err)
	}

	m.publishDiscovery(client)

	m.client = client
	m.log.Info("session established",
		"client_id", clientID,
		"subscriptions", len(weatherSuffixes())+1,
	)

	return nil
}

// subscribeAll re-issues the full fixed subscription set: every
// weather suffix alias plus the hub status topic.
func (m *Manager) subscribeAll(client MQTTClient) error {
	prefix := m.cfg.MQTT.WeatherTopic

	for _, suffix := range weatherSuffixes() {
		topic := m.topics.Weather(prefix, suffix)
		if err := client.Subscribe(topic, m.handleWeather); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	if err := client.Subscribe(m.cfg.MQTT.HubStatusTopic, m.handleHubStatus); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.cfg.MQTT.HubStatusTopic, err)
	}

	return nil
}

// IsConnected reports whether a live session exists.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.client != nil && m.client.IsConnected()
}

// Publish sends a message through the session. Fails closed: with no
// live session the error is immediate and the caller keeps the data.
//
// Returns:
//   - error: ErrNotConnected if no session, or the transport failure
func (m *Manager) Publish(topic string, payload []byte, retained bool) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("%w: publish to %s", ErrNotConnected, topic)
	}

	if err := client.Publish(topic, payload, retained); err != nil {
		return fmt.Errorf("session: publish %s: %w", topic, err)
	}

	return nil
}

// PublishReading publishes a node reading to the live state topics and
// remembers it for hub-online re-announcements. State topics are
// retained so late joiners see the last reading while the node sleeps.
//
// Returns:
//   - error: ErrNotConnected if no session, or the first publish failure
func (m *Manager) PublishReading(r telemetry.Reading) error {
	m.mu.Lock()
	m.lastReading = &r
	client := m.client
	m.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("%w: publish reading", ErrNotConnected)
	}

	return m.publishState(client, r)
}

// publishState publishes every field the reading carries.
func (m *Manager) publishState(client MQTTClient, r telemetry.Reading) error {
	publish := func(topic, value string) error {
		if err := client.Publish(topic, []byte(value), true); err != nil {
			return fmt.Errorf("session: publish %s: %w", topic, err)
		}
		return nil
	}

	if r.HasEnv {
		if err := publish(m.topics.InsideTemp(), formatFloat(r.TempC, 1)); err != nil {
			return err
		}
		if err := publish(m.topics.InsideHumidity(), formatFloat(r.Humidity, 1)); err != nil {
			return err
		}
		if err := publish(m.topics.InsidePressure(), formatFloat(r.PressureHPa, 1)); err != nil {
			return err
		}
	}

	if r.HasBattery {
		if err := publish(m.topics.BatteryVoltage(), formatFloat(r.BatteryVolts, 2)); err != nil {
			return err
		}
		if err := publish(m.topics.BatteryPercent(), formatFloat(r.BatteryPercent, 0)); err != nil {
			return err
		}
	}

	return nil
}

// republish re-announces availability, discovery metadata, and the
// last known state. Triggered by hub-online receipts; a no-op without
// a live session.
func (m *Manager) republish() {
	m.mu.Lock()
	client := m.client
	var last *telemetry.Reading
	if m.lastReading != nil {
		cp := *m.lastReading
		last = &cp
	}
	m.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return
	}

	if err := client.Publish(m.topics.Availability(), []byte(availabilityOnline), true); err != nil {
		m.log.Warn("availability republish failed", "error", err)
	}

	m.publishDiscovery(client)

	if last != nil {
		if err := m.publishState(client, *last); err != nil {
			m.log.Warn("state republish failed", "error", err)
		}
	}
}

// Close publishes a retained offline marker and disconnects. The
// explicit publish distinguishes a graceful sleep from a crash: the
// broker's will only fires when the node vanishes without a goodbye.
//
// Safe to call with no session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}

	if m.client.IsConnected() {
		if err := m.client.Publish(m.topics.Availability(), []byte(availabilityOffline), true); err != nil {
			m.log.Warn("offline announce failed", "error", err)
		}
	}

	err := m.client.Close()
	m.client = nil

	return err
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
