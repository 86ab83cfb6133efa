package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Mode     ModeConfig     `yaml:"mode"`
	WiFi     WiFiConfig     `yaml:"wifi"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	Buffer   BufferConfig   `yaml:"buffer"`
	Sensors  SensorsConfig  `yaml:"sensors"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// NodeConfig identifies this device on the Gray Logic bus.
type NodeConfig struct {
	// ID is the node identifier, used as the last segment of every
	// published topic. Must be unique per site.
	ID string `yaml:"id"`

	// Name is the human-readable device name used in discovery metadata.
	Name string `yaml:"name"`

	// BaseTopic is the publish root; the node publishes under
	// "<base_topic>/<id>/...".
	BaseTopic string `yaml:"base_topic"`

	// DiscoveryPrefix is the root for retained discovery documents
	// (Home Assistant convention).
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// ModeConfig selects how episodes are scheduled.
type ModeConfig struct {
	// Run is "once" (single episode, exit; an external timer handles the
	// next wake) or "loop" (mains-powered bench mode, episodes on a timer).
	Run string `yaml:"run"`

	// Interval is the seconds between episode starts in loop mode.
	Interval int `yaml:"interval"`
}

// WiFiConfig contains network join settings.
type WiFiConfig struct {
	// Enabled gates link management. When false the node assumes the host
	// already has connectivity (bench testing on a wired machine).
	Enabled bool `yaml:"enabled"`

	// Interface is the wireless interface name.
	Interface string `yaml:"interface"`

	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`

	// BSSID optionally pins the first join attempt of a fresh device to a
	// specific access point ("aa:bb:cc:dd:ee:ff"). Learned BSSIDs from
	// previous joins take priority over this seed.
	BSSID string `yaml:"bssid"`

	// Country is the regulatory domain code.
	Country string `yaml:"country"`

	// MinRSSI is the weakest signal (dBm) a pinned fast-scan join will
	// accept. 0 disables the floor.
	MinRSSI int `yaml:"min_rssi"`

	// MinAuth is the weakest acceptable authentication mode for pinned
	// joins: "open", "wep", "wpa-psk", "wpa2-psk".
	MinAuth string `yaml:"min_auth"`

	// ConnectTimeout is the overall join budget in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// ForgetAfter is the number of consecutive failed pinned joins after
	// which the remembered access point is erased.
	ForgetAfter int `yaml:"forget_after"`

	// CtrlDir is the wpa_supplicant control socket directory.
	CtrlDir string `yaml:"ctrl_dir"`

	// Supplicant contains settings for managing the wpa_supplicant daemon.
	Supplicant SupplicantConfig `yaml:"supplicant"`
}

// SupplicantConfig contains settings for managing the wpa_supplicant daemon.
type SupplicantConfig struct {
	// Managed indicates whether graynode should start wpa_supplicant
	// itself. If false it is expected to be running externally (e.g. as a
	// systemd service).
	Managed bool `yaml:"managed"`

	// Binary is the path to the wpa_supplicant executable.
	// Default: "/usr/sbin/wpa_supplicant"
	Binary string `yaml:"binary"`

	// Driver is the wpa_supplicant driver backend.
	// Default: "nl80211"
	Driver string `yaml:"driver"`
}

// MQTTConfig contains MQTT broker connection settings.
//
// All traffic is QoS 0 over plain TCP; the node does not carry TLS or
// acknowledged-delivery machinery.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`

	// ConnectTimeout is the broker connect budget in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// Keepalive is the MQTT keepalive interval in seconds.
	Keepalive int `yaml:"keepalive"`

	// HubStatusTopic is the hub's liveness announcement topic. A retained
	// "online" there triggers a discovery re-announce.
	HubStatusTopic string `yaml:"hub_status_topic"`

	// WeatherTopic is the prefix the hub publishes outside readings under;
	// the node subscribes to "<weather_topic>/#".
	WeatherTopic string `yaml:"weather_topic"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ClientID is the client identifier prefix; a random suffix is added
	// each episode. Defaults to the node ID.
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BufferConfig contains offline sample buffer settings.
type BufferConfig struct {
	// Capacity is the maximum number of buffered samples. When full, the
	// oldest sample is evicted to admit a new one.
	Capacity int `yaml:"capacity"`

	Drain DrainConfig `yaml:"drain"`
}

// DrainConfig bounds a single backlog drain pass.
type DrainConfig struct {
	// MaxDuration is the drain time budget in seconds.
	MaxDuration int `yaml:"max_duration"`

	// MaxBytes is the approximate wire-byte budget per drain.
	MaxBytes int `yaml:"max_bytes"`
}

// SensorsConfig contains local sensor settings.
type SensorsConfig struct {
	// Enabled gates the I²C environment sensor. When false the node still
	// maintains its session and backlog but publishes no fresh readings.
	Enabled bool `yaml:"enabled"`

	// I2CBus is the bus name ("" selects the first available).
	I2CBus string `yaml:"i2c_bus"`

	// BME280Addr is the environment sensor address (0x76 or 0x77).
	BME280Addr int `yaml:"bme280_addr"`

	Battery BatteryConfig `yaml:"battery"`
}

// BatteryConfig contains battery fuel gauge settings.
type BatteryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Addr is the INA219 monitor address.
	Addr int `yaml:"addr"`
}

// InfluxDBConfig contains InfluxDB connection settings for wake-episode
// diagnostics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYNODE_SECTION_KEY
// For example: GRAYNODE_DATABASE_PATH, GRAYNODE_WIFI_SSID
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:              "graynode-001",
			Name:            "Gray Logic Node",
			BaseTopic:       "graylogic/node",
			DiscoveryPrefix: "homeassistant",
		},
		Mode: ModeConfig{
			Run:      "once",
			Interval: 300,
		},
		WiFi: WiFiConfig{
			Enabled:        true,
			Interface:      "wlan0",
			Country:        "GB",
			MinAuth:        "wpa2-psk",
			ConnectTimeout: 12,
			ForgetAfter:    3,
			CtrlDir:        "/var/run/wpa_supplicant",
			Supplicant: SupplicantConfig{
				Binary: "/usr/sbin/wpa_supplicant",
				Driver: "nl80211",
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			ConnectTimeout: 8,
			Keepalive:      30,
			HubStatusTopic: "graylogic/system/status",
			WeatherTopic:   "graylogic/weather",
		},
		Database: DatabaseConfig{
			Path:        "./data/graynode.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Buffer: BufferConfig{
			Capacity: 96,
			Drain: DrainConfig{
				MaxDuration: 8,
				MaxBytes:    16384,
			},
		},
		Sensors: SensorsConfig{
			BME280Addr: 0x76,
			Battery: BatteryConfig{
				Addr: 0x40,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYNODE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Node
	if v := os.Getenv("GRAYNODE_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}

	// Database
	if v := os.Getenv("GRAYNODE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// WiFi
	if v := os.Getenv("GRAYNODE_WIFI_SSID"); v != "" {
		cfg.WiFi.SSID = v
	}
	if v := os.Getenv("GRAYNODE_WIFI_PASSPHRASE"); v != "" {
		cfg.WiFi.Passphrase = v
	}
	if v := os.Getenv("GRAYNODE_WIFI_BSSID"); v != "" {
		cfg.WiFi.BSSID = v
	}

	// MQTT
	if v := os.Getenv("GRAYNODE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYNODE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYNODE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYNODE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Node validation
	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}
	if c.Node.BaseTopic == "" {
		errs = append(errs, "node.base_topic is required")
	}

	// Mode validation
	switch c.Mode.Run {
	case "once", "loop":
	default:
		errs = append(errs, `mode.run must be "once" or "loop"`)
	}
	if c.Mode.Run == "loop" && c.Mode.Interval < 1 {
		errs = append(errs, "mode.interval must be at least 1 second in loop mode")
	}

	// WiFi validation
	if c.WiFi.Enabled {
		if c.WiFi.SSID == "" {
			errs = append(errs, "wifi.ssid is required when wifi is enabled (set GRAYNODE_WIFI_SSID environment variable)")
		}
		if c.WiFi.ConnectTimeout < 1 {
			errs = append(errs, "wifi.connect_timeout must be at least 1 second")
		}
		if c.WiFi.ForgetAfter < 1 {
			errs = append(errs, "wifi.forget_after must be at least 1")
		}
		if c.WiFi.BSSID != "" {
			if _, err := net.ParseMAC(c.WiFi.BSSID); err != nil {
				errs = append(errs, fmt.Sprintf("wifi.bssid %q is not a valid MAC address", c.WiFi.BSSID))
			}
		}
		if c.WiFi.Supplicant.Managed && c.WiFi.Supplicant.Binary == "" {
			errs = append(errs, "wifi.supplicant.binary is required when wifi.supplicant.managed is set")
		}
	}

	// MQTT validation
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.ConnectTimeout < 1 {
		errs = append(errs, "mqtt.connect_timeout must be at least 1 second")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Buffer validation
	if c.Buffer.Capacity < 1 {
		errs = append(errs, "buffer.capacity must be at least 1")
	}
	if c.Buffer.Drain.MaxDuration < 0 {
		errs = append(errs, "buffer.drain.max_duration must not be negative")
	}
	if c.Buffer.Drain.MaxBytes < 0 {
		errs = append(errs, "buffer.drain.max_bytes must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PinnedBSSID returns the configured BSSID seed, or nil when not set.
//
// Validate has already confirmed the format, so parse errors here mean the
// value was mutated after loading; they surface as nil.
func (c *Config) PinnedBSSID() net.HardwareAddr {
	if c.WiFi.BSSID == "" {
		return nil
	}
	hw, err := net.ParseMAC(c.WiFi.BSSID)
	if err != nil {
		return nil
	}
	return hw
}

// WiFiConnectTimeout returns the overall join budget as a Duration.
func (c *Config) WiFiConnectTimeout() time.Duration {
	return time.Duration(c.WiFi.ConnectTimeout) * time.Second
}

// MQTTConnectTimeout returns the broker connect budget as a Duration.
func (c *Config) MQTTConnectTimeout() time.Duration {
	return time.Duration(c.MQTT.ConnectTimeout) * time.Second
}

// DrainMaxDuration returns the drain time budget as a Duration.
func (c *Config) DrainMaxDuration() time.Duration {
	return time.Duration(c.Buffer.Drain.MaxDuration) * time.Second
}

// ModeInterval returns the loop-mode episode interval as a Duration.
func (c *Config) ModeInterval() time.Duration {
	return time.Duration(c.Mode.Interval) * time.Second
}
