package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/influxdb"
)

// testConfig returns a configuration pointing at a port nothing
// listens on. Open never dials, so these tests run without a server.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:59999",
		Token:         "graynode-test-token",
		Org:           "graylogic",
		Bucket:        "node-diagnostics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestOpen(t *testing.T) {
	client, err := influxdb.Open(testConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if !client.IsOpen() {
		t.Error("IsOpen() = false after Open()")
	}
}

func TestOpen_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Open(cfg)
	if err == nil {
		t.Fatal("Open() should return error when disabled")
	}
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Open() error = %v, want ErrDisabled", err)
	}
}

func TestOpen_DefaultBatchSettings(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 0
	cfg.FlushInterval = 0

	client, err := influxdb.Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if !client.IsOpen() {
		t.Error("IsOpen() = false after Open() with default batch settings")
	}
}

func TestOpen_NegativeBatchSettings(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = -5
	cfg.FlushInterval = -1

	client, err := influxdb.Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if !client.IsOpen() {
		t.Error("IsOpen() = false after Open() with negative batch settings")
	}
}

func TestClose(t *testing.T) {
	client, err := influxdb.Open(testConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsOpen() {
		t.Error("IsOpen() = true after Close()")
	}

	// Second close is a no-op.
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestWriteAfterClose(t *testing.T) {
	client, err := influxdb.Open(testConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Writes and flushes after close must not panic or block.
	client.WriteWakeEpisode("attic-01", map[string]interface{}{"published": 3})
	client.WriteReadingAt("attic-01", map[string]interface{}{"temp_c": 21.5}, time.Now())
	client.Flush()
}

func TestWrite_EmptyFields(t *testing.T) {
	client, err := influxdb.Open(testConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	// A point with no fields is invalid line protocol; the helpers
	// drop it instead of queueing a write that can only fail.
	client.WriteWakeEpisode("attic-01", nil)
	client.WriteReadingAt("attic-01", map[string]interface{}{}, time.Now())
}

func TestHealthCheck_Unreachable(t *testing.T) {
	client, err := influxdb.Open(testConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should fail with nothing listening")
	}
}

func TestHealthCheck_AfterClose(t *testing.T) {
	client, err := influxdb.Open(testConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err = client.HealthCheck(context.Background())
	if !errors.Is(err, influxdb.ErrClosed) {
		t.Errorf("HealthCheck() error = %v, want ErrClosed", err)
	}
}

// TestLiveRoundTrip needs a local InfluxDB matching these settings.
func TestLiveRoundTrip(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to run against a live InfluxDB")
	}

	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:8086"

	client, err := influxdb.Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	client.WriteWakeEpisode("test-node-001", map[string]interface{}{
		"wifi_ms":   2150.0,
		"published": 3,
	})
	client.WriteReadingAt("test-node-001", map[string]interface{}{
		"temp_c":   21.5,
		"humidity": 48.2,
	}, time.Now().Add(-30*time.Second))
	client.Flush()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}
