package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/nvstore"
	"github.com/nerrad567/gray-logic-node/internal/process"
)

const (
	// defaultPollInterval is how often the manager asks the station for
	// link state while a join is in flight.
	defaultPollInterval = 250 * time.Millisecond

	// pinnedBudgetCap bounds the slice of the join budget spent on the
	// remembered access point. A pinned join that has not completed in
	// a few seconds is not going to; the remainder belongs to the
	// unconstrained fallback.
	pinnedBudgetCap = 3 * time.Second
)

var _ MemoryStore = (*nvstore.Store)(nil)

// Options configures a Manager.
type Options struct {
	Config config.WiFiConfig

	// Store persists the access point memory between wakes.
	Store MemoryStore

	// Station overrides the link backend. nil selects the
	// wpa_supplicant control station, dialled on first Connect.
	Station Station

	Logger *logging.Logger

	// PollInterval overrides the status poll cadence. 0 selects the
	// default.
	PollInterval time.Duration
}

// Manager brings the network link up within a bounded budget.
//
// Methods are not safe for concurrent use; the episode runner drives a
// Manager from a single goroutine.
type Manager struct {
	cfg   config.WiFiConfig
	store MemoryStore
	log   *logging.Logger
	seed  net.HardwareAddr
	poll  time.Duration

	station    Station
	supplicant *process.Manager
	confPath   string
	lastRSSI   int
}

// NewManager creates a Manager.
//
// Parameters:
//   - opts: configuration and collaborators; Store is required
//
// Returns:
//   - *Manager: ready to Connect
//   - error: if a required collaborator is missing
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("wifi: store is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	m := &Manager{
		cfg:     opts.Config,
		store:   opts.Store,
		log:     log.With("component", "wifi"),
		poll:    poll,
		station: opts.Station,
	}
	if opts.Config.BSSID != "" {
		hw, err := net.ParseMAC(opts.Config.BSSID)
		if err != nil {
			return nil, fmt.Errorf("wifi: parsing bssid seed: %w", err)
		}
		m.seed = hw
	}
	return m, nil
}

// Connect associates with the configured network, returning within
// timeout plus a small fixed overhead.
//
// A remembered access point is tried first, locked to its BSSID with
// fast scan and the configured signal and auth floors, for
// min(timeout/2, 3s) of the budget. If that window closes without a
// link the join is re-issued unconstrained for the remainder. A fresh
// node with no memory goes straight to the unconstrained join.
//
// On success the actually joined BSSID is read back and persisted; it
// may differ from the remembered one if the node roamed. On total
// failure after a pinned attempt the failure count is bumped, erasing
// the memory at the configured threshold.
//
// Returns:
//   - nil: associated
//   - ErrJoinTimeout (wrapped): no association within timeout; routine
//     for a node waking out of range, callers continue offline
//   - other: supplicant or control socket trouble
func (m *Manager) Connect(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("wifi: connect timeout must be positive, got %v", timeout)
	}
	start := time.Now()
	deadline := start.Add(timeout)
	m.lastRSSI = 0

	if err := m.ensureSupplicant(ctx, deadline); err != nil {
		return err
	}
	if err := m.ensureStation(ctx); err != nil {
		return err
	}

	// An existing association survives loop-mode episodes; probe before
	// spending any of the budget on a join.
	if st, err := m.station.Status(ctx); err == nil && st.State == LinkUp {
		m.lastRSSI = st.RSSI
		m.log.Debug("link already up", "bssid", st.BSSID.String())
		return nil
	}

	mem := m.loadMemory(ctx)
	target := m.pinTarget(mem)

	if target != nil {
		st, err := m.join(ctx, m.pinnedRequest(target), start.Add(pinnedBudget(timeout)))
		if err == nil {
			m.lastRSSI = st.RSSI
			m.log.Info("joined pinned access point",
				"bssid", st.BSSID.String(),
				"rssi", st.RSSI,
				"elapsed", time.Since(start).Round(time.Millisecond))
			m.remember(ctx, st)
			return nil
		}
		if !errors.Is(err, ErrJoinTimeout) {
			return err
		}
		m.log.Debug("pinned join missed its window, widening",
			"bssid", target.String(),
			"budget", pinnedBudget(timeout))
	}

	st, err := m.join(ctx, m.openRequest(), deadline)
	if err == nil {
		m.lastRSSI = st.RSSI
		m.log.Info("joined network",
			"ssid", m.cfg.SSID,
			"bssid", st.BSSID.String(),
			"rssi", st.RSSI,
			"elapsed", time.Since(start).Round(time.Millisecond))
		m.remember(ctx, st)
		return nil
	}
	if errors.Is(err, ErrJoinTimeout) {
		m.log.Warn("no network this wake",
			"ssid", m.cfg.SSID,
			"timeout", timeout)
		if target != nil {
			m.notePinnedFailure(ctx, mem)
		}
	}
	return err
}

// LastRSSI returns the signal strength in dBm read at the last
// successful Connect, 0 when unknown or not associated.
func (m *Manager) LastRSSI() int {
	return m.lastRSSI
}

// Disconnect drops the association. Called before deep sleep so the
// access point releases its state promptly instead of waiting out the
// inactivity timer.
func (m *Manager) Disconnect(ctx context.Context) error {
	if m.station == nil {
		return nil
	}
	return m.station.Disconnect(ctx)
}

// Close releases the control connection and stops a managed
// supplicant. Safe to call multiple times.
func (m *Manager) Close() error {
	var errs []error
	if m.station != nil {
		if err := m.station.Close(); err != nil {
			errs = append(errs, err)
		}
		m.station = nil
	}
	if m.supplicant != nil {
		if err := m.supplicant.Stop(); err != nil {
			errs = append(errs, err)
		}
		m.supplicant = nil
	}
	if m.confPath != "" {
		_ = os.Remove(m.confPath)
		m.confPath = ""
	}
	return errors.Join(errs...)
}

// ensureStation dials the wpa_supplicant control socket unless a
// backend was injected.
func (m *Manager) ensureStation(ctx context.Context) error {
	if m.station != nil {
		return nil
	}
	st, err := NewCtrlStation(ctx, m.cfg.CtrlDir, m.cfg.Interface)
	if err != nil {
		return err
	}
	m.station = st
	return nil
}

// pinTarget selects the BSSID for the pinned attempt: the remembered
// station when its SSID still matches the configuration, otherwise the
// configured seed for a node that has never joined.
func (m *Manager) pinTarget(mem AccessPointMemory) net.HardwareAddr {
	if mem.SSID == m.cfg.SSID && mem.BSSID != nil {
		return mem.BSSID
	}
	return m.seed
}

func (m *Manager) pinnedRequest(target net.HardwareAddr) JoinRequest {
	return JoinRequest{
		SSID:       m.cfg.SSID,
		Passphrase: m.cfg.Passphrase,
		Country:    m.cfg.Country,
		BSSID:      target,
		FastScan:   true,
		MinRSSI:    m.cfg.MinRSSI,
		MinAuth:    m.cfg.MinAuth,
	}
}

// openRequest carries no station lock and no floors; the fallback takes
// whatever association it can get.
func (m *Manager) openRequest() JoinRequest {
	return JoinRequest{
		SSID:       m.cfg.SSID,
		Passphrase: m.cfg.Passphrase,
		Country:    m.cfg.Country,
	}
}

func (m *Manager) join(ctx context.Context, req JoinRequest, deadline time.Time) (LinkStatus, error) {
	if err := m.station.StartJoin(ctx, req); err != nil {
		return LinkStatus{}, err
	}
	return m.awaitLink(ctx, deadline)
}

// awaitLink polls the station until the link comes up or the deadline
// passes. The final sleep is clamped to the deadline, so overshoot is
// at most one status round trip.
func (m *Manager) awaitLink(ctx context.Context, deadline time.Time) (LinkStatus, error) {
	for {
		st, err := m.station.Status(ctx)
		if err != nil {
			return LinkStatus{}, err
		}
		if st.State == LinkUp {
			return st, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return st, fmt.Errorf("%w: still %s at deadline", ErrJoinTimeout, st.State)
		}
		wait := m.poll
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return LinkStatus{}, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// remember persists the joined network, preferring the SSID and BSSID
// the station actually reports over what was requested.
func (m *Manager) remember(ctx context.Context, st LinkStatus) {
	ssid := st.SSID
	if ssid == "" {
		ssid = m.cfg.SSID
	}
	if err := m.saveMemory(ctx, AccessPointMemory{SSID: ssid, BSSID: st.BSSID}); err != nil {
		m.log.Warn("saving access point memory", "error", err)
	}
}

// pinnedBudget is the slice of the total join budget granted to the
// pinned attempt: half of it, capped at pinnedBudgetCap.
func pinnedBudget(timeout time.Duration) time.Duration {
	budget := timeout / 2
	if budget > pinnedBudgetCap {
		budget = pinnedBudgetCap
	}
	return budget
}
