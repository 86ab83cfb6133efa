package wifi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/process"
)

const (
	// socketPollInterval is how often the manager checks for the
	// control socket while the daemon starts up.
	socketPollInterval = 100 * time.Millisecond

	// socketWaitCap bounds the wait for the control socket to appear.
	socketWaitCap = 3 * time.Second

	// supplicantStopTimeout is how long the daemon gets to exit on
	// SIGTERM before the process manager kills it.
	supplicantStopTimeout = 5 * time.Second
)

// ensureSupplicant starts wpa_supplicant when the node manages it and
// waits for the control socket to appear. A daemon run externally, as
// a system service, skips all of this.
func (m *Manager) ensureSupplicant(ctx context.Context, deadline time.Time) error {
	if !m.cfg.Supplicant.Managed {
		return nil
	}
	if m.supplicant != nil && m.supplicant.IsRunning() {
		return nil
	}

	confPath, err := m.writeSupplicantConf()
	if err != nil {
		return fmt.Errorf("wifi: writing supplicant config: %w", err)
	}
	m.confPath = confPath

	proc := process.NewManager(process.Config{
		Name:   "wpa_supplicant",
		Binary: m.cfg.Supplicant.Binary,
		Args: []string{
			"-i", m.cfg.Interface,
			"-D", m.cfg.Supplicant.Driver,
			"-c", confPath,
		},
		// Restart stays off; a supplicant that dies mid-episode means
		// no network this wake, nothing more.
		GracefulTimeout: supplicantStopTimeout,
	})
	proc.SetLogger(m.log)

	if err := proc.Start(ctx); err != nil {
		return fmt.Errorf("%w: starting wpa_supplicant: %w", ErrControlFailed, err)
	}
	m.supplicant = proc

	sockDeadline := time.Now().Add(socketWaitCap)
	if sockDeadline.After(deadline) {
		sockDeadline = deadline
	}
	return m.waitForSocket(ctx, filepath.Join(m.cfg.CtrlDir, m.cfg.Interface), sockDeadline)
}

// writeSupplicantConf renders the minimal daemon configuration: the
// control socket directory and the regulatory domain. Network blocks
// are injected at join time over the control interface.
func (m *Manager) writeSupplicantConf() (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "ctrl_interface=DIR=%s\n", m.cfg.CtrlDir)
	fmt.Fprintf(&b, "update_config=0\n")
	if m.cfg.Country != "" {
		fmt.Fprintf(&b, "country=%s\n", m.cfg.Country)
	}

	f, err := os.CreateTemp("", "graynode-wpa-*.conf")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// waitForSocket polls for the control socket path until it exists or
// the deadline passes.
func (m *Manager) waitForSocket(ctx context.Context, path string, deadline time.Time) error {
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Until(deadline) <= 0 {
			return fmt.Errorf("%w: control socket %s did not appear", ErrControlFailed, path)
		}
		wait := socketPollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
