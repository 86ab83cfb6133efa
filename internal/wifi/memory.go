package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/nerrad567/gray-logic-node/internal/nvstore"
)

// Durable storage keys for the access point memory.
const (
	nsNet        = "net"
	keyLastSSID  = "last_ssid"
	keyLastBSSID = "last_bssid"
	keyBSSIDFail = "bssid_fail"
)

// AccessPointMemory is the durable record of the last joined access
// point.
//
// BSSID is nil when no station is remembered; an all-zero address on
// disk reads back as nil. Fails counts consecutive failed pinned joins
// and resets on any successful join.
type AccessPointMemory struct {
	SSID  string
	BSSID net.HardwareAddr
	Fails int
}

// MemoryStore is the durable storage surface the manager needs.
// Satisfied by *nvstore.Store. This allows mocking in tests and
// flexibility in implementation.
type MemoryStore interface {
	GetString(ctx context.Context, namespace, key string) (string, error)
	PutString(ctx context.Context, namespace, key, v string) error
	GetRecord(ctx context.Context, namespace, key string) ([]byte, error)
	PutRecord(ctx context.Context, namespace, key string, payload []byte) error
	GetUint64(ctx context.Context, namespace, key string) (uint64, error)
	PutUint64(ctx context.Context, namespace, key string, v uint64) error
	Delete(ctx context.Context, namespace, key string) error
}

// loadMemory reads the remembered access point. Missing or corrupt
// records degrade to an empty memory; a damaged store must not cost the
// node its wake.
func (m *Manager) loadMemory(ctx context.Context) AccessPointMemory {
	var mem AccessPointMemory

	ssid, err := m.store.GetString(ctx, nsNet, keyLastSSID)
	switch {
	case err == nil:
		mem.SSID = ssid
	case errors.Is(err, nvstore.ErrNotFound):
	default:
		m.log.Warn("remembered ssid unreadable, ignoring", "error", err)
	}

	raw, err := m.store.GetRecord(ctx, nsNet, keyLastBSSID)
	switch {
	case err == nil:
		if len(raw) == bssidLen {
			mem.BSSID = net.HardwareAddr(raw)
		} else {
			m.log.Warn("remembered bssid has wrong length, ignoring", "length", len(raw))
		}
	case errors.Is(err, nvstore.ErrNotFound):
	default:
		m.log.Warn("remembered bssid unreadable, ignoring", "error", err)
	}
	if zeroBSSID(mem.BSSID) {
		mem.BSSID = nil
	}

	fails, err := m.store.GetUint64(ctx, nsNet, keyBSSIDFail)
	switch {
	case err == nil:
		mem.Fails = int(fails)
	case errors.Is(err, nvstore.ErrNotFound):
	default:
		m.log.Warn("pinned failure count unreadable, ignoring", "error", err)
	}

	return mem
}

// saveMemory persists the record with the failure count reset to zero.
func (m *Manager) saveMemory(ctx context.Context, mem AccessPointMemory) error {
	if err := m.store.PutString(ctx, nsNet, keyLastSSID, mem.SSID); err != nil {
		return fmt.Errorf("saving ssid: %w", err)
	}
	if zeroBSSID(mem.BSSID) {
		if err := m.store.Delete(ctx, nsNet, keyLastBSSID); err != nil {
			return fmt.Errorf("clearing bssid: %w", err)
		}
	} else if err := m.store.PutRecord(ctx, nsNet, keyLastBSSID, mem.BSSID); err != nil {
		return fmt.Errorf("saving bssid: %w", err)
	}
	if err := m.store.PutUint64(ctx, nsNet, keyBSSIDFail, 0); err != nil {
		return fmt.Errorf("resetting failure count: %w", err)
	}
	return nil
}

// eraseMemory removes the whole record.
func (m *Manager) eraseMemory(ctx context.Context) error {
	for _, key := range []string{keyLastSSID, keyLastBSSID, keyBSSIDFail} {
		if err := m.store.Delete(ctx, nsNet, key); err != nil {
			return fmt.Errorf("erasing %s: %w", key, err)
		}
	}
	return nil
}

// notePinnedFailure bumps the consecutive failure count. At the
// configured threshold the remembered access point is assumed moved or
// decommissioned and the record is erased, counter included, so the
// next wake scans fresh.
func (m *Manager) notePinnedFailure(ctx context.Context, mem AccessPointMemory) {
	fails := mem.Fails + 1
	if fails >= m.cfg.ForgetAfter {
		m.log.Info("forgetting remembered access point",
			"ssid", mem.SSID,
			"consecutive_failures", fails)
		if err := m.eraseMemory(ctx); err != nil {
			m.log.Warn("erasing access point memory", "error", err)
		}
		return
	}
	if err := m.store.PutUint64(ctx, nsNet, keyBSSIDFail, uint64(fails)); err != nil { //nolint:gosec // fails is a small positive count
		m.log.Warn("recording pinned join failure", "error", err)
		return
	}
	m.log.Debug("pinned join failed",
		"consecutive_failures", fails,
		"forget_after", m.cfg.ForgetAfter)
}

const bssidLen = 6

// zeroBSSID reports whether b is absent: nil, empty or all zero bytes.
func zeroBSSID(b net.HardwareAddr) bool {
	for _, octet := range b {
		if octet != 0 {
			return false
		}
	}
	return true
}
