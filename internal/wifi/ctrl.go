package wifi

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ctrlRequestTimeout bounds a single command round trip.
	ctrlRequestTimeout = 2 * time.Second

	// ctrlReplyBufSize fits the largest reply we solicit, a STATUS dump
	// with a verbose network block.
	ctrlReplyBufSize = 4096

	replyOK   = "OK"
	replyFail = "FAIL"
	replyPong = "PONG"
)

// ctrlSeq distinguishes local socket paths when one process opens more
// than one station.
var ctrlSeq atomic.Uint32

// CtrlStation drives a wpa_supplicant daemon over its control socket.
//
// The control protocol is a datagram exchange: one text request, one
// text reply. Replies to commands never carry the <priority> prefix;
// datagrams that do are unsolicited events and are skipped.
type CtrlStation struct {
	mu        sync.Mutex
	conn      *net.UnixConn
	localPath string
	closed    bool
}

var _ Station = (*CtrlStation)(nil)

// NewCtrlStation connects to the control socket for iface under
// ctrlDir and confirms the daemon answers a PING.
//
// The daemon replies to whatever address a request came from, so the
// client binds its own datagram socket first. Local socket naming
// follows the wpa_cli convention of pid plus a per-process counter.
func NewCtrlStation(ctx context.Context, ctrlDir, iface string) (*CtrlStation, error) {
	remote := filepath.Join(ctrlDir, iface)
	local := filepath.Join(os.TempDir(),
		fmt.Sprintf("wpa_ctrl_%d-%d", os.Getpid(), ctrlSeq.Add(1)))

	// A stale socket from a crashed run blocks the bind.
	_ = os.Remove(local)

	conn, err := net.DialUnix("unixgram",
		&net.UnixAddr{Name: local, Net: "unixgram"},
		&net.UnixAddr{Name: remote, Net: "unixgram"},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrControlFailed, remote, err)
	}

	s := &CtrlStation{conn: conn, localPath: local}

	reply, err := s.request(ctx, "PING")
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if reply != replyPong {
		_ = s.Close()
		return nil, fmt.Errorf("%w: unexpected ping reply %q", ErrControlFailed, reply)
	}
	return s, nil
}

// StartJoin installs a single network block describing the request and
// selects it. Any blocks from earlier attempts are removed first so
// they cannot compete during scanning.
func (s *CtrlStation) StartJoin(ctx context.Context, req JoinRequest) error {
	if err := s.command(ctx, "REMOVE_NETWORK all"); err != nil {
		return err
	}

	id, err := s.request(ctx, "ADD_NETWORK")
	if err != nil {
		return err
	}
	if id == "" || id == replyFail {
		return fmt.Errorf("%w: add_network: %q", ErrCommandFailed, id)
	}

	if err := s.set(ctx, id, "ssid", quote(req.SSID)); err != nil {
		return err
	}
	if req.Passphrase != "" {
		if err := s.set(ctx, id, "psk", quote(req.Passphrase)); err != nil {
			return err
		}
		if proto := authProto(req.MinAuth); proto != "" {
			if err := s.set(ctx, id, "proto", proto); err != nil {
				return err
			}
		}
	} else {
		if err := s.set(ctx, id, "key_mgmt", "NONE"); err != nil {
			return err
		}
	}
	if req.BSSID != nil {
		if err := s.set(ctx, id, "bssid", req.BSSID.String()); err != nil {
			return err
		}
	}
	if req.FastScan {
		// Probe the target SSID directly instead of waiting for a full
		// passive sweep.
		if err := s.set(ctx, id, "scan_ssid", "1"); err != nil {
			return err
		}
	}

	return s.command(ctx, "SELECT_NETWORK "+id)
}

// Status reports the link state from a STATUS dump, folding in the
// signal level from SIGNAL_POLL once the link is up.
func (s *CtrlStation) Status(ctx context.Context) (LinkStatus, error) {
	reply, err := s.request(ctx, "STATUS")
	if err != nil {
		return LinkStatus{}, err
	}
	st := parseStatus(reply)
	if st.State == LinkUp {
		if sig, err := s.request(ctx, "SIGNAL_POLL"); err == nil {
			st.RSSI = parseSignalPoll(sig)
		}
	}
	return st, nil
}

// Disconnect drops the current association.
func (s *CtrlStation) Disconnect(ctx context.Context) error {
	return s.command(ctx, "DISCONNECT")
}

// Close releases the control socket and removes the local endpoint.
// Safe to call multiple times.
func (s *CtrlStation) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.conn.Close()
	if s.localPath != "" {
		_ = os.Remove(s.localPath)
	}
	if err != nil {
		return fmt.Errorf("wifi: closing control socket: %w", err)
	}
	return nil
}

// command issues cmd and requires an OK reply.
func (s *CtrlStation) command(ctx context.Context, cmd string) error {
	reply, err := s.request(ctx, cmd)
	if err != nil {
		return err
	}
	if reply != replyOK {
		name := strings.ToLower(strings.Fields(cmd)[0])
		return fmt.Errorf("%w: %s: %s", ErrCommandFailed, name, reply)
	}
	return nil
}

// set applies one network property. Errors name the property but never
// its value; passphrases travel through here.
func (s *CtrlStation) set(ctx context.Context, id, prop, value string) error {
	reply, err := s.request(ctx, fmt.Sprintf("SET_NETWORK %s %s %s", id, prop, value))
	if err != nil {
		return err
	}
	if reply != replyOK {
		return fmt.Errorf("%w: set_network %s: %s", ErrCommandFailed, prop, reply)
	}
	return nil
}

// request performs one datagram round trip. The deadline is the
// earlier of the per-request timeout and the context deadline.
func (s *CtrlStation) request(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStationClosed
	}

	deadline := time.Now().Add(ctrlRequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("%w: %w", ErrControlFailed, err)
	}

	if _, err := s.conn.Write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("%w: send: %w", ErrControlFailed, err)
	}

	buf := make([]byte, ctrlReplyBufSize)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return "", fmt.Errorf("%w: recv: %w", ErrControlFailed, err)
		}
		reply := strings.TrimSpace(string(buf[:n]))
		if strings.HasPrefix(reply, "<") {
			// Unsolicited event datagram, not our reply.
			continue
		}
		return reply, nil
	}
}

// parseStatus converts a STATUS reply of key=value lines into a
// LinkStatus. Unknown states read as idle.
func parseStatus(reply string) LinkStatus {
	var st LinkStatus
	st.State = LinkIdle
	for _, line := range strings.Split(reply, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "wpa_state":
			st.State = linkStateFor(value)
		case "ssid":
			st.SSID = value
		case "bssid":
			if hw, err := net.ParseMAC(value); err == nil {
				st.BSSID = hw
			}
		case "key_mgmt":
			st.Auth = value
		}
	}
	return st
}

// linkStateFor maps wpa_supplicant state names onto the coarse states
// the manager polls for.
func linkStateFor(wpaState string) LinkState {
	switch wpaState {
	case "COMPLETED":
		return LinkUp
	case "SCANNING", "AUTHENTICATING", "ASSOCIATING", "ASSOCIATED",
		"4WAY_HANDSHAKE", "GROUP_HANDSHAKE":
		return LinkAssociating
	default:
		return LinkIdle
	}
}

// parseSignalPoll extracts the RSSI line from a SIGNAL_POLL reply, 0
// when the reply carries none.
func parseSignalPoll(reply string) int {
	for _, line := range strings.Split(reply, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "RSSI="); ok {
			if rssi, err := strconv.Atoi(v); err == nil {
				return rssi
			}
		}
	}
	return 0
}

// authProto maps an auth floor onto the proto list that enforces it.
// Floors at or below WEP need no constraint; wpa_supplicant already
// prefers the strongest mode an access point offers.
func authProto(minAuth string) string {
	switch minAuth {
	case "wpa2-psk":
		return "RSN"
	case "wpa-psk":
		return "WPA RSN"
	default:
		return ""
	}
}

// quote wraps a value in the double quotes wpa_supplicant requires for
// string-typed network properties.
func quote(v string) string {
	return `"` + v + `"`
}
