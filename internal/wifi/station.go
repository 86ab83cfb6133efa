package wifi

import (
	"context"
	"net"
)

// LinkState is the coarse association state reported by a Station.
type LinkState string

const (
	// LinkIdle means no join is in progress.
	LinkIdle LinkState = "idle"

	// LinkAssociating means a join has been issued and is still working
	// through scan, association or the key handshake.
	LinkAssociating LinkState = "associating"

	// LinkUp means the link is established.
	LinkUp LinkState = "up"
)

// JoinRequest describes one association attempt.
type JoinRequest struct {
	SSID       string
	Passphrase string

	// Country is the regulatory domain code.
	Country string

	// BSSID locks the attempt to one access point. nil joins whichever
	// station broadcasts SSID.
	BSSID net.HardwareAddr

	// FastScan asks the backend to probe the target directly instead of
	// sweeping the full neighbourhood.
	FastScan bool

	// MinRSSI rejects candidates weaker than this floor in dBm. 0
	// disables the floor. Honoured by backends that can filter on
	// signal strength; wpa_supplicant has no matching network property
	// and ignores it.
	MinRSSI int

	// MinAuth rejects authentication modes weaker than this floor:
	// "open", "wep", "wpa-psk", "wpa2-psk". Empty disables the floor.
	MinAuth string
}

// LinkStatus is a point-in-time poll result.
type LinkStatus struct {
	State LinkState

	// SSID and BSSID identify the joined network. Populated when State
	// is LinkUp.
	SSID  string
	BSSID net.HardwareAddr

	// RSSI is the received signal strength in dBm. 0 when unknown.
	RSSI int

	// Auth is the key management in use, as reported by the backend.
	Auth string
}

// Station is the link-layer surface the manager drives.
//
// StartJoin and Status must not block beyond a single request round
// trip; the manager owns all waiting and polls Status against its own
// deadline. This allows mocking in tests and flexibility in
// implementation.
type Station interface {
	// StartJoin begins an association attempt. It returns once the
	// request is accepted, not once the link is up.
	StartJoin(ctx context.Context, req JoinRequest) error

	// Status reports the current link state.
	Status(ctx context.Context) (LinkStatus, error)

	// Disconnect drops the current association.
	Disconnect(ctx context.Context) error

	// Close releases the station's resources. The link itself is not
	// torn down.
	Close() error
}
