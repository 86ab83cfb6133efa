package wifi

import "errors"

// Sentinel errors for wifi operations.
//
// Use errors.Is to test for these; returned errors wrap them with
// call-site context.
var (
	// ErrJoinTimeout indicates the join budget elapsed without an
	// association. For a battery node waking far from its access point
	// this is a routine outcome, not a fault; callers report it and
	// carry on offline.
	ErrJoinTimeout = errors.New("wifi: join timed out")

	// ErrControlFailed indicates the wpa_supplicant control socket
	// could not be reached or stopped answering.
	ErrControlFailed = errors.New("wifi: control connection failed")

	// ErrCommandFailed indicates wpa_supplicant rejected a control
	// command.
	ErrCommandFailed = errors.New("wifi: control command failed")

	// ErrStationClosed indicates an operation on a closed station.
	ErrStationClosed = errors.New("wifi: station closed")
)
