package session

import "errors"

var (
	// ErrNotConnected indicates a publish was attempted with no live
	// session. Publishes fail closed; nothing is silently dropped.
	ErrNotConnected = errors.New("session: not connected")

	// ErrSessionActive indicates Begin was called while a session is
	// already up.
	ErrSessionActive = errors.New("session: session already active")
)
