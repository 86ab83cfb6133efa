// Package wifi brings the node's network link up at the start of a
// wake episode, within a hard time budget.
//
// # Join strategy
//
// The manager remembers the access point it last joined (SSID, BSSID
// and a failure counter, persisted across deep sleep) and pins the
// next join to that station for a small slice of the budget, with fast
// scan and the configured signal and auth floors applied. Associating
// with a known station skips the full scan and typically completes in
// well under a second, which matters when every second awake costs
// battery.
//
// If the pinned attempt misses its window the join is re-issued with
// the pin and floors cleared, taking whatever association it can get
// for the remainder of the budget. Repeated pinned failures erase the
// memory so an access point that moved or was decommissioned stops
// taxing every wake.
//
// ErrJoinTimeout is the routine "woke up out of range" outcome; the
// caller logs it and runs the episode offline.
//
// # Backends
//
// Production nodes drive a wpa_supplicant daemon through its control
// socket (CtrlStation); the daemon is either a system service or a
// subprocess the manager starts itself when wifi.supplicant.managed is
// set. The Station interface keeps the join logic independent of the
// backend.
//
// Usage:
//
//	mgr, err := wifi.NewManager(wifi.Options{
//		Config: cfg.WiFi,
//		Store:  store,
//		Logger: logger,
//	})
//	if err != nil {
//		return err
//	}
//	defer mgr.Close()
//
//	if err := mgr.Connect(ctx, cfg.WiFiConnectTimeout()); err != nil {
//		if errors.Is(err, wifi.ErrJoinTimeout) {
//			// No network this wake; buffer readings locally.
//		}
//		return err
//	}
package wifi
