// Package session manages the node's MQTT session for one wake episode.
//
// This package handles:
//   - Session establishment with the availability will registered
//     before the connection opens
//   - Retained online/offline availability announcements
//   - The fixed weather subscription set and suffix dispatch into the
//     telemetry snapshot, with unit conversion for Fahrenheit and mph
//     aliases
//   - Home Assistant discovery documents for the node's sensors
//   - Hub-online detection and full idempotent re-announcement
//
// # Liveness protocol
//
// The availability topic always tells the truth, in order:
//
//  1. Before connecting, the will (retained "offline") is lodged with
//     the broker. A crash, brown-out, or radio loss flips the topic
//     without the node's participation.
//  2. On connect, retained "online" is published.
//  3. On graceful Close, retained "offline" is published and the will
//     dies unused with the clean disconnect.
//
// # Inbound dispatch
//
// Weather payloads dispatch by topic suffix through a fixed alias
// table into the snapshot. Parses are permissive: an unparseable
// number stores zero with the validity bit still set, and no payload,
// however malformed, aborts the session. Hub clock payloads bypass the
// snapshot and go to the OnClock hook verbatim.
//
// # Usage
//
//	mgr, err := session.NewManager(session.Options{
//	    Config:   cfg,
//	    Snapshot: snap,
//	    Logger:   log,
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := mgr.Begin(ctx); err != nil {
//	    return err // samples go to the offline buffer instead
//	}
//	defer mgr.Close()
//
//	mgr.PublishReading(reading)
package session
