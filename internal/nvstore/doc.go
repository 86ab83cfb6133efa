// Package nvstore provides the node's durable key-value store.
//
// Everything that must survive a deep-sleep restart goes through this
// package: the remembered access point, the offline sample ring bounds,
// and the buffered samples themselves. Keys are grouped into namespaces
// so each owner manages its own slice of the store:
//
//	net/last_ssid    remembered network name
//	net/last_bssid   remembered access point address
//	net/bssid_fail   consecutive failed pinned joins
//	obuf/head        ring write position
//	obuf/tail        ring read position
//	obuf/s<seq>      buffered sample at sequence <seq>
//
// # Integrity
//
// Persisted structures are wrapped in a versioned envelope with a CRC32
// trailer (PutRecord/GetRecord). Loading a value that fails validation
// returns ErrCorrupt; owners respond by re-initialising that structure
// rather than trusting partial data. Raw Put/Get skip the envelope for
// callers that do their own framing.
//
// # Write model
//
// Every mutation is a single autocommit statement. Multi-step updates
// (advance tail, delete entry) are sequences of single-key writes in a
// defined order, so a power cut mid-sequence leaves the store in a state
// the next wake can interpret, never a state that needs rollback.
package nvstore
