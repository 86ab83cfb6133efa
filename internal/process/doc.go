// Package process manages external subprocess lifecycles.
//
// The node uses it to run wpa_supplicant for the duration of a wake
// episode: started before the join attempt, stopped before deep sleep.
// Supervision is thin: restart-on-failure exists but the node leaves
// it disabled, since a supplicant that dies mid-episode just means
// this wake has no network.
//
// Processes run in their own process group so Stop can signal the
// whole tree: SIGTERM, a bounded grace period, then SIGKILL.
package process
