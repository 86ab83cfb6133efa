// Package obuf buffers inside readings taken while the node has no
// broker session and forwards them once one exists.
//
// The buffer is a bounded ring over the durable store, so it survives
// deep sleep and power loss. Enqueue always admits: at capacity the
// oldest sample is evicted first, trading history depth for the
// freshest data. Drain walks the backlog oldest-first under a fresh
// per-call budget of wall time and wire bytes, persisting its position
// after every entry; whatever the budget cannot move simply waits for
// the next wake with a session.
//
// Delivery is at least once. Publish and position-persist are two
// steps, and a power cut between them replays that one sample on the
// next drain. History consumers key on the sample timestamp, which
// makes the replay harmless.
package obuf
