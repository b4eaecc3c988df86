// Package stats collects relay-wide counters that outlive any single
// connection pair, for the admin API's /stats endpoint.
package stats

import "sync/atomic"

// Relay collects proxy-wide traffic counters. All methods are safe for
// concurrent use.
type Relay struct {
	connectionsAccepted atomic.Uint64
	connectionsClosed   atomic.Uint64
	pickFailures        atomic.Uint64
	bytesClientToUp     atomic.Uint64
	bytesUpToClient     atomic.Uint64
}

// NewRelay creates a new relay statistics collector.
func NewRelay() *Relay {
	return &Relay{}
}

// RecordAccepted records a client connection being handed to a worker.
func (r *Relay) RecordAccepted() {
	r.connectionsAccepted.Add(1)
}

// RecordClosed records a connection pair being released.
func (r *Relay) RecordClosed() {
	r.connectionsClosed.Add(1)
}

// RecordPickFailure records a worker having no idle upstream connection
// available for an accepted client.
func (r *Relay) RecordPickFailure() {
	r.pickFailures.Add(1)
}

// RecordClientToUpstream records n bytes relayed from a client toward
// its upstream.
func (r *Relay) RecordClientToUpstream(n int) {
	if n > 0 {
		r.bytesClientToUp.Add(uint64(n))
	}
}

// RecordUpstreamToClient records n bytes relayed from an upstream back
// to its client.
func (r *Relay) RecordUpstreamToClient(n int) {
	if n > 0 {
		r.bytesUpToClient.Add(uint64(n))
	}
}

// Snapshot is a point-in-time view of the relay counters.
type Snapshot struct {
	ConnectionsAccepted uint64
	ConnectionsClosed   uint64
	PickFailures        uint64
	BytesClientToUp     uint64
	BytesUpToClient     uint64
}

// Snapshot returns the current counter values.
func (r *Relay) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsAccepted: r.connectionsAccepted.Load(),
		ConnectionsClosed:   r.connectionsClosed.Load(),
		PickFailures:        r.pickFailures.Load(),
		BytesClientToUp:     r.bytesClientToUp.Load(),
		BytesUpToClient:     r.bytesUpToClient.Load(),
	}
}
