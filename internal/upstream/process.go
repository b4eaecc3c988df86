package upstream

import "github.com/springsnail/tcplb/internal/relay"

// Side identifies which half of a pair an fd belongs to.
type Side int

const (
	ClientSide Side = iota
	UpstreamSide
)

// Process dispatches one readiness event for fd (known to belong to
// side) against whichever pair currently owns it. It is the direct
// translation of the original dispatch table: a readable client fd is
// read and, on success or on filling its buffer, immediately followed
// by an attempt to flush that data to the upstream — the two cases
// fall through to the same next step rather than waiting for a second
// event. The same fallthrough applies symmetrically to the upstream
// read path. Process never blocks and never touches the poller for an
// fd it did not look up successfully.
func (m *Manager) Process(fd int, side Side, readable, writable bool) {
	var p *relay.Pair
	var ok bool
	switch side {
	case ClientSide:
		p, ok = m.ByClientFD(fd)
	case UpstreamSide:
		p, ok = m.ByUpstreamFD(fd)
	}
	if !ok {
		return
	}

	if readable {
		switch side {
		case ClientSide:
			m.processClientReadable(p)
		case UpstreamSide:
			m.processUpstreamReadable(p)
		}
		if p.UpstreamFD < 0 && p.ClientFD < 0 {
			return // pair was torn down by the read handler
		}
		// The fd this event is about may itself have been closed (e.g.
		// an upstream read failure latches UpstreamClosed and closes
		// UpstreamFD while the pair survives to drain toward the
		// client). Don't act on a writable event for an fd that no
		// longer exists.
		if side == UpstreamSide && p.UpstreamFD < 0 {
			return
		}
		if side == ClientSide && p.ClientFD < 0 {
			return
		}
	}

	if writable {
		switch side {
		case ClientSide:
			m.processClientWritable(p)
		case UpstreamSide:
			m.processUpstreamWritable(p)
		}
	}
}

func (m *Manager) processClientReadable(p *relay.Pair) {
	res, err := p.ReadFromClient()
	switch res {
	case relay.OK, relay.BufferFull:
		// Fall through: whatever was just read is pushed toward the
		// upstream immediately instead of waiting for a separate
		// upstream-writable event.
		m.flushToUpstream(p)
	case relay.Closed, relay.IOErr:
		m.logger.Debug("client read failed", "pair", p.ID, "result", res, "err", err)
		m.Release(p)
		return
	case relay.Nothing, relay.TryAgain:
		// nothing changed
	}
	m.syncInterest(p)
}

func (m *Manager) processUpstreamReadable(p *relay.Pair) {
	res, err := p.ReadFromUpstream()
	switch res {
	case relay.OK, relay.BufferFull:
		m.flushToClient(p)
	case relay.Closed, relay.IOErr:
		m.logger.Debug("upstream read failed", "pair", p.ID, "result", res, "err", err)
		m.markUpstreamClosed(p)
	case relay.Nothing, relay.TryAgain:
	}
	m.syncInterest(p)
}

func (m *Manager) processClientWritable(p *relay.Pair) {
	m.flushToClient(p)
	m.syncInterest(p)
}

func (m *Manager) processUpstreamWritable(p *relay.Pair) {
	m.flushToUpstream(p)
	m.syncInterest(p)
}

// flushToUpstream drains the client->upstream buffer. On a hard
// upstream failure it latches UpstreamClosed rather than tearing the
// pair down immediately, so any response already buffered toward the
// client still gets delivered.
func (m *Manager) flushToUpstream(p *relay.Pair) {
	before := p.ClientPendingBytes()
	res, err := p.WriteToUpstream()
	if m.stats != nil {
		if n := before - p.ClientPendingBytes(); n > 0 {
			m.stats.RecordClientToUpstream(n)
		}
	}
	if res == relay.Closed || res == relay.IOErr {
		m.logger.Debug("upstream write failed", "pair", p.ID, "result", res, "err", err)
		m.markUpstreamClosed(p)
	}
}

// flushToClient drains the upstream->client buffer. If the upstream
// side has already latched closed and there is nothing left queued,
// this is the last thing keeping the pair alive, so it is released.
func (m *Manager) flushToClient(p *relay.Pair) {
	before := p.UpstreamPendingBytes()
	res, err := p.WriteToClient()
	if m.stats != nil {
		if n := before - p.UpstreamPendingBytes(); n > 0 {
			m.stats.RecordUpstreamToClient(n)
		}
	}
	switch res {
	case relay.Closed, relay.IOErr:
		m.logger.Debug("client write failed", "pair", p.ID, "result", res, "err", err)
		m.Release(p)
	case relay.OK, relay.BufferEmpty:
		if p.UpstreamClosed && !p.UpstreamPending() {
			m.Release(p)
		}
	default:
	}
}

// markUpstreamClosed closes the upstream side of a failed pair without
// touching the client side: the client may still be owed buffered
// bytes. If nothing is left to deliver, the pair is released right away.
func (m *Manager) markUpstreamClosed(p *relay.Pair) {
	if p.UpstreamClosed {
		return
	}
	p.UpstreamClosed = true
	if p.UpstreamFD >= 0 {
		delete(m.inUseByUpstream, p.UpstreamFD)
		_ = m.poller.UnregisterAndClose(p.UpstreamFD)
		p.UpstreamFD = -1
	}
	if !p.UpstreamPending() {
		m.Release(p)
	}
}

// syncInterest reconciles each live fd's epoll registration with the
// pair's actual buffer state: read interest is withheld while the
// buffer that fd fills is full (back-pressure), write interest is held
// only while there is something queued to drain toward that fd.
func (m *Manager) syncInterest(p *relay.Pair) {
	if p.ClientFD >= 0 {
		readOK := !p.ClientToUpstreamFull()
		writeOK := p.UpstreamPending()
		_ = m.poller.Modify(p.ClientFD, readOK, writeOK)
	}
	if p.UpstreamFD >= 0 {
		readOK := !p.UpstreamToClientFull()
		writeOK := p.ClientPending()
		_ = m.poller.Modify(p.UpstreamFD, readOK, writeOK)
	}
}
