package relay

// DefaultBufferSize is the per-direction buffer capacity used when a
// caller doesn't need a different one. A connection pair allocates two
// of these, one per direction.
const DefaultBufferSize = 4096

// Pair is a bound (client fd, upstream fd) relay: two independent
// directions, each a fixed linear buffer drained edge-triggered style.
// A Pair has no knowledge of epoll registration or pool membership; it
// only knows how to move bytes and report what happened.
type Pair struct {
	// ID is a caller-assigned correlation value (e.g. a UUID prefix)
	// used purely for logging; it has no bearing on behavior.
	ID string

	ClientFD   int
	ClientAddr string

	UpstreamFD   int
	UpstreamAddr string

	// UpstreamClosed latches once the upstream side has signaled EOF or
	// a hard error, so the worker can drain any remaining buffered bytes
	// toward the client before tearing the pair down.
	UpstreamClosed bool

	clientToUpstream linearBuffer // filled by ReadFromClient, drained by WriteToUpstream
	upstreamToClient linearBuffer // filled by ReadFromUpstream, drained by WriteToClient
}

// NewPair allocates a Pair with the given per-direction buffer capacity.
// The fds are left unbound (-1) until BindClient/BindUpstream are called.
func NewPair(bufSize int) *Pair {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Pair{
		ClientFD:         -1,
		UpstreamFD:       -1,
		clientToUpstream: newLinearBuffer(bufSize),
		upstreamToClient: newLinearBuffer(bufSize),
	}
}

// BindClient attaches a client-side fd and peer address to the pair.
func (p *Pair) BindClient(fd int, addr string) {
	p.ClientFD = fd
	p.ClientAddr = addr
}

// BindUpstream attaches an upstream-side fd and peer address to the pair.
func (p *Pair) BindUpstream(fd int, addr string) {
	p.UpstreamFD = fd
	p.UpstreamAddr = addr
}

// ReadFromClient fills the client->upstream buffer from ClientFD.
func (p *Pair) ReadFromClient() (Result, error) {
	return p.clientToUpstream.fill(p.ClientFD)
}

// WriteToUpstream drains the client->upstream buffer to UpstreamFD.
func (p *Pair) WriteToUpstream() (Result, error) {
	return p.clientToUpstream.drain(p.UpstreamFD)
}

// ReadFromUpstream fills the upstream->client buffer from UpstreamFD.
func (p *Pair) ReadFromUpstream() (Result, error) {
	return p.upstreamToClient.fill(p.UpstreamFD)
}

// WriteToClient drains the upstream->client buffer to ClientFD.
func (p *Pair) WriteToClient() (Result, error) {
	return p.upstreamToClient.drain(p.ClientFD)
}

// ClientPending reports whether there are client-direction bytes
// waiting to be written to the upstream.
func (p *Pair) ClientPending() bool {
	return p.clientToUpstream.writeIdx < p.clientToUpstream.readIdx
}

// UpstreamPending reports whether there are upstream-direction bytes
// waiting to be written to the client.
func (p *Pair) UpstreamPending() bool {
	return p.upstreamToClient.writeIdx < p.upstreamToClient.readIdx
}

// ClientPendingBytes returns how many client-direction bytes are
// currently queued to write to the upstream.
func (p *Pair) ClientPendingBytes() int {
	return p.clientToUpstream.readIdx - p.clientToUpstream.writeIdx
}

// UpstreamPendingBytes returns how many upstream-direction bytes are
// currently queued to write to the client.
func (p *Pair) UpstreamPendingBytes() int {
	return p.upstreamToClient.readIdx - p.upstreamToClient.writeIdx
}

// ClientToUpstreamFull reports whether the client->upstream buffer is
// at capacity, meaning the client side must not be read again until it
// drains toward the upstream.
func (p *Pair) ClientToUpstreamFull() bool {
	return p.clientToUpstream.readIdx >= len(p.clientToUpstream.data)
}

// UpstreamToClientFull reports whether the upstream->client buffer is
// at capacity, meaning the upstream side must not be read again until
// it drains toward the client.
func (p *Pair) UpstreamToClientFull() bool {
	return p.upstreamToClient.readIdx >= len(p.upstreamToClient.data)
}

// Reset clears both buffers and the closed latch, and unbinds both fds.
// It does not close any fd; the caller is responsible for that before
// calling Reset (mirrors the pool manager owning fd lifecycle).
func (p *Pair) Reset() {
	p.clientToUpstream.reset()
	p.upstreamToClient.reset()
	p.UpstreamClosed = false
	p.ClientFD = -1
	p.ClientAddr = ""
	p.UpstreamFD = -1
	p.UpstreamAddr = ""
	p.ID = ""
}
