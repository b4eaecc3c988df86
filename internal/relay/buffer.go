package relay

import "golang.org/x/sys/unix"

// linearBuffer is a fixed-capacity, non-circular byte buffer with a fill
// index (how much has been read in) and a drain index (how much has
// been written out). It never wraps: once drained it resets both
// indices to zero rather than sliding the remainder down.
type linearBuffer struct {
	data     []byte
	readIdx  int // bytes [0:readIdx] hold data read in from the source fd
	writeIdx int // bytes [0:writeIdx] have already been written to the destination fd
}

func newLinearBuffer(capacity int) linearBuffer {
	return linearBuffer{data: make([]byte, capacity)}
}

func (b *linearBuffer) reset() {
	b.readIdx = 0
	b.writeIdx = 0
}

// fill reads from fd into the unused tail of the buffer, looping until
// the fd would block (edge-triggered readiness requires draining to
// EAGAIN) or the buffer fills. It never overwrites undrained data: if
// the buffer is already full, it reports BufferFull without touching fd.
func (b *linearBuffer) fill(fd int) (Result, error) {
	if b.readIdx >= len(b.data) {
		return BufferFull, nil
	}

	gotAny := false
	for {
		n, err := unix.Read(fd, b.data[b.readIdx:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				if gotAny {
					return OK, nil
				}
				return Nothing, nil
			}
			return IOErr, err
		}
		if n == 0 {
			return Closed, nil
		}

		gotAny = true
		b.readIdx += n
		if b.readIdx >= len(b.data) {
			return BufferFull, nil
		}
	}
}

// drain writes the buffered, undrained region to fd, looping until
// either everything queued has been written (at which point both
// indices reset to zero) or the fd would block.
func (b *linearBuffer) drain(fd int) (Result, error) {
	if b.writeIdx >= b.readIdx {
		b.reset()
		return BufferEmpty, nil
	}

	for {
		n, err := unix.Write(fd, b.data[b.writeIdx:b.readIdx])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return TryAgain, nil
			}
			return IOErr, err
		}
		if n == 0 {
			return Closed, nil
		}

		b.writeIdx += n
		if b.writeIdx >= b.readIdx {
			b.reset()
			return OK, nil
		}
	}
}
