// Package uart abstracts the serial side of the bridge. A Port is
// either a physical device (go.bug.st/serial) or one end of an
// in-memory Pipe used by the simulator and the tests.
package uart

import (
	"io"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("uart")

const (
	DefaultBaudRate = 115200

	// BufferSize is the capacity of the transmit ring, per direction
	BufferSize = 1024
)

// Port is a byte-stream endpoint with a bounded transmit buffer.
// Read blocks until data arrives or the port closes. Write queues up
// to TxFree bytes and reports how many were taken, it never blocks.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	TxFree() int
	SetBaudRate(baud int) error
	Close() error
}

// ring is a fixed-size byte queue. Writes take what fits, reads block
// until data is available or the ring is closed and drained.
type ring struct {
	mtx      sync.Mutex
	notEmpty *sync.Cond
	buf      []byte
	r        int
	w        int
	count    int
	closed   bool
}

func newRing(size int) *ring {
	rb := &ring{
		buf: make([]byte, size),
	}
	rb.notEmpty = sync.NewCond(&rb.mtx)
	return rb
}

func (rb *ring) free() int {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	if rb.closed {
		return 0
	}
	return len(rb.buf) - rb.count
}

func (rb *ring) write(p []byte) int {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	if rb.closed {
		return 0
	}
	n := len(rb.buf) - rb.count
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		rb.buf[rb.w] = p[i]
		rb.w = (rb.w + 1) % len(rb.buf)
	}
	rb.count += n
	if n > 0 {
		rb.notEmpty.Signal()
	}
	return n
}

func (rb *ring) read(p []byte) (int, error) {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	for rb.count == 0 {
		if rb.closed {
			return 0, io.EOF
		}
		rb.notEmpty.Wait()
	}
	n := rb.count
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = rb.buf[rb.r]
		rb.r = (rb.r + 1) % len(rb.buf)
	}
	rb.count -= n
	return n, nil
}

func (rb *ring) close() {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	if rb.closed {
		return
	}
	rb.closed = true
	rb.notEmpty.Broadcast()
}
