package uart

import "sync"

// PipeEnd is one side of an in-memory serial line.
type PipeEnd struct {
	mtx  sync.Mutex
	baud int
	rx   *ring
	peer *PipeEnd
}

// Pipe returns two cross-connected Ports. Bytes written on one end
// come out of the other, through a bounded buffer per direction, the
// same way two UARTs share a wire. Closing either end closes both.
func Pipe() (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{
		baud: DefaultBaudRate,
		rx:   newRing(BufferSize),
	}
	b := &PipeEnd{
		baud: DefaultBaudRate,
		rx:   newRing(BufferSize),
	}
	a.peer = b
	b.peer = a
	return a, b
}

func (e *PipeEnd) Read(p []byte) (int, error) {
	return e.rx.read(p)
}

func (e *PipeEnd) Write(p []byte) (int, error) {
	return e.peer.rx.write(p), nil
}

func (e *PipeEnd) TxFree() int {
	return e.peer.rx.free()
}

func (e *PipeEnd) SetBaudRate(baud int) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	e.baud = baud
	return nil
}

// Baud reports the rate last set on this end.
func (e *PipeEnd) Baud() int {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	return e.baud
}

func (e *PipeEnd) Close() error {
	e.rx.close()
	e.peer.rx.close()
	return nil
}
