package uart

import (
	"sync"
	"time"

	"go.bug.st/serial"
)

// readTimeout keeps device reads from blocking forever so Close can
// interrupt the read loop.
const readTimeout = time.Millisecond * 100

// Physical drives a real serial device. Writes land in a transmit
// ring and a single goroutine drains it to the device, so Write keeps
// the never-blocks contract of Port even when the line is slow.
type Physical struct {
	mtx    sync.Mutex
	device string
	mode   *serial.Mode
	port   serial.Port
	tx     *ring
	done   chan struct{}
}

// OpenPhysical opens the serial device and starts the transmit drain.
func OpenPhysical(device string, baud int) (*Physical, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, err
	}
	err = port.SetReadTimeout(readTimeout)
	if err != nil {
		port.Close()
		return nil, err
	}
	p := &Physical{
		device: device,
		mode:   mode,
		port:   port,
		tx:     newRing(BufferSize),
		done:   make(chan struct{}),
	}
	go p.drain()
	log.Infof("Opened serial device %s at %d baud", device, baud)
	return p, nil
}

func (p *Physical) drain() {
	defer close(p.done)
	buf := make([]byte, 256)
	for {
		n, err := p.tx.read(buf)
		if err != nil {
			return
		}
		sent := 0
		for sent < n {
			w, err := p.port.Write(buf[sent:n])
			if err != nil {
				log.Error("Serial write failed : ", err)
				return
			}
			sent += w
		}
	}
}

// Read blocks until the device delivers data or the port closes.
// Device read timeouts are absorbed here.
func (p *Physical) Read(buf []byte) (int, error) {
	for {
		n, err := p.port.Read(buf)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

func (p *Physical) Write(buf []byte) (int, error) {
	return p.tx.write(buf), nil
}

func (p *Physical) TxFree() int {
	return p.tx.free()
}

func (p *Physical) SetBaudRate(baud int) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	mode := &serial.Mode{
		BaudRate: baud,
	}
	err := p.port.SetMode(mode)
	if err != nil {
		return err
	}
	p.mode = mode
	log.Infof("Baudrate set to %d", baud)
	return nil
}

// Close flushes the transmit ring to the device, then closes it.
func (p *Physical) Close() error {
	p.tx.close()
	select {
	case <-p.done:
	case <-time.After(time.Second):
		log.Warn("Transmit drain did not finish in time")
	}
	return p.port.Close()
}
