// Package tcpserver implements the multiplexed TCP side of the
// bridge. A bounded table of clients shares one listening port, bytes
// from any client are handed to a receive callback and outbound bytes
// can be sent to one client or broadcast to all of them.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("tcpserver")

const (
	// DefaultMaxClients is the client table size used when the
	// config does not say otherwise.
	DefaultMaxClients = 5

	// MaxClientLimit caps how large the table may be configured.
	MaxClientLimit = 16

	rxBufferSize = 1024

	stopTimeout = time.Second * 5
)

var (
	ErrServerStopped = errors.New("server is not running")
	ErrNoSuchClient  = errors.New("no such client")
)

// RecvFunc receives bytes read from a client. The slice is reused
// between calls, copy it if it must outlive the callback.
type RecvFunc func(client int, data []byte)

// ConnFunc reports a client joining or leaving the table.
type ConnFunc func(client int, addr string)

// Config carries the server settings. OnReceive is mandatory, the
// other callbacks may be nil.
type Config struct {
	Port         int
	MaxClients   int
	OnReceive    RecvFunc
	OnConnect    ConnFunc
	OnDisconnect ConnFunc
}

type client struct {
	conn   net.Conn
	addr   string
	closed bool
}

// Server accepts TCP clients into a fixed table of slots. The slot
// index identifies the client in every callback and send call.
type Server struct {
	mtx      sync.Mutex
	cfg      Config
	listener net.Listener
	table    []*client
	count    int
	running  bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New validates the config and prepares a stopped server. Port zero
// asks the kernel for an ephemeral port, see Addr.
func New(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.MaxClients < 0 || cfg.MaxClients > MaxClientLimit {
		return nil, fmt.Errorf("invalid client limit %d", cfg.MaxClients)
	}
	if cfg.OnReceive == nil {
		return nil, errors.New("receive callback is required")
	}
	return &Server{
		cfg:   cfg,
		table: make([]*client, cfg.MaxClients),
	}, nil
}

// Start begins listening and accepting clients.
func (s *Server) Start() error {
	s.mtx.Lock()
	if s.running {
		s.mtx.Unlock()
		log.Warn("Server is already running")
		return nil
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		s.mtx.Unlock()
		return err
	}
	s.listener = listener
	s.table = make([]*client, s.cfg.MaxClients)
	s.count = 0
	s.stop = make(chan struct{})
	s.running = true
	s.mtx.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(listener, s.stop)
	log.Infof("Server listening on %s", listener.Addr())
	return nil
}

// Addr returns the listener address, or nil while stopped. Useful
// when the server was started on port zero.
func (s *Server) Addr() net.Addr {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.running {
		return nil
	}
	return s.listener.Addr()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.count
}

// Running reports whether the server is accepting clients.
func (s *Server) Running() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.running
}

func (s *Server) acceptLoop(listener net.Listener, stop chan struct{}) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
				log.Errorf("Accept failed : %s", err)
				continue
			}
		}
		s.admit(conn)
	}
}

// admit places the connection in the first free slot. With the table
// full the connection is refused by closing it right away.
func (s *Server) admit(conn net.Conn) {
	addr := conn.RemoteAddr().String()

	s.mtx.Lock()
	slot := -1
	for i, c := range s.table {
		if c == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		s.mtx.Unlock()
		log.Warnf("Client table full, refusing %s", addr)
		conn.Close()
		return
	}
	c := &client{conn: conn, addr: addr}
	s.table[slot] = c
	s.count++
	onConnect := s.cfg.OnConnect
	s.mtx.Unlock()

	log.Infof("Client %d connected from %s", slot, addr)
	if onConnect != nil {
		onConnect(slot, addr)
	}

	s.wg.Add(1)
	go s.readLoop(slot, c)
}

func (s *Server) readLoop(slot int, c *client) {
	defer s.wg.Done()
	buf := make([]byte, rxBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			s.cfg.OnReceive(slot, buf[:n])
		}
		if err != nil {
			s.drop(slot, c)
			return
		}
	}
}

// drop retires a client exactly once. The disconnect callback fires
// while the slot is still valid, so a callback may still address the
// client, then the connection is closed and the slot freed.
func (s *Server) drop(slot int, c *client) {
	s.mtx.Lock()
	if c.closed {
		s.mtx.Unlock()
		return
	}
	c.closed = true
	onDisconnect := s.cfg.OnDisconnect
	s.mtx.Unlock()

	log.Infof("Client %d disconnected from %s", slot, c.addr)
	if onDisconnect != nil {
		onDisconnect(slot, c.addr)
	}
	c.conn.Close()

	s.mtx.Lock()
	if s.table[slot] == c {
		s.table[slot] = nil
		s.count--
	}
	s.mtx.Unlock()
}

// Kick disconnects one client by slot.
func (s *Server) Kick(slot int) error {
	s.mtx.Lock()
	if !s.running {
		s.mtx.Unlock()
		return ErrServerStopped
	}
	if slot < 0 || slot >= len(s.table) || s.table[slot] == nil {
		s.mtx.Unlock()
		return ErrNoSuchClient
	}
	c := s.table[slot]
	s.mtx.Unlock()

	// closing the socket makes the read loop run the usual teardown
	c.conn.Close()
	return nil
}

// SendTo writes data to one client.
func (s *Server) SendTo(slot int, data []byte) error {
	s.mtx.Lock()
	if !s.running {
		s.mtx.Unlock()
		return ErrServerStopped
	}
	if slot < 0 || slot >= len(s.table) || s.table[slot] == nil || s.table[slot].closed {
		s.mtx.Unlock()
		return ErrNoSuchClient
	}
	c := s.table[slot]
	s.mtx.Unlock()

	if _, err := c.conn.Write(data); err != nil {
		return err
	}
	return nil
}

// Broadcast writes data to every connected client. It returns how
// many clients took the payload and the last write error, if any.
func (s *Server) Broadcast(data []byte) (int, error) {
	s.mtx.Lock()
	if !s.running {
		s.mtx.Unlock()
		return 0, ErrServerStopped
	}
	targets := make([]*client, 0, s.count)
	for _, c := range s.table {
		if c != nil && !c.closed {
			targets = append(targets, c)
		}
	}
	s.mtx.Unlock()

	sent := 0
	var lastErr error
	for _, c := range targets {
		if _, err := c.conn.Write(data); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	return sent, lastErr
}

// Stop closes the listener and every client. Disconnect callbacks
// fire for the clients that were still connected.
func (s *Server) Stop() error {
	s.mtx.Lock()
	if !s.running {
		s.mtx.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	listener := s.listener
	s.listener = nil
	s.mtx.Unlock()

	listener.Close()

	// read loops notice the closed sockets and retire their clients
	for _, c := range s.snapshot() {
		if c != nil {
			c.conn.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Error("Timed out waiting for client loops to stop")
	}
	log.Info("Server stopped")
	return nil
}

func (s *Server) snapshot() []*client {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	out := make([]*client, len(s.table))
	copy(out, s.table)
	return out
}
