// Package bridge couples the serial port to the multiplexed TCP
// server. Bytes read from the port are broadcast to every connected
// client and client bytes are written back to the port, with traffic
// accounting and backpressure on the serial side.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	ds "github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"

	"github.com/eehut/uart2wifi/internal/stats"
	"github.com/eehut/uart2wifi/internal/tcpserver"
	"github.com/eehut/uart2wifi/internal/uart"
	"github.com/eehut/uart2wifi/internal/wifi"
)

var log = logging.Logger("bridge")

const (
	// DefaultTCPPort is used until a port is persisted.
	DefaultTCPPort = 5678

	// DefaultBaudRate is used until a rate is persisted.
	DefaultBaudRate = 115200

	readBufferSize = 1024

	serviceType   = "_uart2wifi._tcp"
	serviceDomain = "local."
)

var (
	tcpPortKey  = ds.NewKey("/bridge/tcp_port")
	baudRateKey = ds.NewKey("/bridge/baudrate")
)

var ErrBridgeClosed = errors.New("bridge is closed")

// Config tunes a Bridge. The zero value is usable.
type Config struct {
	// Name is the mDNS instance name the running server is
	// advertised under. Defaults to "uart2wifi".
	Name string

	// MaxClients bounds the TCP client table.
	MaxClients int

	// Verbose hex dumps every forwarded payload at debug level.
	Verbose bool
}

// Status describes the bridge for the UI and CLI layers.
type Status struct {
	ServerRunning bool `json:"server_running"`
	PortOpened    bool `json:"port_opened"`
	BaudRate      int  `json:"baudrate"`
	TCPPort       int  `json:"tcp_port"`
	ClientCount   int  `json:"client_count"`
}

// Bridge owns the serial port and, while the network is up, one TCP
// server. It implements wifi.Notifee so the connection manager can
// start and stop the server as the link comes and goes.
type Bridge struct {
	mtx    sync.Mutex
	cfg    Config
	db     ds.Datastore
	port   uart.Port
	keeper *stats.Keeper

	server  *tcpserver.Server
	mdns    *zeroconf.Server
	tcpPort int
	baud    int

	closed bool
	done   chan struct{}
}

// New loads the persisted port and baud rate, applies the rate to the
// serial port and starts the serial read loop. The bridge owns the
// port from here on, Close releases it.
func New(db ds.Datastore, port uart.Port, keeper *stats.Keeper, cfg Config) (*Bridge, error) {
	if cfg.Name == "" {
		cfg.Name = "uart2wifi"
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = tcpserver.DefaultMaxClients
	}
	b := &Bridge{
		cfg:     cfg,
		db:      db,
		port:    port,
		keeper:  keeper,
		tcpPort: DefaultTCPPort,
		baud:    DefaultBaudRate,
		done:    make(chan struct{}),
	}
	b.loadSettings()
	if err := port.SetBaudRate(b.baud); err != nil {
		return nil, fmt.Errorf("failed to apply baud rate %d: %w", b.baud, err)
	}
	go b.serialLoop()
	log.Infof("Bridge ready, baudrate: %d, tcp port: %d", b.baud, b.tcpPort)
	return b, nil
}

func (b *Bridge) loadSettings() {
	if v, err := b.db.Get(tcpPortKey); err == nil {
		port, err := strconv.Atoi(string(v))
		if err != nil || port <= 0 || port > 65535 {
			log.Warnf("Ignoring bad stored tcp port %q", v)
		} else {
			b.tcpPort = port
		}
	}
	if v, err := b.db.Get(baudRateKey); err == nil {
		baud, err := strconv.Atoi(string(v))
		if err != nil || baud <= 0 {
			log.Warnf("Ignoring bad stored baudrate %q", v)
		} else {
			b.baud = baud
		}
	}
}

// serialLoop moves bytes from the serial port to the TCP clients.
// Bytes count as received even when nobody is listening.
func (b *Bridge) serialLoop() {
	defer close(b.done)
	buf := make([]byte, readBufferSize)
	for {
		n, err := b.port.Read(buf)
		if n > 0 {
			b.keeper.UARTReceived(n)
			b.forward(buf[:n])
		}
		if err != nil {
			if err == io.EOF || b.isClosed() {
				log.Debug("Serial read loop stopped")
				return
			}
			b.keeper.UARTReadError()
			log.Errorf("Serial read failed : %s", err)
			<-time.After(time.Millisecond * 10)
		}
	}
}

func (b *Bridge) forward(data []byte) {
	b.mtx.Lock()
	server := b.server
	b.mtx.Unlock()

	if server == nil || server.ClientCount() == 0 {
		return
	}
	if b.cfg.Verbose {
		log.Debugf("tcp <- uart % x", data)
	}
	before := server.ClientCount()
	sent, err := server.Broadcast(data)
	if sent > 0 {
		b.keeper.TCPSent(len(data) * sent)
	}
	if err != nil && before > sent {
		b.keeper.TCPSendError(len(data) * (before - sent))
		log.Errorf("Broadcast reached %d/%d clients : %s", sent, before, err)
	}
}

// onReceive is the TCP server's receive callback, the client to
// serial direction. Free space in the serial TX buffer is checked
// first and only what fits is written, the rest is dropped rather
// than letting a slow serial port stall every client.
func (b *Bridge) onReceive(client int, data []byte) {
	if len(data) == 0 {
		return
	}
	b.keeper.TCPReceived(len(data))
	if b.cfg.Verbose {
		log.Debugf("uart <- tcp[%d] % x", client, data)
	}

	want := len(data)
	free := b.port.TxFree()
	if free < want {
		want = free
	}
	if want < len(data) {
		b.keeper.UARTDropped(len(data) - want)
		log.Warnf("Serial buffer short by %d bytes, dropping", len(data)-want)
	}
	if want == 0 {
		return
	}
	w, err := b.port.Write(data[:want])
	if w > 0 {
		b.keeper.UARTSent(w)
	}
	if err != nil || w < want {
		b.keeper.UARTWriteError(want - w)
		log.Errorf("Serial write took %d/%d bytes : %v", w, want, err)
	}
}

func (b *Bridge) onConnect(client int, addr string) {
	b.keeper.ClientConnected()
	log.Infof("TCP client %d connected: %s", client, addr)
}

func (b *Bridge) onDisconnect(client int, addr string) {
	b.keeper.ClientDisconnected()
	log.Infof("TCP client %d disconnected: %s", client, addr)
}

// StartTCPServer brings up the TCP side on the configured port and
// advertises it over mDNS. Starting twice is a no-op.
func (b *Bridge) StartTCPServer() error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.closed {
		return ErrBridgeClosed
	}
	if b.server != nil {
		log.Warn("TCP server already running")
		return nil
	}
	server, err := tcpserver.New(tcpserver.Config{
		Port:         b.tcpPort,
		MaxClients:   b.cfg.MaxClients,
		OnReceive:    b.onReceive,
		OnConnect:    b.onConnect,
		OnDisconnect: b.onDisconnect,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		log.Errorf("Failed to start TCP server : %s", err)
		return err
	}
	b.server = server

	// a kernel assigned port cannot be advertised usefully
	if b.tcpPort > 0 {
		instance := fmt.Sprintf("%s:%d", b.cfg.Name, b.tcpPort)
		txt := []string{"baud=" + strconv.Itoa(b.baud)}
		mdns, err := zeroconf.Register(instance, serviceType, serviceDomain, b.tcpPort, txt, nil)
		if err != nil {
			log.Warnf("mDNS register failed : %s", err)
		} else {
			b.mdns = mdns
		}
	}

	log.Infof("TCP server started on port %d", b.tcpPort)
	return nil
}

// StopTCPServer tears down the TCP side. Stopping a stopped server
// is a no-op.
func (b *Bridge) StopTCPServer() error {
	b.mtx.Lock()
	server := b.server
	mdns := b.mdns
	b.server = nil
	b.mdns = nil
	b.mtx.Unlock()

	if server == nil {
		return nil
	}
	if mdns != nil {
		mdns.Shutdown()
	}
	server.Stop()
	log.Info("TCP server stopped")
	return nil
}

// Status implements the status query the UI layers poll.
func (b *Bridge) Status() Status {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	s := Status{
		PortOpened: !b.closed,
		BaudRate:   b.baud,
		TCPPort:    b.tcpPort,
	}
	if b.server != nil {
		s.ServerRunning = b.server.Running()
		s.ClientCount = b.server.ClientCount()
	}
	return s
}

// Stats returns a snapshot of the traffic counters.
func (b *Bridge) Stats() stats.BridgeStats {
	return b.keeper.Snapshot()
}

// ResetStats zeroes the traffic counters. Uptime is kept.
func (b *Bridge) ResetStats() {
	b.keeper.Reset()
}

// SetBaudRate applies the rate to the serial port right away and
// persists it for the next boot.
func (b *Bridge) SetBaudRate(baud int) error {
	if baud <= 0 {
		return fmt.Errorf("invalid baudrate %d", baud)
	}
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.closed {
		return ErrBridgeClosed
	}
	if err := b.port.SetBaudRate(baud); err != nil {
		log.Errorf("Failed to set baudrate : %s", err)
		return err
	}
	log.Infof("Baudrate set to %d", baud)
	if b.baud != baud {
		b.baud = baud
		if err := b.db.Put(baudRateKey, []byte(strconv.Itoa(baud))); err != nil {
			log.Errorf("Failed to persist baudrate : %s", err)
		}
	}
	return nil
}

// SetTCPPort persists a new server port. A running server keeps its
// old port until it is restarted.
func (b *Bridge) SetTCPPort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.closed {
		return ErrBridgeClosed
	}
	if b.tcpPort == port {
		return nil
	}
	b.tcpPort = port
	if err := b.db.Put(tcpPortKey, []byte(strconv.Itoa(port))); err != nil {
		log.Errorf("Failed to persist tcp port : %s", err)
	}
	if b.server != nil {
		log.Warnf("TCP port %d takes effect on the next server start", port)
	}
	return nil
}

// BaudRate returns the active serial rate.
func (b *Bridge) BaudRate() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.baud
}

// TCPPort returns the configured server port.
func (b *Bridge) TCPPort() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.tcpPort
}

// ServerAddr exposes the live listener address, nil while stopped.
func (b *Bridge) ServerAddr() net.Addr {
	b.mtx.Lock()
	server := b.server
	b.mtx.Unlock()

	if server == nil {
		return nil
	}
	return server.Addr()
}

// Connected implements wifi.Notifee. Link up brings the TCP side up.
func (b *Bridge) Connected(s wifi.Status) {
	log.Infof("Network up (%s), starting TCP server", s.SSID)
	if err := b.StartTCPServer(); err != nil {
		log.Errorf("Failed to start TCP server on link up : %s", err)
	}
}

// AddressAssigned implements wifi.Notifee.
func (b *Bridge) AddressAssigned(s wifi.Status) {
	log.Infof("Network address %s, serving on port %d", s.IP, b.TCPPort())
}

// Disconnected implements wifi.Notifee. Link down tears the TCP side
// down.
func (b *Bridge) Disconnected(s wifi.Status) {
	log.Info("Network down, stopping TCP server")
	if err := b.StopTCPServer(); err != nil {
		log.Errorf("Failed to stop TCP server on link down : %s", err)
	}
}

func (b *Bridge) isClosed() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.closed
}

// Close stops the TCP side, the serial loop and the port. Safe to
// call more than once.
func (b *Bridge) Close() error {
	b.mtx.Lock()
	if b.closed {
		b.mtx.Unlock()
		return nil
	}
	b.closed = true
	b.mtx.Unlock()

	b.StopTCPServer()
	err := b.port.Close()
	select {
	case <-b.done:
	case <-time.After(time.Second * 5):
		log.Error("Timed out waiting for serial loop to stop")
	}
	log.Info("Bridge closed")
	return err
}
