package bridge

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	syncds "github.com/ipfs/go-datastore/sync"

	"github.com/eehut/uart2wifi/internal/stats"
	"github.com/eehut/uart2wifi/internal/uart"
	"github.com/eehut/uart2wifi/internal/wifi"
)

func newTestBridge(t *testing.T, cfg Config) (*Bridge, *uart.PipeEnd, datastore.Datastore) {
	t.Helper()
	db := syncds.MutexWrap(datastore.NewMapDatastore())
	host, device := uart.Pipe()
	b, err := New(db, host, stats.NewKeeper(db), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return b, device, db
}

// startEphemeral brings the TCP side up on a kernel assigned port.
func startEphemeral(t *testing.T, b *Bridge) int {
	t.Helper()
	b.mtx.Lock()
	b.tcpPort = 0
	b.mtx.Unlock()
	if err := b.StartTCPServer(); err != nil {
		t.Fatal(err)
	}
	return b.ServerAddr().(*net.TCPAddr).Port
}

func dialBridge(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for", what)
		}
		<-time.After(time.Millisecond * 5)
	}
}

func TestBridgeSerialToNetwork(t *testing.T) {
	b, device, _ := newTestBridge(t, Config{})
	defer b.Close()
	port := startEphemeral(t, b)

	conn := dialBridge(t, port)
	defer conn.Close()
	waitFor(t, time.Second*2, "client to be admitted", func() bool {
		return b.Status().ClientCount == 1
	})

	if _, err := device.Write([]byte("from serial")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(time.Second * 2))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "from serial" {
		t.Fatal("bad payload", string(buf[:n]))
	}

	waitFor(t, time.Second*2, "counters to settle", func() bool {
		snap := b.Stats()
		return snap.UARTRxBytes == 11 && snap.TCPTxBytes == 11
	})
	snap := b.Stats()
	if snap.TCPConnectCount != 1 {
		t.Fatal("connect count", snap.TCPConnectCount)
	}
}

func TestBridgeNetworkToSerial(t *testing.T) {
	b, device, _ := newTestBridge(t, Config{})
	defer b.Close()
	port := startEphemeral(t, b)

	conn := dialBridge(t, port)
	defer conn.Close()
	waitFor(t, time.Second*2, "client to be admitted", func() bool {
		return b.Status().ClientCount == 1
	})

	if _, err := conn.Write([]byte("to serial")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := device.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "to serial" {
		t.Fatal("bad payload", string(buf[:n]))
	}

	waitFor(t, time.Second*2, "counters to settle", func() bool {
		snap := b.Stats()
		return snap.TCPRxBytes == 9 && snap.UARTTxBytes == 9
	})
}

func TestBridgeCountsSerialRxWithoutClients(t *testing.T) {
	b, device, _ := newTestBridge(t, Config{})
	defer b.Close()

	if _, err := device.Write([]byte("nobody")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second*2, "rx counter", func() bool {
		return b.Stats().UARTRxBytes == 6
	})
	if b.Stats().TCPTxBytes != 0 {
		t.Fatal("nothing should have been sent")
	}
}

func TestBridgeBackpressure(t *testing.T) {
	b, _, _ := newTestBridge(t, Config{})
	defer b.Close()

	// the device end never drains, so the serial TX buffer holds
	// exactly uart.BufferSize bytes and the rest must be dropped
	payload := make([]byte, uart.BufferSize+976)
	b.onReceive(0, payload)

	snap := b.Stats()
	if snap.TCPRxBytes != uint64(len(payload)) {
		t.Fatal("tcp rx bytes", snap.TCPRxBytes)
	}
	if snap.UARTTxBytes != uint64(uart.BufferSize) {
		t.Fatal("uart tx bytes", snap.UARTTxBytes)
	}
	if snap.UARTTxDropBytes != 976 {
		t.Fatal("uart drop bytes", snap.UARTTxDropBytes)
	}
	if snap.BufferOverflowCount != 1 {
		t.Fatal("overflow count", snap.BufferOverflowCount)
	}

	// a full buffer drops everything
	b.onReceive(0, []byte("overflow"))
	snap = b.Stats()
	if snap.UARTTxDropBytes != 984 {
		t.Fatal("uart drop bytes after full buffer", snap.UARTTxDropBytes)
	}
	if snap.BufferOverflowCount != 2 {
		t.Fatal("overflow count after full buffer", snap.BufferOverflowCount)
	}
	if snap.UARTTxBytes != uint64(uart.BufferSize) {
		t.Fatal("no bytes should fit a full buffer")
	}
}

func TestBridgeNotifeeLifecycle(t *testing.T) {
	b, _, _ := newTestBridge(t, Config{})
	defer b.Close()
	b.mtx.Lock()
	b.tcpPort = 0
	b.mtx.Unlock()

	b.Connected(wifi.Status{State: wifi.StateConnected, SSID: "office"})
	if !b.Status().ServerRunning {
		t.Fatal("server should run after link up")
	}
	b.AddressAssigned(wifi.Status{IP: "192.168.1.50"})

	// second start is a no-op
	if err := b.StartTCPServer(); err != nil {
		t.Fatal(err)
	}

	b.Disconnected(wifi.Status{State: wifi.StateDisconnected})
	if b.Status().ServerRunning {
		t.Fatal("server should stop after link down")
	}
	if err := b.StopTCPServer(); err != nil {
		t.Fatal("second stop should be a no-op, got", err)
	}
}

func TestBridgeSettings(t *testing.T) {
	b, _, db := newTestBridge(t, Config{})

	if err := b.SetBaudRate(0); err == nil {
		t.Fatal("zero baudrate accepted")
	}
	if err := b.SetBaudRate(9600); err != nil {
		t.Fatal(err)
	}
	if b.BaudRate() != 9600 {
		t.Fatal("baudrate", b.BaudRate())
	}

	if err := b.SetTCPPort(0); err == nil {
		t.Fatal("zero port accepted")
	}
	if err := b.SetTCPPort(7777); err != nil {
		t.Fatal(err)
	}
	if b.TCPPort() != 7777 {
		t.Fatal("tcp port", b.TCPPort())
	}
	b.Close()

	// settings survive a restart on the same datastore
	host, _ := uart.Pipe()
	reopened, err := New(db, host, stats.NewKeeper(db), Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.BaudRate() != 9600 {
		t.Fatal("baudrate not persisted", reopened.BaudRate())
	}
	if reopened.TCPPort() != 7777 {
		t.Fatal("tcp port not persisted", reopened.TCPPort())
	}
}

func TestBridgeClose(t *testing.T) {
	b, device, _ := newTestBridge(t, Config{})
	startEphemeral(t, b)

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal("second close should be a no-op, got", err)
	}
	if err := b.StartTCPServer(); err != ErrBridgeClosed {
		t.Fatal("start after close should fail, got", err)
	}
	if b.Status().PortOpened {
		t.Fatal("port should report closed")
	}

	// the device side sees the closed pipe
	if _, err := device.Read(make([]byte, 1)); err != io.EOF {
		t.Fatal("device read should see EOF, got", err)
	}
}
