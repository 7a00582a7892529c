package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eehut/uart2wifi/internal/bridge"
	"github.com/eehut/uart2wifi/internal/stats"
	"github.com/eehut/uart2wifi/internal/wifi"
)

// Client talks to a running daemon. It is what the cli commands use
// when the repo is locked by the daemon process.
type Client struct {
	base string
	http *http.Client
}

// NewClient targets the daemon api on the given port.
func NewClient(port string) *Client {
	return &Client{
		base: "http://localhost:" + port,
		// connect can legitimately take 15s, leave headroom
		http: &http.Client{Timeout: time.Second * 45},
	}
}

func (c *Client) get(path string, out interface{}) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func (c *Client) post(path string, in, out interface{}) error {
	body := []byte("{}")
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return err
		}
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func (c *Client) delete(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodDelete, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := ioutil.ReadAll(resp.Body)
		return fmt.Errorf("daemon: %s", strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Info fetches the composite daemon snapshot.
func (c *Client) Info() (*Info, error) {
	var info Info
	if err := c.get("/v1/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Status fetches the wifi connection status.
func (c *Client) Status() (*wifi.Status, error) {
	var status wifi.Status
	if err := c.get("/v1/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Connect joins a network and stores the credential on success.
func (c *Client) Connect(ssid, secret string) (*wifi.Status, error) {
	var status wifi.Status
	err := c.post("/v1/connect", credentialRequest{SSID: ssid, Secret: secret}, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// Disconnect drops the current network and marks it not to be
// retried until the next explicit connect.
func (c *Client) Disconnect() error {
	return c.post("/v1/disconnect", nil, nil)
}

// Scan runs a blocking scan. A zero timeout uses the daemon default.
func (c *Client) Scan(timeout time.Duration) ([]wifi.NetworkInfo, error) {
	path := "/v1/scan"
	if timeout > 0 {
		path = fmt.Sprintf("/v1/scan?timeout=%d", int(timeout/time.Second))
	}
	var status scanStatus
	if err := c.post(path, nil, &status); err != nil {
		return nil, err
	}
	return status.Networks, nil
}

// LastScan returns the most recent scan result without triggering a
// new scan. done reports whether any scan has completed.
func (c *Client) LastScan() (done bool, networks []wifi.NetworkInfo, err error) {
	var status scanStatus
	if err := c.get("/v1/scan", &status); err != nil {
		return false, nil, err
	}
	return status.Done, status.Networks, nil
}

// Networks lists the stored credential records.
func (c *Client) Networks() ([]wifi.Record, error) {
	var records []wifi.Record
	if err := c.get("/v1/networks", &records); err != nil {
		return nil, err
	}
	return records, nil
}

// AddNetwork stores a credential without connecting to it.
func (c *Client) AddNetwork(ssid, secret string) error {
	return c.post("/v1/networks", credentialRequest{SSID: ssid, Secret: secret}, nil)
}

// RemoveNetwork deletes a stored credential.
func (c *Client) RemoveNetwork(ssid string) error {
	return c.delete("/v1/networks?ssid="+url.QueryEscape(ssid), nil)
}

// ResetNetwork clears the failure history of a stored credential so
// auto connect will try it again.
func (c *Client) ResetNetwork(ssid string) error {
	return c.post("/v1/networks/reset", ssidRequest{SSID: ssid}, nil)
}

// AutoConnect reports whether background reconnection is enabled.
func (c *Client) AutoConnect() (bool, error) {
	var state autoConnectState
	if err := c.get("/v1/autoconnect", &state); err != nil {
		return false, err
	}
	return state.Enabled, nil
}

// SetAutoConnect toggles background reconnection.
func (c *Client) SetAutoConnect(enabled bool) error {
	return c.post("/v1/autoconnect", autoConnectState{Enabled: enabled}, nil)
}

// AutoConnectOnce schedules a single reconnect attempt even while
// auto connect is disabled.
func (c *Client) AutoConnectOnce() error {
	return c.post("/v1/autoconnect/once", nil, nil)
}

// Stats fetches the bridge traffic counters.
func (c *Client) Stats() (*stats.BridgeStats, error) {
	var snap stats.BridgeStats
	if err := c.get("/v1/stats", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ResetStats zeroes the bridge traffic counters.
func (c *Client) ResetStats() error {
	return c.post("/v1/stats/reset", nil, nil)
}

// BridgeStatus fetches the serial and TCP side status.
func (c *Client) BridgeStatus() (*bridge.Status, error) {
	var status bridge.Status
	if err := c.get("/v1/bridge", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SetBaudRate changes the serial rate now and for the next boot.
func (c *Client) SetBaudRate(baud int) error {
	return c.post("/v1/baud", baudRequest{BaudRate: baud}, nil)
}

// SetTCPPort changes the port the next server start binds.
func (c *Client) SetTCPPort(port int) error {
	return c.post("/v1/port", portRequest{Port: port}, nil)
}

// StartServer brings the TCP side up.
func (c *Client) StartServer() (*bridge.Status, error) {
	var status bridge.Status
	if err := c.post("/v1/server/start", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// StopServer tears the TCP side down.
func (c *Client) StopServer() (*bridge.Status, error) {
	var status bridge.Status
	if err := c.post("/v1/server/stop", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown() error {
	return c.post("/v1/shutdown", nil, nil)
}
