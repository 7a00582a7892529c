// Package wifi manages the radio side of the bridge: remembered
// network credentials, scanning, and a background task that keeps the
// station connected to the best known network.
//
// The actual radio is behind the Driver interface, so the same state
// machine runs against NetworkManager on a real box and against the
// Simulator in tests.
package wifi

import (
	"encoding/json"
	"errors"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("wifi")

const (
	// MaxRecords is the capacity of the credential store
	MaxRecords = 8

	// SSIDMaxLen and SecretMaxLen bound credential fields, in bytes
	SSIDMaxLen   = 63
	SecretMaxLen = 63
)

var (
	ErrInvalidSSID    = errors.New("invalid ssid")
	ErrInvalidSecret  = errors.New("invalid secret")
	ErrRecordNotFound = errors.New("network record not found")
	ErrConnectFailed  = errors.New("wifi connection failed")
	ErrConnectTimeout = errors.New("wifi connection timeout")
	ErrScanInProgress = errors.New("scan in progress")
	ErrNoScanResult   = errors.New("no scan result available")
	ErrScanTimeout    = errors.New("scan timeout")
)

// State of the station towards the radio.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v {
	case "disconnected":
		*s = StateDisconnected
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	default:
		return fmt.Errorf("unknown wifi state %q", v)
	}
	return nil
}

// NetworkInfo is one access point seen by a scan.
type NetworkInfo struct {
	SSID  string
	BSSID string
	RSSI  int
	Auth  string
}

// LinkInfo describes an established association.
type LinkInfo struct {
	SSID  string
	BSSID string
	RSSI  int
}

// AddrInfo is the IP configuration acquired after association.
type AddrInfo struct {
	IP      string
	Netmask string
	Gateway string
	DNS     []string
}

// Record is one remembered network. Secret stays on the device, it is
// stored in clear form but never marshaled out.
type Record struct {
	SSID             string
	Secret           string `json:"-"`
	EverSuccess      bool
	UserDisconnected bool
	Sequence         uint32
}

// Status is a point-in-time snapshot of the station. IP fields are
// only populated while connected.
type Status struct {
	State        State
	SSID         string   `json:",omitempty"`
	BSSID        string   `json:",omitempty"`
	RSSI         int      `json:",omitempty"`
	IP           string   `json:",omitempty"`
	Netmask      string   `json:",omitempty"`
	Gateway      string   `json:",omitempty"`
	DNS          []string `json:",omitempty"`
	ConnectedFor int64    `json:",omitempty"`
}

// Notifee receives station lifecycle callbacks. AddressAssigned fires
// once the link has an IP configuration, which is the point where
// dependent services can bind.
type Notifee interface {
	Connected(Status)
	AddressAssigned(Status)
	Disconnected(Status)
}
