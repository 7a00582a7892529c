package wifi

import (
	"sync"
	"time"
)

// SimNetwork is one access point visible to the Simulator. A Silent
// network shows up in scans but never answers connection attempts,
// like an AP at the edge of range.
type SimNetwork struct {
	SSID   string
	BSSID  string
	Secret string
	RSSI   int
	Auth   string
	Silent bool
}

// Simulator is a Driver backed by a fake radio environment. It keeps
// the station logic testable without hardware and powers the loopback
// example.
type Simulator struct {
	mtx      sync.Mutex
	notifier DriverNotifier
	networks []SimNetwork
	current  string
	latency  time.Duration
	running  bool
	scans    int
}

func NewSimulator(networks ...SimNetwork) *Simulator {
	return &Simulator{
		networks: networks,
		latency:  time.Millisecond * 10,
	}
}

// SetLatency changes the delay before asynchronous events fire.
func (s *Simulator) SetLatency(d time.Duration) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.latency = d
}

// SetNetworks replaces the visible radio environment.
func (s *Simulator) SetNetworks(networks ...SimNetwork) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.networks = networks
}

// DropLink simulates a spontaneous link loss.
func (s *Simulator) DropLink(reason string) {
	s.mtx.Lock()
	notifier := s.notifier
	s.current = ""
	s.mtx.Unlock()

	if notifier != nil {
		notifier.OnLinkDown(reason)
	}
}

// Start implements Driver.
func (s *Simulator) Start(n DriverNotifier) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.notifier = n
	s.running = true
	return nil
}

// Scan implements Driver.
func (s *Simulator) Scan() error {
	s.mtx.Lock()
	s.scans++
	notifier := s.notifier
	latency := s.latency
	visible := make([]NetworkInfo, 0, len(s.networks))
	for _, nw := range s.networks {
		auth := nw.Auth
		if auth == "" {
			if nw.Secret == "" {
				auth = "OPEN"
			} else {
				auth = "WPA2"
			}
		}
		visible = append(visible, NetworkInfo{
			SSID:  nw.SSID,
			BSSID: nw.BSSID,
			RSSI:  nw.RSSI,
			Auth:  auth,
		})
	}
	s.mtx.Unlock()

	go func() {
		time.Sleep(latency)
		if notifier != nil {
			notifier.OnScanDone(visible)
		}
	}()
	return nil
}

// Connect implements Driver. The outcome arrives asynchronously, the
// way a real radio reports association results.
func (s *Simulator) Connect(ssid, secret string) error {
	s.mtx.Lock()
	notifier := s.notifier
	latency := s.latency
	var target *SimNetwork
	for i := range s.networks {
		if s.networks[i].SSID == ssid {
			target = &s.networks[i]
			break
		}
	}
	var nw SimNetwork
	if target != nil {
		nw = *target
	}
	s.mtx.Unlock()

	go func() {
		time.Sleep(latency)
		if notifier == nil {
			return
		}
		if target == nil {
			notifier.OnLinkDown("no ap found")
			return
		}
		if nw.Silent {
			return
		}
		if nw.Secret != secret {
			notifier.OnLinkDown("auth failed")
			return
		}
		s.mtx.Lock()
		s.current = ssid
		s.mtx.Unlock()
		notifier.OnLinkUp(LinkInfo{
			SSID:  nw.SSID,
			BSSID: nw.BSSID,
			RSSI:  nw.RSSI,
		})
		notifier.OnAddress(AddrInfo{
			IP:      "192.168.1.100",
			Netmask: "255.255.255.0",
			Gateway: "192.168.1.1",
			DNS:     []string{"192.168.1.1"},
		})
	}()
	return nil
}

// Disconnect implements Driver.
func (s *Simulator) Disconnect() error {
	s.mtx.Lock()
	notifier := s.notifier
	s.current = ""
	s.mtx.Unlock()

	if notifier != nil {
		notifier.OnLinkDown("disconnect requested")
	}
	return nil
}

// Stop implements Driver.
func (s *Simulator) Stop() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.running = false
	s.current = ""
	return nil
}

// Current reports the SSID the fake radio is associated with.
func (s *Simulator) Current() string {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.current
}

// ScanCount reports how many scans actually reached the radio.
func (s *Simulator) ScanCount() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.scans
}
