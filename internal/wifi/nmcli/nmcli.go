// Package nmcli drives a wifi interface through NetworkManager's
// command line tool. It is the radio backend used on regular Linux
// boxes, where the kernel and NetworkManager own the interface.
package nmcli

import (
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/eehut/uart2wifi/internal/wifi"
)

var log = logging.Logger("nmcli")

// allow tests to stub the external tool
var runCommand = func(args ...string) ([]byte, error) {
	return exec.Command("nmcli", args...).CombinedOutput()
}

const (
	// connectWait bounds the nmcli connect call, seconds
	connectWait = 15

	// pollEvery is how often the monitor checks the link
	pollEvery = time.Second * 3
)

// Driver implements wifi.Driver on top of nmcli.
type Driver struct {
	mtx      sync.Mutex
	iface    string
	notifier wifi.DriverNotifier
	stop     chan struct{}
	running  bool
	linkUp   bool
}

func New(iface string) *Driver {
	return &Driver{
		iface: iface,
	}
}

// Start verifies the tool is present and begins watching the link.
func (d *Driver) Start(n wifi.DriverNotifier) error {
	if _, err := exec.LookPath("nmcli"); err != nil {
		return fmt.Errorf("nmcli not found: %w", err)
	}
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.running {
		return nil
	}
	d.notifier = n
	d.stop = make(chan struct{})
	d.running = true
	go d.monitor()
	log.Infof("nmcli driver started on %s", d.iface)
	return nil
}

func (d *Driver) Stop() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if !d.running {
		return nil
	}
	d.running = false
	close(d.stop)
	return nil
}

// monitor notices link loss that nobody asked for, NetworkManager
// does not push events through a pipe we could wait on.
func (d *Driver) monitor() {
	for {
		select {
		case <-d.stop:
			return
		case <-time.After(pollEvery):
		}
		d.mtx.Lock()
		up := d.linkUp
		notifier := d.notifier
		d.mtx.Unlock()
		if !up {
			continue
		}
		out, err := runCommand("-t", "-f", "GENERAL.STATE", "device", "show", d.iface)
		if err != nil {
			log.Debug("Link poll failed : ", err)
			continue
		}
		if parseDeviceState(string(out)) == "connected" {
			continue
		}
		d.mtx.Lock()
		d.linkUp = false
		d.mtx.Unlock()
		if notifier != nil {
			notifier.OnLinkDown("link lost")
		}
	}
}

// Scan implements wifi.Driver.
func (d *Driver) Scan() error {
	d.mtx.Lock()
	notifier := d.notifier
	d.mtx.Unlock()

	go func() {
		out, err := runCommand("-t", "-f", "SSID,BSSID,SIGNAL,SECURITY",
			"device", "wifi", "list", "ifname", d.iface, "--rescan", "yes")
		if err != nil {
			log.Errorf("Scan failed : %s : %s", err, strings.TrimSpace(string(out)))
			if notifier != nil {
				notifier.OnScanDone(nil)
			}
			return
		}
		if notifier != nil {
			notifier.OnScanDone(parseNetworks(string(out)))
		}
	}()
	return nil
}

// Connect implements wifi.Driver. The outcome is reported through the
// notifier once nmcli finishes.
func (d *Driver) Connect(ssid, secret string) error {
	d.mtx.Lock()
	notifier := d.notifier
	d.mtx.Unlock()

	go func() {
		args := []string{"--wait", strconv.Itoa(connectWait), "device", "wifi", "connect", ssid}
		if secret != "" {
			args = append(args, "password", secret)
		}
		args = append(args, "ifname", d.iface)
		out, err := runCommand(args...)
		if notifier == nil {
			return
		}
		if err != nil {
			reason := strings.TrimSpace(string(out))
			if reason == "" {
				reason = err.Error()
			}
			notifier.OnLinkDown(reason)
			return
		}
		d.mtx.Lock()
		d.linkUp = true
		d.mtx.Unlock()
		notifier.OnLinkUp(d.queryLink(ssid))
		notifier.OnAddress(d.queryAddress())
	}()
	return nil
}

// Disconnect implements wifi.Driver.
func (d *Driver) Disconnect() error {
	out, err := runCommand("device", "disconnect", d.iface)
	if err != nil {
		log.Debugf("nmcli disconnect: %s", strings.TrimSpace(string(out)))
	}
	d.mtx.Lock()
	d.linkUp = false
	notifier := d.notifier
	d.mtx.Unlock()
	if notifier != nil {
		notifier.OnLinkDown("disconnect requested")
	}
	return nil
}

// queryLink fills in BSSID and signal of the active association, best
// effort.
func (d *Driver) queryLink(ssid string) wifi.LinkInfo {
	info := wifi.LinkInfo{SSID: ssid}
	out, err := runCommand("-t", "-f", "ACTIVE,SSID,BSSID,SIGNAL",
		"device", "wifi", "list", "ifname", d.iface, "--rescan", "no")
	if err != nil {
		return info
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := splitEscaped(line)
		if len(fields) < 4 || fields[0] != "yes" {
			continue
		}
		info.BSSID = fields[2]
		info.RSSI = signalToRSSI(fields[3])
		break
	}
	return info
}

func (d *Driver) queryAddress() wifi.AddrInfo {
	out, err := runCommand("-t", "-f", "IP4.ADDRESS,IP4.GATEWAY,IP4.DNS", "device", "show", d.iface)
	if err != nil {
		log.Debug("Address query failed : ", err)
		return wifi.AddrInfo{}
	}
	return parseAddress(string(out))
}

// splitEscaped splits one line of nmcli terse output, where ':'
// inside a value is escaped with a backslash.
func splitEscaped(line string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

// signalToRSSI maps NetworkManager's 0..100 strength to dBm, the
// inverse of the approximation NetworkManager itself applies.
func signalToRSSI(signal string) int {
	v, err := strconv.Atoi(signal)
	if err != nil {
		return -100
	}
	return v/2 - 100
}

func parseNetworks(out string) []wifi.NetworkInfo {
	var nets []wifi.NetworkInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := splitEscaped(line)
		if len(fields) < 4 || fields[0] == "" {
			continue
		}
		auth := strings.TrimSpace(fields[3])
		if auth == "" {
			auth = "OPEN"
		}
		nets = append(nets, wifi.NetworkInfo{
			SSID:  fields[0],
			BSSID: fields[1],
			RSSI:  signalToRSSI(fields[2]),
			Auth:  auth,
		})
	}
	return nets
}

func parseDeviceState(out string) string {
	// GENERAL.STATE:100 (connected)
	value := strings.TrimSpace(out)
	if i := strings.IndexByte(value, ':'); i >= 0 {
		value = value[i+1:]
	}
	if i := strings.IndexByte(value, '('); i >= 0 {
		value = strings.TrimSuffix(value[i+1:], ")")
	}
	return strings.TrimSpace(value)
}

func parseAddress(out string) wifi.AddrInfo {
	var info wifi.AddrInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := splitEscaped(line)
		if len(fields) < 2 {
			continue
		}
		key, value := fields[0], fields[1]
		switch {
		case strings.HasPrefix(key, "IP4.ADDRESS") && info.IP == "":
			ip, ipnet, err := net.ParseCIDR(value)
			if err != nil {
				continue
			}
			info.IP = ip.String()
			info.Netmask = net.IP(ipnet.Mask).String()
		case key == "IP4.GATEWAY" && value != "":
			info.Gateway = value
		case strings.HasPrefix(key, "IP4.DNS") && value != "":
			info.DNS = append(info.DNS, value)
		}
	}
	return info
}
