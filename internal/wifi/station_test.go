package wifi

import (
	"testing"
	"time"
)

func newTestStation(sim *Simulator) (*Station, *RecordStore) {
	rs, err := NewRecordStore(newTestDatastore(), nil)
	if err != nil {
		panic(err)
	}
	sim.SetLatency(time.Millisecond * 5)
	st := NewStation(sim, rs)
	st.tick = time.Millisecond * 10
	st.shortInterval = time.Millisecond * 50
	st.longInterval = time.Millisecond * 200
	st.connectTimeout = time.Millisecond * 100
	st.scanWait = time.Millisecond * 100
	st.holdoff = time.Millisecond * 20
	st.pollInterval = time.Millisecond * 5
	return st, rs
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
	t.Fatal("timed out waiting for " + what)
}

type eventRecorder struct {
	connected chan Status
	address   chan Status
	dropped   chan Status
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		connected: make(chan Status, 8),
		address:   make(chan Status, 8),
		dropped:   make(chan Status, 8),
	}
}

func (e *eventRecorder) Connected(s Status)       { e.connected <- s }
func (e *eventRecorder) AddressAssigned(s Status) { e.address <- s }
func (e *eventRecorder) Disconnected(s Status)    { e.dropped <- s }

func TestStationConnectDisconnect(t *testing.T) {
	sim := NewSimulator(SimNetwork{SSID: "home", Secret: "pw", RSSI: -40})
	st, rs := newTestStation(sim)
	st.SetAutoConnect(false)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	err := st.Connect("home", "pw")
	if err != nil {
		t.Fatal(err)
	}
	status := st.Status()
	if status.State != StateConnected {
		t.Fatal("expected connected state")
	}
	if status.SSID != "home" {
		t.Fatal("wrong ssid in status")
	}
	waitFor(t, time.Second, "address", func() bool {
		return st.Status().IP != ""
	})
	status = st.Status()
	if status.IP != "192.168.1.100" || status.Gateway != "192.168.1.1" {
		t.Fatal("ip configuration missing from status")
	}
	if len(status.DNS) != 1 || status.DNS[0] != "192.168.1.1" {
		t.Fatal("dns configuration missing from status")
	}
	rec, ok := rs.find("home")
	if !ok || !rec.EverSuccess {
		t.Fatal("successful connect must remember a proven record")
	}

	err = st.Disconnect()
	if err != nil {
		t.Fatal(err)
	}
	status = st.Status()
	if status.State != StateDisconnected {
		t.Fatal("expected disconnected state")
	}
	if status.SSID != "" || status.IP != "" {
		t.Fatal("disconnected status must carry no network details")
	}
	rec, _ = rs.find("home")
	if !rec.UserDisconnected {
		t.Fatal("user disconnect must mark the record")
	}
}

func TestStationDisconnectIdempotent(t *testing.T) {
	sim := NewSimulator(SimNetwork{SSID: "home", Secret: "pw", RSSI: -40})
	st, _ := newTestStation(sim)
	st.SetAutoConnect(false)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	if err := st.Connect("home", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := st.Disconnect(); err != nil {
		t.Fatal(err)
	}

	events := newEventRecorder()
	st.RegisterNotifee(events)
	if err := st.Disconnect(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-events.dropped:
		t.Fatal("second disconnect must not emit an event")
	case <-time.After(time.Millisecond * 100):
	}
}

func TestStationConnectWrongSecret(t *testing.T) {
	sim := NewSimulator(SimNetwork{SSID: "home", Secret: "pw", RSSI: -40})
	st, _ := newTestStation(sim)
	st.SetAutoConnect(false)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	err := st.Connect("home", "wrong")
	if err == nil {
		t.Fatal("connect with a wrong secret must fail")
	}
	if st.Status().State != StateDisconnected {
		t.Fatal("failed connect must leave the station disconnected")
	}
}

func TestStationConnectTimeout(t *testing.T) {
	sim := NewSimulator(SimNetwork{SSID: "mute", Secret: "pw", RSSI: -40, Silent: true})
	st, _ := newTestStation(sim)
	st.SetAutoConnect(false)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	err := st.Connect("mute", "pw")
	if err != ErrConnectTimeout {
		t.Fatal("expected a connect timeout")
	}
	if st.Status().State != StateDisconnected {
		t.Fatal("timeout must leave the station disconnected")
	}
}

func TestStationConnectValidation(t *testing.T) {
	sim := NewSimulator()
	st, _ := newTestStation(sim)
	if err := st.Connect("", "pw"); err != ErrInvalidSSID {
		t.Fatal("empty ssid must be rejected before touching the driver")
	}
}

func TestStationScan(t *testing.T) {
	sim := NewSimulator(
		SimNetwork{SSID: "weak", Secret: "x", RSSI: -80},
		SimNetwork{SSID: "strong", Secret: "y", RSSI: -30},
		SimNetwork{SSID: "middle", Secret: "z", RSSI: -55},
	)
	st, _ := newTestStation(sim)
	sim.SetLatency(time.Millisecond * 50)
	st.SetAutoConnect(false)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	if _, err := st.ScanResult(); err != ErrNoScanResult {
		t.Fatal("result before any scan must fail")
	}
	if err := st.Scan(); err != nil {
		t.Fatal(err)
	}
	if _, err := st.ScanResult(); err != ErrScanInProgress {
		t.Fatal("result during a scan must fail")
	}
	// a second request while scanning shares the running scan
	if err := st.Scan(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, "scan completion", st.IsScanDone)
	result, err := st.ScanResult()
	if err != nil {
		t.Fatal(err)
	}
	if len(result) != 3 {
		t.Fatal("expected all three networks")
	}
	if result[0].SSID != "strong" || result[1].SSID != "middle" || result[2].SSID != "weak" {
		t.Fatal("scan result must be sorted by signal strength")
	}
	if n := sim.ScanCount(); n != 1 {
		t.Fatalf("overlapping requests ran %d radio scans, want 1", n)
	}
}

func TestStationScanAndWait(t *testing.T) {
	sim := NewSimulator(SimNetwork{SSID: "home", Secret: "pw", RSSI: -40})
	st, _ := newTestStation(sim)
	st.SetAutoConnect(false)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	result, err := st.ScanAndWait(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(result) != 1 || result[0].SSID != "home" {
		t.Fatal("unexpected scan result")
	}
}

func TestStationScanEmpty(t *testing.T) {
	sim := NewSimulator()
	st, _ := newTestStation(sim)
	st.SetAutoConnect(false)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	_, err := st.ScanAndWait(time.Second)
	if err != ErrNoScanResult {
		t.Fatal("an empty scan leaves nothing to fetch")
	}
}

func TestStationAutoConnect(t *testing.T) {
	sim := NewSimulator(SimNetwork{SSID: "home", Secret: "pw", RSSI: -40})
	st, rs := newTestStation(sim)
	if err := rs.Add("home", "pw"); err != nil {
		t.Fatal(err)
	}
	rec := newEventRecorder()
	st.RegisterNotifee(rec)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	select {
	case <-rec.address:
	case <-time.After(time.Second * 5):
		t.Fatal("auto-connect did not bring the link up")
	}
	status := st.Status()
	if status.State != StateConnected || status.SSID != "home" {
		t.Fatal("auto-connect picked the wrong network")
	}
}

func TestStationAutoConnectPrefersProven(t *testing.T) {
	sim := NewSimulator(
		SimNetwork{SSID: "loud-stranger", Secret: "a", RSSI: -30},
		SimNetwork{SSID: "quiet-friend", Secret: "b", RSSI: -70},
	)
	st, rs := newTestStation(sim)
	if err := rs.Add("loud-stranger", "a"); err != nil {
		t.Fatal(err)
	}
	if err := rs.addOrUpdate("quiet-friend", "b", true); err != nil {
		t.Fatal(err)
	}
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	waitFor(t, time.Second*5, "auto-connect", func() bool {
		return st.Status().State == StateConnected
	})
	if st.Status().SSID != "quiet-friend" {
		t.Fatal("a proven network must outrank a stronger unproven one")
	}
}

func TestStationRetryDemotesNetwork(t *testing.T) {
	sim := NewSimulator(SimNetwork{SSID: "flaky", Secret: "pw", RSSI: -40, Silent: true})
	st, rs := newTestStation(sim)
	if err := rs.addOrUpdate("flaky", "pw", true); err != nil {
		t.Fatal(err)
	}
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	waitFor(t, time.Second*10, "demotion after three failed attempts", func() bool {
		rec, ok := rs.find("flaky")
		return ok && !rec.EverSuccess
	})
	if st.Status().State == StateConnected {
		t.Fatal("station cannot be connected to a silent network")
	}
}

func TestStationUserDisconnectedSkipped(t *testing.T) {
	sim := NewSimulator(SimNetwork{SSID: "home", Secret: "pw", RSSI: -40})
	st, rs := newTestStation(sim)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	if err := st.Connect("home", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := st.Disconnect(); err != nil {
		t.Fatal(err)
	}
	// give auto-connect a few cycles to prove it leaves the network alone
	<-time.After(time.Second * 2)
	if st.Status().State != StateDisconnected {
		t.Fatal("auto-connect must skip a user disconnected network")
	}
	rec, _ := rs.find("home")
	if !rec.UserDisconnected {
		t.Fatal("record lost the user disconnected mark")
	}

	// an explicit connect lifts the mark
	if err := st.Connect("home", "pw"); err != nil {
		t.Fatal(err)
	}
	rec, _ = rs.find("home")
	if rec.UserDisconnected {
		t.Fatal("explicit connect must clear the user disconnected mark")
	}
}

func TestStationResetNetworkStatus(t *testing.T) {
	sim := NewSimulator(SimNetwork{SSID: "home", Secret: "pw", RSSI: -40})
	st, rs := newTestStation(sim)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	if err := st.Connect("home", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := st.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if err := st.ResetNetworkStatus("home"); err != nil {
		t.Fatal(err)
	}
	rec, _ := rs.find("home")
	if rec.UserDisconnected || !rec.EverSuccess {
		t.Fatal("reset must restore auto-connect eligibility")
	}
	waitFor(t, time.Second*5, "reconnect after reset", func() bool {
		return st.Status().State == StateConnected
	})
	if err := st.ResetNetworkStatus("missing"); err != ErrRecordNotFound {
		t.Fatal("resetting an unknown network must fail")
	}
}

func TestStationOneShot(t *testing.T) {
	sim := NewSimulator(SimNetwork{SSID: "home", Secret: "pw", RSSI: -40})
	st, rs := newTestStation(sim)
	if err := rs.addOrUpdate("home", "pw", true); err != nil {
		t.Fatal(err)
	}
	st.SetAutoConnect(false)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	<-time.After(time.Millisecond * 300)
	if st.Status().State == StateConnected {
		t.Fatal("station must stay idle while auto-connect is off")
	}
	st.TryAutoConnectOnce()
	waitFor(t, time.Second*5, "one-shot connect", func() bool {
		return st.Status().State == StateConnected
	})
}

func TestStationReconnectAfterDrop(t *testing.T) {
	sim := NewSimulator(SimNetwork{SSID: "home", Secret: "pw", RSSI: -40})
	st, rs := newTestStation(sim)
	if err := rs.Add("home", "pw"); err != nil {
		t.Fatal(err)
	}
	rec := newEventRecorder()
	st.RegisterNotifee(rec)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	waitFor(t, time.Second*5, "initial auto-connect", func() bool {
		return st.Status().State == StateConnected
	})
	sim.DropLink("beacon lost")
	select {
	case <-rec.dropped:
	case <-time.After(time.Second):
		t.Fatal("link loss did not reach the notifee")
	}
	waitFor(t, time.Second*5, "automatic reconnect", func() bool {
		return st.Status().State == StateConnected
	})
}

func TestStationNotifeeUnregister(t *testing.T) {
	sim := NewSimulator(SimNetwork{SSID: "home", Secret: "pw", RSSI: -40})
	st, _ := newTestStation(sim)
	st.SetAutoConnect(false)
	rec := newEventRecorder()
	st.RegisterNotifee(rec)
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	if err := st.Connect("home", "pw"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-rec.connected:
	case <-time.After(time.Second):
		t.Fatal("connect event missing")
	}
	st.UnregisterNotifee(rec)
	if err := st.Disconnect(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-rec.dropped:
		t.Fatal("unregistered notifee must not receive events")
	case <-time.After(time.Millisecond * 200):
	}
}
