package wifi

import (
	"sort"
	"sync"
	"time"
)

// Station drives a radio towards "connected to the best known
// network". A background task scans while disconnected, ranks the
// visible networks against the credential store and retries each
// candidate a bounded number of times before demoting it.
type Station struct {
	mtx      sync.Mutex
	driver   Driver
	records  *RecordStore
	notifees []Notifee

	state       State
	currentSSID string
	link        LinkInfo
	addr        AddrInfo
	connectedAt time.Time

	autoConnect bool
	oneShot     bool

	retryTarget string
	retryCount  int
	useShort    bool

	scanInProgress bool
	scanDone       bool
	userScanReq    bool
	bgScanReq      bool
	lastScan       []NetworkInfo

	connectCh chan error

	stop      chan struct{}
	isRunning bool

	// the timings of the reconnect machinery, fixed except in tests
	tick           time.Duration
	shortInterval  time.Duration
	longInterval   time.Duration
	connectTimeout time.Duration
	scanWait       time.Duration
	holdoff        time.Duration
	pollInterval   time.Duration
	maxRetries     int

	nextScanAt time.Time
}

func NewStation(driver Driver, records *RecordStore) *Station {
	return &Station{
		driver:         driver,
		records:        records,
		state:          StateDisconnected,
		autoConnect:    true,
		useShort:       true,
		tick:           time.Millisecond * 500,
		shortInterval:  time.Second * 10,
		longInterval:   time.Second * 30,
		connectTimeout: time.Second * 15,
		scanWait:       time.Second * 10,
		holdoff:        time.Second * 5,
		pollInterval:   time.Millisecond * 100,
		maxRetries:     3,
	}
}

// Start brings up the driver and the background task. The first
// auto-connect scan runs a second after start.
func (st *Station) Start() error {
	st.mtx.Lock()
	if st.isRunning {
		st.mtx.Unlock()
		log.Warn("WiFi station already started")
		return nil
	}
	err := st.driver.Start(st)
	if err != nil {
		st.mtx.Unlock()
		return err
	}
	st.isRunning = true
	st.stop = make(chan struct{})
	st.nextScanAt = time.Now().Add(time.Second)
	st.mtx.Unlock()
	go st.run()
	log.Info("WiFi station started")
	return nil
}

func (st *Station) Stop() error {
	st.mtx.Lock()
	if !st.isRunning {
		st.mtx.Unlock()
		return nil
	}
	st.isRunning = false
	close(st.stop)
	st.mtx.Unlock()
	err := st.driver.Stop()
	log.Info("WiFi station stopped")
	return err
}

func (st *Station) RegisterNotifee(n Notifee) {
	st.mtx.Lock()
	defer st.mtx.Unlock()

	st.notifees = append(st.notifees, n)
}

func (st *Station) UnregisterNotifee(n Notifee) {
	st.mtx.Lock()
	defer st.mtx.Unlock()

	for i, listed := range st.notifees {
		if listed == n {
			st.notifees = append(st.notifees[:i], st.notifees[i+1:]...)
			return
		}
	}
}

// Connect associates with the given network and waits for the link to
// come up. On success the credentials are remembered with the
// ever-success flag set. The attempt is bounded by the connect
// timeout, after which the station is left disconnected.
func (st *Station) Connect(ssid, secret string) error {
	if err := validateCredentials(ssid, secret); err != nil {
		return err
	}

	st.mtx.Lock()
	if st.state == StateConnected {
		log.Debug("WiFi is connected, disconnect first")
		st.mtx.Unlock()
		st.driver.Disconnect()
		st.mtx.Lock()
	}
	st.records.clearUserDisconnected(ssid)
	st.state = StateConnecting
	st.currentSSID = ssid
	ch := make(chan error, 1)
	st.connectCh = ch
	st.mtx.Unlock()

	log.Debugf("Started WiFi connection, ssid: %s", ssid)
	if err := st.driver.Connect(ssid, secret); err != nil {
		st.mtx.Lock()
		st.state = StateDisconnected
		st.connectCh = nil
		st.mtx.Unlock()
		return err
	}

	select {
	case err := <-ch:
		st.mtx.Lock()
		st.connectCh = nil
		st.mtx.Unlock()
		if err != nil {
			log.Errorf("Failed to connect to WiFi: %s", ssid)
			return err
		}
		log.Infof("Connected to WiFi: %s", ssid)
		if err := st.records.addOrUpdate(ssid, secret, true); err != nil {
			log.Error("Failed to persist record : ", err)
		}
		return nil
	case <-time.After(st.connectTimeout):
		log.Errorf("WiFi connection timeout: %s", ssid)
		st.driver.Disconnect()
		st.mtx.Lock()
		st.state = StateDisconnected
		st.connectCh = nil
		st.mtx.Unlock()
		return ErrConnectTimeout
	}
}

// Disconnect drops the link and marks the current network as user
// disconnected, which keeps auto-connect away from it until the user
// picks it again or resets it.
func (st *Station) Disconnect() error {
	st.mtx.Lock()
	if st.state == StateDisconnected {
		st.mtx.Unlock()
		log.Debug("WiFi already disconnected")
		return nil
	}
	st.state = StateDisconnected
	st.connectedAt = time.Time{}
	if st.currentSSID != "" {
		st.records.markUserDisconnected(st.currentSSID)
	}
	st.currentSSID = ""
	st.mtx.Unlock()

	err := st.driver.Disconnect()
	if err == nil {
		log.Info("WiFi disconnected")
	}
	return err
}

func (st *Station) Status() Status {
	st.mtx.Lock()
	defer st.mtx.Unlock()

	return st.statusLocked()
}

func (st *Station) statusLocked() Status {
	s := Status{State: st.state}
	switch st.state {
	case StateConnecting:
		s.SSID = st.currentSSID
		s.BSSID = st.link.BSSID
		s.RSSI = st.link.RSSI
	case StateConnected:
		s.SSID = st.currentSSID
		s.BSSID = st.link.BSSID
		s.RSSI = st.link.RSSI
		s.IP = st.addr.IP
		s.Netmask = st.addr.Netmask
		s.Gateway = st.addr.Gateway
		s.DNS = st.addr.DNS
		if !st.connectedAt.IsZero() {
			s.ConnectedFor = int64(time.Since(st.connectedAt).Seconds())
		}
	}
	return s
}

func (st *Station) SetAutoConnect(enable bool) {
	st.mtx.Lock()
	st.autoConnect = enable
	st.mtx.Unlock()
	if enable {
		log.Info("Auto connect enabled")
	} else {
		log.Info("Auto connect disabled")
	}
}

func (st *Station) AutoConnect() bool {
	st.mtx.Lock()
	defer st.mtx.Unlock()

	return st.autoConnect
}

// TryAutoConnectOnce schedules a single auto-connect cycle even while
// auto-connect is disabled.
func (st *Station) TryAutoConnectOnce() {
	st.mtx.Lock()
	defer st.mtx.Unlock()

	st.oneShot = true
}

// ResetNetworkStatus clears the demotion and user-disconnected marks
// of a record so auto-connect considers it again.
func (st *Station) ResetNetworkStatus(ssid string) error {
	st.mtx.Lock()
	defer st.mtx.Unlock()

	err := st.records.resetStatus(ssid)
	if err != nil {
		return err
	}
	if st.retryTarget == ssid {
		st.retryTarget = ""
		st.retryCount = 0
		st.useShort = true
	}
	return nil
}

func (st *Station) Records() []Record {
	return st.records.List()
}

func (st *Station) AddRecord(ssid, secret string) error {
	return st.records.Add(ssid, secret)
}

func (st *Station) DeleteRecord(ssid string) error {
	return st.records.Delete(ssid)
}

// Scan starts an asynchronous scan. If one is already running the
// request shares its result instead of starting another.
func (st *Station) Scan() error {
	return st.startScan(false)
}

func (st *Station) startScan(background bool) error {
	st.mtx.Lock()
	if st.scanInProgress {
		if background {
			st.bgScanReq = true
			log.Info("Background scan request queued, will share result")
		} else {
			st.userScanReq = true
			log.Info("User scan request queued, will share result")
		}
		st.mtx.Unlock()
		return nil
	}
	st.scanInProgress = true
	st.scanDone = false
	if background {
		st.bgScanReq = true
	} else {
		st.userScanReq = true
	}
	st.mtx.Unlock()

	err := st.driver.Scan()
	if err != nil {
		st.mtx.Lock()
		st.scanInProgress = false
		if background {
			st.bgScanReq = false
		} else {
			st.userScanReq = false
		}
		st.mtx.Unlock()
		log.Error("Failed to start scan : ", err)
	}
	return err
}

// IsScanDone reports whether a completed scan result is waiting.
func (st *Station) IsScanDone() bool {
	st.mtx.Lock()
	defer st.mtx.Unlock()

	return st.scanDone && !st.scanInProgress
}

// ScanResult returns the networks of the last completed scan, already
// sorted by signal strength. It fails while a scan is running and
// when no scan has completed yet.
func (st *Station) ScanResult() ([]NetworkInfo, error) {
	st.mtx.Lock()
	defer st.mtx.Unlock()

	if st.scanInProgress {
		return nil, ErrScanInProgress
	}
	if !st.scanDone || st.lastScan == nil {
		return nil, ErrNoScanResult
	}
	out := make([]NetworkInfo, len(st.lastScan))
	copy(out, st.lastScan)
	return out, nil
}

// ScanAndWait runs a scan and polls for its completion.
func (st *Station) ScanAndWait(timeout time.Duration) ([]NetworkInfo, error) {
	if err := st.startScan(false); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	for !st.IsScanDone() {
		if time.Now().After(deadline) {
			log.Warnf("Scan timeout after %s", timeout)
			return nil, ErrScanTimeout
		}
		time.Sleep(st.pollInterval)
	}
	return st.ScanResult()
}

// OnLinkUp implements DriverNotifier.
func (st *Station) OnLinkUp(info LinkInfo) {
	st.mtx.Lock()
	log.Infof("Connected to WiFi SSID:%s", info.SSID)
	st.state = StateConnected
	st.currentSSID = info.SSID
	st.link = info
	st.connectedAt = time.Now()
	st.retryTarget = ""
	st.retryCount = 0
	st.useShort = true
	st.records.markEverSuccess(info.SSID, true)
	ch := st.connectCh
	notifees := st.notifeesLocked()
	status := st.statusLocked()
	st.mtx.Unlock()

	if ch != nil {
		select {
		case ch <- nil:
		default:
		}
	}
	for _, n := range notifees {
		n.Connected(status)
	}
}

// OnAddress implements DriverNotifier.
func (st *Station) OnAddress(a AddrInfo) {
	st.mtx.Lock()
	log.Infof("Got IP:%s", a.IP)
	st.addr = a
	notifees := st.notifeesLocked()
	status := st.statusLocked()
	st.mtx.Unlock()

	for _, n := range notifees {
		n.AddressAssigned(status)
	}
}

// OnLinkDown implements DriverNotifier.
func (st *Station) OnLinkDown(reason string) {
	st.mtx.Lock()
	log.Infof("Disconnected from WiFi SSID:%s, reason:%s", st.currentSSID, reason)
	st.state = StateDisconnected
	st.link = LinkInfo{}
	st.addr = AddrInfo{}
	st.connectedAt = time.Time{}
	// holdoff keeps a link flap from triggering an immediate rescan
	st.nextScanAt = time.Now().Add(st.holdoff)
	ch := st.connectCh
	notifees := st.notifeesLocked()
	status := st.statusLocked()
	st.mtx.Unlock()

	if ch != nil {
		select {
		case ch <- ErrConnectFailed:
		default:
		}
	}
	for _, n := range notifees {
		n.Disconnected(status)
	}
}

// OnScanDone implements DriverNotifier.
func (st *Station) OnScanDone(results []NetworkInfo) {
	st.mtx.Lock()
	defer st.mtx.Unlock()

	st.scanInProgress = false
	if len(results) > 0 {
		sorted := make([]NetworkInfo, len(results))
		copy(sorted, results)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].RSSI > sorted[j].RSSI
		})
		st.lastScan = sorted
	} else {
		st.lastScan = nil
	}
	st.scanDone = true

	scanType := ""
	switch {
	case st.userScanReq && st.bgScanReq:
		scanType = "user+background"
	case st.userScanReq:
		scanType = "user"
	case st.bgScanReq:
		scanType = "background"
	}
	log.Infof("Async scan (%s) completed, found %d APs", scanType, len(results))
	st.userScanReq = false
	st.bgScanReq = false
}

func (st *Station) notifeesLocked() []Notifee {
	out := make([]Notifee, len(st.notifees))
	copy(out, st.notifees)
	return out
}

func (st *Station) run() {
	log.Info("Background WiFi task started")
	for {
		select {
		case <-st.stop:
			return
		case <-time.After(st.tick):
		}
		st.mtx.Lock()
		now := time.Now()
		due := st.oneShot || (st.autoConnect && st.state == StateDisconnected && now.After(st.nextScanAt))
		if !due {
			st.mtx.Unlock()
			continue
		}
		interval := st.longInterval
		if st.useShort {
			interval = st.shortInterval
		}
		mode := "enabled"
		if st.oneShot {
			mode = "one-shot"
		}
		log.Infof("Background scan for auto-connect(%s), interval: %ds", mode, int(interval.Seconds()))
		st.oneShot = false
		st.mtx.Unlock()
		st.autoCycle(now)
	}
}

// autoCycle runs one scan-select-connect round. The next round is
// scheduled relative to this round's start, with the short interval
// while the current candidate is still worth retrying and the long
// one after a demotion or an empty scan.
func (st *Station) autoCycle(cycleStart time.Time) {
	if st.startScan(true) == nil {
		waitStart := time.Now()
		for time.Since(waitStart) < st.scanWait {
			if st.IsScanDone() {
				break
			}
			select {
			case <-st.stop:
				return
			case <-time.After(st.pollInterval):
			}
		}

		st.mtx.Lock()
		if st.scanDone && len(st.lastScan) > 0 {
			best := st.findBestLocked()
			if best >= 0 {
				target := st.lastScan[best].SSID
				rec, ok := st.records.find(target)
				if ok {
					if st.retryTarget != target {
						st.retryTarget = target
						st.retryCount = 0
						st.useShort = true
					}
					if st.retryCount < st.maxRetries {
						st.retryCount++
						log.Infof("Auto-connecting to: %s (attempt %d/%d)", target, st.retryCount, st.maxRetries)
						secret := rec.Secret
						st.mtx.Unlock()
						err := st.Connect(target, secret)
						st.mtx.Lock()
						if err == nil {
							st.retryTarget = ""
							st.retryCount = 0
							st.useShort = true
						} else if st.retryCount >= st.maxRetries {
							log.Warnf("Network %s failed %d times, marking as unavailable", target, st.maxRetries)
							st.records.markEverSuccess(target, false)
							st.retryTarget = ""
							st.retryCount = 0
							st.useShort = false
						}
					} else {
						log.Debugf("Network %s already tried %d times, skipping", target, st.maxRetries)
					}
				}
			} else {
				st.useShort = false
				log.Infof("No suitable network found, try in %ds", int(st.longInterval.Seconds()))
			}
		} else {
			st.useShort = false
			log.Warn("Background scan failed or no results")
		}
		st.mtx.Unlock()
	}

	st.mtx.Lock()
	interval := st.longInterval
	if st.useShort {
		interval = st.shortInterval
	}
	st.nextScanAt = cycleStart.Add(interval)
	st.mtx.Unlock()
}

// findBestLocked ranks the last scan against the credential store.
// Networks the user disconnected from are skipped, proven networks
// outrank unproven ones, then stronger signal wins and the more
// recently used record breaks ties.
func (st *Station) findBestLocked() int {
	if st.records.Count() == 0 {
		log.Debug("No WiFi records found")
		return -1
	}
	best := -1
	bestRSSI := -128
	bestSeq := uint32(0)
	bestEver := false
	for i, ap := range st.lastScan {
		rec, ok := st.records.find(ap.SSID)
		if !ok {
			continue
		}
		if rec.UserDisconnected {
			log.Debugf("Skip user disconnected network: %s", rec.SSID)
			continue
		}
		if !bestEver && rec.EverSuccess {
			best = i
			bestRSSI = ap.RSSI
			bestSeq = rec.Sequence
			bestEver = true
		} else if bestEver == rec.EverSuccess {
			if ap.RSSI > bestRSSI || (ap.RSSI == bestRSSI && rec.Sequence > bestSeq) {
				best = i
				bestRSSI = ap.RSSI
				bestSeq = rec.Sequence
				bestEver = rec.EverSuccess
			}
		}
	}
	if best >= 0 {
		log.Infof("Selected network: %s (RSSI: %d)", st.lastScan[best].SSID, bestRSSI)
	}
	return best
}
