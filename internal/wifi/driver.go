package wifi

// DriverNotifier receives radio events from a Driver. Drivers may
// deliver events from their own goroutines; the Station serialises
// them internally.
type DriverNotifier interface {
	// OnLinkUp fires when an association is established.
	OnLinkUp(LinkInfo)
	// OnAddress fires when the link has an IP configuration.
	OnAddress(AddrInfo)
	// OnLinkDown fires when the link is lost or a connection
	// attempt fails.
	OnLinkDown(reason string)
	// OnScanDone delivers the result of a completed scan.
	OnScanDone([]NetworkInfo)
}

// Driver abstracts the platform radio. Scan and Connect are
// asynchronous, their outcome arrives through the DriverNotifier
// passed to Start. Disconnect reports the link loss synchronously
// before it returns.
type Driver interface {
	Start(DriverNotifier) error
	Scan() error
	Connect(ssid, secret string) error
	Disconnect() error
	Stop() error
}
