// Package uart2wifi runs a serial to TCP bridge daemon. It keeps a
// persistent set of known wifi networks, reconnects to the best one
// in the background and, while the network is up, serves the serial
// port to TCP clients through a multiplexed server.
package uart2wifi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/eehut/uart2wifi/internal/api"
	"github.com/eehut/uart2wifi/internal/bridge"
	"github.com/eehut/uart2wifi/internal/repo"
	"github.com/eehut/uart2wifi/internal/uart"
	"github.com/eehut/uart2wifi/internal/wifi"
	"github.com/eehut/uart2wifi/internal/wifi/nmcli"
)

var log = logging.Logger("uart2wifi")

// Service is a running bridge daemon. The wifi station and the
// bridge are exposed directly, the http api serves the same surface
// to other processes.
type Service struct {
	Ctx     context.Context
	Cancel  context.CancelFunc
	Repo    repo.Repo
	Station *wifi.Station
	Bridge  *bridge.Bridge
	Records *wifi.RecordStore
	Stopped chan bool

	apiServer *http.Server
	online    bool
	mtx       sync.Mutex
}

type Option func(*Options)

// WithDriver overrides the wifi driver picked from the config.
func WithDriver(d wifi.Driver) Option {
	return func(o *Options) {
		o.driver = d
	}
}

// WithSerialPort overrides the serial port picked from the config.
func WithSerialPort(p uart.Port) Option {
	return func(o *Options) {
		o.port = p
	}
}

// WithAPI decides if the daemon serves the http control api.
func WithAPI(withAPI bool) Option {
	return func(o *Options) {
		o.withAPI = withAPI
	}
}

// WithVerbose hex dumps forwarded traffic at debug level.
func WithVerbose(verbose bool) Option {
	return func(o *Options) {
		o.verbose = verbose
	}
}

type Options struct {
	driver  wifi.Driver
	port    uart.Port
	withAPI bool
	verbose bool
}

func defaultOptions() *Options {
	return &Options{
		withAPI: true,
	}
}

// New assembles a Service on an opened repo. The caller keeps
// ownership of the repo and closes it after the service stops.
func New(
	ctx context.Context,
	cancelFunc context.CancelFunc,
	r repo.Repo,
	opts ...Option,
) (*Service, error) {
	options := defaultOptions()
	for _, option := range opts {
		option(options)
	}
	cfg, err := r.Config()
	if err != nil {
		return nil, err
	}

	records, err := wifi.NewRecordStore(r.Datastore(), func() {
		if err := r.BumpState(); err != nil {
			log.Debug("state bump failed ", err.Error())
		}
	})
	if err != nil {
		return nil, err
	}

	driver := options.driver
	if driver == nil {
		driver, err = driverFromConfig(cfg.Radio.Driver, cfg.Radio.Interface)
		if err != nil {
			return nil, err
		}
	}

	port := options.port
	if port == nil {
		if cfg.UART.Device != "" {
			port, err = uart.OpenPhysical(cfg.UART.Device, bridge.DefaultBaudRate)
			if err != nil {
				return nil, err
			}
		} else {
			log.Warn("No serial device configured, using an in-memory loopback port")
			port, _ = uart.Pipe()
		}
	}

	s := &Service{
		Ctx:     ctx,
		Cancel:  cancelFunc,
		Repo:    r,
		Records: records,
		Stopped: make(chan bool, 1),
	}

	s.Station = wifi.NewStation(driver, records)
	if err := s.Station.Start(); err != nil {
		return nil, err
	}

	r.Stats().StartTicker()
	s.Bridge, err = bridge.New(r.Datastore(), port, r.Stats(), bridge.Config{
		Name:    cfg.DeviceName,
		Verbose: options.verbose,
	})
	if err != nil {
		s.Station.Stop()
		port.Close()
		return nil, err
	}

	// the bridge follows the link, up brings the server, down takes it away
	s.Station.RegisterNotifee(s.Bridge)

	if options.withAPI {
		handler := api.NewHandler(s.Station, s.Bridge, r, cancelFunc)
		s.apiServer = &http.Server{
			Addr:    ":" + cfg.APIPort,
			Handler: handler,
		}
		go func() {
			log.Info("Control api listening on port ", cfg.APIPort)
			if err := s.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("Control api failed : %s", err)
			}
		}()
	}

	s.mtx.Lock()
	s.online = true
	s.mtx.Unlock()

	go s.autoclose()
	return s, nil
}

func driverFromConfig(name, iface string) (wifi.Driver, error) {
	switch name {
	case "", "nmcli":
		return nmcli.New(iface), nil
	case "sim":
		return wifi.NewSimulator(), nil
	default:
		return nil, fmt.Errorf("unknown radio driver %q", name)
	}
}

func (s *Service) autoclose() {
	<-s.Ctx.Done()
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.online = false
	if s.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*2)
		s.apiServer.Shutdown(ctx)
		cancel()
	}
	s.Station.UnregisterNotifee(s.Bridge)
	s.Station.Stop()
	s.Bridge.Close()
	s.Stopped <- true
}

// IsOnline reports whether the service is still running.
func (s *Service) IsOnline() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.online
}
