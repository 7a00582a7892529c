package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("config")

const (
	// APIPort is the default port the control api listens on
	APIPort = "5679"

	// DefaultRadioDriver is used when no driver is named in the config
	DefaultRadioDriver = "nmcli"
)

// UART tracks the serial device the bridge forwards. An empty device
// means no physical port is attached and the daemon runs with an
// in-memory port.
type UART struct {
	Device string
}

// Radio selects the platform wifi driver.
type Radio struct {
	Driver    string // "nmcli" or "sim"
	Interface string // wireless interface name, nmcli picks one if empty
}

// Config wraps configuration options for the bridge daemon.
type Config struct {
	DeviceName string
	APIPort    string
	UART       UART
	Radio      Radio
}

// NewConfig creates a config with a generated device name
func NewConfig(apiPort string) (*Config, error) {
	name, err := deviceName()
	if err != nil {
		return nil, err
	}
	log.Debug("Generated new device name ", name)
	if apiPort == "0" || apiPort == "" {
		apiPort = APIPort
	}
	conf := &Config{
		DeviceName: name,
		APIPort:    apiPort,
		UART:       UART{},
		Radio:      Radio{Driver: DefaultRadioDriver},
	}
	return conf, nil
}

func deviceName() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("uart2wifi-%s", hex.EncodeToString(b)), nil
}
