package serial

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Transport is the byte pipe underneath a Connection. Read returns 0, nil
// when the read timeout expires without data.
type Transport interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
}

// Opener opens the transport for a port
type Opener func(name string, cfg PortConfig) (Transport, error)

// OpenPort opens a real serial port with go.bug.st/serial
func OpenPort(name string, cfg PortConfig) (Transport, error) {
	port, err := serial.Open(name, cfg.mode())
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return port, nil
}
