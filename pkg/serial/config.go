// Package serial owns serial port discovery, the connection state machine
// and the read and write paths of an open port.
package serial

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	MinBaudRate = 4800
	MaxBaudRate = 2000000
)

// CommonBaudRates are the rates offered for selection. Any rate within
// [MinBaudRate, MaxBaudRate] is accepted.
var CommonBaudRates = []int{
	4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800,
	500000, 576000, 921600, 1000000, 1500000, 2000000,
}

// Parity selects the parity bit
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// String returns the string representation of Parity
func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	default:
		return "unknown"
	}
}

// ParseParity converts a parity name to a Parity
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "n", "":
		return ParityNone, nil
	case "odd", "o":
		return ParityOdd, nil
	case "even", "e":
		return ParityEven, nil
	default:
		return ParityNone, fmt.Errorf("invalid parity: %s", s)
	}
}

func (p Parity) MarshalText() ([]byte, error) {
	if p < ParityNone || p > ParityEven {
		return nil, fmt.Errorf("invalid parity: %d", p)
	}
	return []byte(p.String()), nil
}

func (p *Parity) UnmarshalText(text []byte) error {
	v, err := ParseParity(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// FlowControl selects the flow control scheme
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowSoftware
	FlowHardware
)

// String returns the string representation of FlowControl
func (f FlowControl) String() string {
	switch f {
	case FlowNone:
		return "none"
	case FlowSoftware:
		return "software"
	case FlowHardware:
		return "hardware"
	default:
		return "unknown"
	}
}

// ParseFlowControl converts a flow control name to a FlowControl
func ParseFlowControl(s string) (FlowControl, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return FlowNone, nil
	case "software", "xonxoff", "xon/xoff":
		return FlowSoftware, nil
	case "hardware", "rtscts", "rts/cts":
		return FlowHardware, nil
	default:
		return FlowNone, fmt.Errorf("invalid flow control: %s", s)
	}
}

func (f FlowControl) MarshalText() ([]byte, error) {
	if f < FlowNone || f > FlowHardware {
		return nil, fmt.Errorf("invalid flow control: %d", f)
	}
	return []byte(f.String()), nil
}

func (f *FlowControl) UnmarshalText(text []byte) error {
	v, err := ParseFlowControl(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// PortConfig defines the line settings for a connection. It is copied into
// the connection at open time; changing it requires a re-open.
type PortConfig struct {
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      Parity        `json:"parity"`
	FlowControl FlowControl   `json:"flow_control"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// Validate checks if the port configuration is valid
func (c PortConfig) Validate() error {
	if c.BaudRate < MinBaudRate || c.BaudRate > MaxBaudRate {
		return fmt.Errorf("baud rate must be between %d and %d, got: %d", MinBaudRate, MaxBaudRate, c.BaudRate)
	}

	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("data bits must be between 5 and 8, got: %d", c.DataBits)
	}

	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("stop bits must be 1 or 2, got: %d", c.StopBits)
	}

	if c.Parity < ParityNone || c.Parity > ParityEven {
		return fmt.Errorf("invalid parity: %d", c.Parity)
	}

	if c.FlowControl < FlowNone || c.FlowControl > FlowHardware {
		return fmt.Errorf("invalid flow control: %d", c.FlowControl)
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}

	return nil
}

// String renders the settings as e.g. "115200 8N1"
func (c PortConfig) String() string {
	parity := "N"
	switch c.Parity {
	case ParityOdd:
		parity = "O"
	case ParityEven:
		parity = "E"
	}
	return fmt.Sprintf("%d %d%s%d", c.BaudRate, c.DataBits, parity, c.StopBits)
}

// DefaultConfig returns a default port configuration
func DefaultConfig() PortConfig {
	return PortConfig{
		BaudRate:    115200,
		DataBits:    8,
		StopBits:    1,
		Parity:      ParityNone,
		FlowControl: FlowNone,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// mode converts the configuration to the go.bug.st/serial representation.
// The library has no flow control setting; hardware flow control asserts
// RTS and DTR when the port opens.
func (c PortConfig) mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: convertStopBits(c.StopBits),
		Parity:   convertParity(c.Parity),
	}

	if c.FlowControl == FlowHardware {
		mode.InitialStatusBits = &serial.ModemOutputBits{RTS: true, DTR: true}
	}

	return mode
}

// convertStopBits converts our stop bits format to go.bug.st/serial format
func convertStopBits(stopBits int) serial.StopBits {
	switch stopBits {
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// convertParity converts our parity format to go.bug.st/serial format
func convertParity(parity Parity) serial.Parity {
	switch parity {
	case ParityOdd:
		return serial.OddParity
	case ParityEven:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}
