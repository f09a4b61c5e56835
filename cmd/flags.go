package cmd

import (
	"time"

	"github.com/spf13/pflag"

	"serial-tool/pkg/config"
)

// portFlags are the serial settings shared by connect and config save.
// Only flags given on the command line override the base settings.
type portFlags struct {
	baudRate    int
	dataBits    int
	stopBits    int
	parity      string
	flowControl string
	timeout     time.Duration
}

func (f *portFlags) register(fs *pflag.FlagSet) {
	fs.IntVarP(&f.baudRate, "baud", "b", 115200, "baud rate")
	fs.IntVarP(&f.dataBits, "data", "d", 8, "data bits (5, 6, 7 or 8)")
	fs.IntVarP(&f.stopBits, "stop", "s", 1, "stop bits (1 or 2)")
	fs.StringVar(&f.parity, "parity", "none", "parity (none, odd, even)")
	fs.StringVar(&f.flowControl, "flow", "none", "flow control (none, software, hardware)")
	fs.DurationVarP(&f.timeout, "timeout", "t", 100*time.Millisecond, "read timeout")
}

func (f *portFlags) apply(fs *pflag.FlagSet, base config.PortSettings) config.PortSettings {
	s := base
	if fs.Changed("baud") {
		s.BaudRate = f.baudRate
	}
	if fs.Changed("data") {
		s.DataBits = f.dataBits
	}
	if fs.Changed("stop") {
		s.StopBits = f.stopBits
	}
	if fs.Changed("parity") {
		s.Parity = f.parity
	}
	if fs.Changed("flow") {
		s.FlowControl = f.flowControl
	}
	if fs.Changed("timeout") {
		s.ReadTimeout = f.timeout
	}
	return s
}
