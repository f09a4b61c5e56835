package serial

import (
	"context"
	"slices"
	"sort"
	"time"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// DefaultWatchInterval is how often Watch polls when no interval is given
const DefaultWatchInterval = 500 * time.Millisecond

// PortDescriptor is a snapshot of one enumerated port
type PortDescriptor struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// Description returns a human readable summary of the port
func (d PortDescriptor) Description() string {
	if !d.IsUSB {
		return ""
	}
	desc := "USB " + d.VID + ":" + d.PID
	if d.Product != "" {
		desc += " " + d.Product
	}
	return desc
}

// EnumerateFunc lists the platform's ports
type EnumerateFunc func() ([]*enumerator.PortDetails, error)

// RegistryOption configures a PortRegistry
type RegistryOption func(*PortRegistry)

// WithUSBOnly limits enumeration to USB ports
func WithUSBOnly() RegistryOption {
	return func(r *PortRegistry) {
		r.usbOnly = true
	}
}

// WithEnumerator replaces the platform enumerator
func WithEnumerator(fn EnumerateFunc) RegistryOption {
	return func(r *PortRegistry) {
		r.enumerate = fn
	}
}

// WithRegistryLogger sets the diagnostic logger
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *PortRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// PortRegistry enumerates available serial ports. Every call probes the
// platform again; nothing is cached.
type PortRegistry struct {
	enumerate EnumerateFunc
	usbOnly   bool
	logger    *zap.Logger
}

// NewPortRegistry creates a registry backed by go.bug.st/serial/enumerator
func NewPortRegistry(opts ...RegistryOption) *PortRegistry {
	r := &PortRegistry{
		enumerate: enumerator.GetDetailedPortsList,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "port_registry"))
	return r
}

// ListPorts returns a fresh snapshot of the available ports sorted by name.
// On failure it returns nil and an *EnumerationError.
func (r *PortRegistry) ListPorts() ([]PortDescriptor, error) {
	details, err := r.enumerate()
	if err != nil {
		return nil, &EnumerationError{Cause: err}
	}

	ports := make([]PortDescriptor, 0, len(details))
	for _, d := range details {
		if d == nil || d.Name == "" {
			continue
		}
		if r.usbOnly && !d.IsUSB {
			continue
		}
		ports = append(ports, PortDescriptor{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}

	sort.Slice(ports, func(i, j int) bool {
		return ports[i].Name < ports[j].Name
	})
	return ports, nil
}

// Lookup returns the descriptor for name if the port is currently present
func (r *PortRegistry) Lookup(name string) (PortDescriptor, bool, error) {
	ports, err := r.ListPorts()
	if err != nil {
		return PortDescriptor{}, false, err
	}
	for _, p := range ports {
		if p.Name == name {
			return p, true, nil
		}
	}
	return PortDescriptor{}, false, nil
}

// Watch polls the platform every interval until ctx is done and calls fn
// with the new snapshot whenever the set of port names changes. The first
// successful poll always calls fn. Enumeration failures are logged and the
// previous snapshot is kept.
func (r *PortRegistry) Watch(ctx context.Context, interval time.Duration, fn func([]PortDescriptor)) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []string
	first := true

	poll := func() {
		ports, err := r.ListPorts()
		if err != nil {
			r.logger.Warn("Port enumeration failed", zap.Error(err))
			return
		}

		names := portNames(ports)
		if !first && slices.Equal(names, last) {
			return
		}
		first = false
		last = names

		r.logger.Debug("Port set changed", zap.Strings("ports", names))
		fn(ports)
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

func portNames(ports []PortDescriptor) []string {
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	return names
}
