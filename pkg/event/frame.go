package event

import (
	"fmt"
	"time"
)

// Direction represents the direction of data flow
type Direction int

const (
	Received Direction = iota
	Sent
)

// String returns the string representation of Direction
func (d Direction) String() string {
	switch d {
	case Received:
		return "received"
	case Sent:
		return "sent"
	default:
		return "unknown"
	}
}

// Tag returns the short upper-case label used in session logs
func (d Direction) Tag() string {
	switch d {
	case Received:
		return "RECV"
	case Sent:
		return "SENT"
	default:
		return "UNKN"
	}
}

// Frame is one timestamped unit of sent or received bytes. Frames are not
// modified after creation.
type Frame struct {
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
}

// NewFrame creates a frame holding a copy of data
func NewFrame(data []byte, direction Direction, ts time.Time) Frame {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return Frame{
		Data:      dataCopy,
		Timestamp: ts,
		Direction: direction,
	}
}

// Validate checks if the frame is well formed
func (f Frame) Validate() error {
	if f.Timestamp.IsZero() {
		return fmt.Errorf("timestamp cannot be zero")
	}

	if f.Direction != Received && f.Direction != Sent {
		return fmt.Errorf("invalid direction: %d", f.Direction)
	}

	if len(f.Data) == 0 {
		return fmt.Errorf("frame carries no data")
	}

	return nil
}
