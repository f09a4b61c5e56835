package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"serial-tool/pkg/codec"
	"serial-tool/pkg/event"
	"serial-tool/pkg/history"
	"serial-tool/pkg/serial"
)

// closeWait bounds how long Run waits for the final status event
const closeWait = 2 * time.Second

// RunOptions selects the port and how lines typed by the user are sent
type RunOptions struct {
	Port     string
	Config   serial.PortConfig
	Mode     codec.Mode
	LineFeed bool
	// Prompt prints "> " before each input line
	Prompt bool
}

// Runner connects one port of a session to a line-oriented console: lines
// read from in are sent, events are printed to out.
type Runner struct {
	session *Session
	opts    RunOptions
	in      io.Reader
	out     io.Writer

	outMu    sync.Mutex
	mode     codec.Mode
	recalled *history.Entry

	// closes counts the transitions to StateClosed the runner caused
	closes atomic.Int32
}

// NewRunner creates a runner for session
func NewRunner(session *Session, opts RunOptions, in io.Reader, out io.Writer) *Runner {
	return &Runner{
		session: session,
		opts:    opts,
		in:      in,
		out:     out,
		mode:    opts.Mode,
	}
}

// Run opens the port and processes input until in is exhausted, the user
// quits or ctx is cancelled. The port is closed before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	sub := r.session.Subscribe()
	defer sub.Close()

	if _, err := r.session.Open(r.opts.Port, r.opts.Config, r.opts.Mode); err != nil {
		return err
	}

	closed := make(chan struct{})
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		r.printEvents(sub, closed)
	}()

	r.printf("=== Connected to %s (%s, %s) ===\n", r.opts.Port, r.opts.Config, r.mode)
	r.printf("Type :help for commands\n")

	err := r.readInput(ctx)

	closeErr := r.session.Close(r.opts.Port)
	r.closedBy(closeErr)
	if closeErr != nil && !errors.Is(closeErr, serial.ErrNotOpen) {
		err = errors.Join(err, closeErr)
	}
	close(closed)

	select {
	case <-printed:
	case <-time.After(closeWait):
	}

	stats := r.session.Stats()
	r.printf("=== Session Summary ===\n")
	r.printf("Duration: %v\n", stats.Duration.Round(time.Millisecond))
	r.printf("Bytes Sent: %d\n", stats.BytesSent)
	r.printf("Bytes Received: %d\n", stats.BytesReceived)
	if path := r.session.LogPath(); path != "" {
		r.printf("Log: %s\n", path)
	}
	return err
}

func (r *Runner) readInput(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		if r.opts.Prompt {
			r.printf("> ")
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			if quit := r.handleLine(line); quit {
				return nil
			}
		}
	}
}

// handleLine runs a console command or sends the line. It reports whether
// the user asked to quit.
func (r *Runner) handleLine(line string) bool {
	trimmed := strings.TrimSpace(line)

	switch trimmed {
	case ":q", ":quit", ":exit":
		return true
	case ":help":
		r.printHelp()
	case ":older", ":newer":
		dir := history.Older
		if trimmed == ":newer" {
			dir = history.Newer
		}
		entry, ok := r.session.Recall(dir)
		if !ok {
			r.recalled = nil
			r.printf("-- no %s command\n", dir)
			break
		}
		r.recalled = &entry
		r.printf("-- recalled [%s] %s (empty line sends it)\n", entry.Mode, entry.Text)
	case ":hex", ":utf8":
		mode := codec.ModeHex
		if trimmed == ":utf8" {
			mode = codec.ModeUTF8
		}
		if err := r.session.SetMode(r.opts.Port, mode); err != nil {
			r.printf("!! %v\n", err)
			break
		}
		r.mode = mode
		r.printf("-- mode %s\n", mode)
	case ":reset":
		r.reconnect()
	case ":stats":
		stats := r.session.Stats()
		r.printf("-- sent %d bytes in %d frames, received %d bytes in %d frames\n",
			stats.BytesSent, stats.FramesSent, stats.BytesReceived, stats.FramesReceived)
	case ":history":
		for i, entry := range r.session.History() {
			r.printf("%3d [%s] %s\n", i+1, entry.Mode, entry.Text)
		}
	case "":
		if r.recalled == nil {
			break
		}
		entry := *r.recalled
		r.recalled = nil
		r.send(entry.Text, entry.Mode)
	default:
		r.recalled = nil
		r.send(line, r.mode)
	}
	return false
}

func (r *Runner) send(text string, mode codec.Mode) {
	if err := r.session.Send(r.opts.Port, text, mode, r.opts.LineFeed); err != nil {
		r.printf("!! send failed: %v\n", err)
	}
}

// reconnect clears an errored connection and opens the port again
func (r *Runner) reconnect() {
	err := r.session.Reset(r.opts.Port)
	r.closedBy(err)
	if err != nil && !errors.Is(err, serial.ErrNotOpen) {
		r.printf("!! %v\n", err)
		return
	}
	if _, err := r.session.Open(r.opts.Port, r.opts.Config, r.mode); err != nil {
		r.printf("!! %v\n", err)
	}
}

func (r *Runner) printHelp() {
	r.printf(`Commands:
  :older, :newer   recall sent commands; an empty line resends the recalled one
  :hex, :utf8      switch the encoding used for sending and receiving
  :history         list sent commands
  :stats           show traffic counters
  :reset           reopen the port after an error
  :quit            close the port and exit
`)
}

// closedBy counts a Close or Reset that reached StateClosed. Both get
// there unless they were refused, and only a failing port close is
// reported as an *IoError after the transition.
func (r *Runner) closedBy(err error) {
	var ioErr *serial.IoError
	if err == nil || errors.As(err, &ioErr) {
		r.closes.Add(1)
	}
}

// printEvents prints events for the runner's port. Once closed is closed
// it returns after the last StateClosed the runner caused was printed.
func (r *Runner) printEvents(sub *event.Subscription, closed <-chan struct{}) {
	var seen int32
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Port != "" && ev.Port != r.opts.Port {
				continue
			}
			r.printf("%s\n", FormatEvent(ev))
			if ev.Kind == event.StatusChanged && ev.To == serial.StateClosed.String() {
				seen++
			}
		case <-closed:
			closed = nil
		}
		if closed == nil && seen >= r.closes.Load() {
			return
		}
	}
}

func (r *Runner) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// FormatEvent renders an event as one console line
func FormatEvent(ev event.Event) string {
	ts := ev.Timestamp.Format("15:04:05.000")

	switch ev.Kind {
	case event.FrameReceived, event.FrameSent:
		tag := "RX"
		if ev.Kind == event.FrameSent {
			tag = "TX"
		}
		text := ev.Text
		if text == "" && ev.Frame != nil {
			text = "[" + codec.FormatHex(ev.Frame.Data) + "]"
		}
		return fmt.Sprintf("%s %s %s", ts, tag, text)
	case event.StatusChanged:
		return fmt.Sprintf("%s -- %s: %s -> %s", ts, ev.Port, ev.From, ev.To)
	case event.PortsChanged:
		if len(ev.Ports) == 0 {
			return fmt.Sprintf("%s -- ports: none", ts)
		}
		return fmt.Sprintf("%s -- ports: %s", ts, strings.Join(ev.Ports, ", "))
	case event.ErrorOccurred:
		return fmt.Sprintf("%s !! %v", ts, ev.Err)
	default:
		return fmt.Sprintf("%s ?? %s", ts, ev.Kind)
	}
}
