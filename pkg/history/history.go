// Package history keeps the commands sent during a session and lets the
// caller walk back and forth through them.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"serial-tool/pkg/codec"
)

// DefaultCapacity is used when a non-positive capacity is requested
const DefaultCapacity = 100

// Direction selects which way Recall moves the cursor
type Direction int

const (
	Older Direction = iota
	Newer
)

// String returns the string representation of Direction
func (d Direction) String() string {
	switch d {
	case Older:
		return "older"
	case Newer:
		return "newer"
	default:
		return "unknown"
	}
}

// Entry is one previously sent command and the mode it was encoded with
type Entry struct {
	Text string     `json:"text"`
	Mode codec.Mode `json:"mode"`
}

// Validate checks if the entry is valid
func (e Entry) Validate() error {
	if e.Text == "" {
		return fmt.Errorf("text cannot be empty")
	}
	if e.Mode != codec.ModeUTF8 && e.Mode != codec.ModeHex {
		return fmt.Errorf("invalid mode: %d", e.Mode)
	}
	return nil
}

// Option configures a Buffer
type Option func(*Buffer)

// WithSkipDuplicates drops a push whose text and mode equal the newest entry
func WithSkipDuplicates() Option {
	return func(b *Buffer) {
		b.skipDuplicates = true
	}
}

// Buffer is a fixed-capacity ring of entries with a navigation cursor.
//
// The cursor ranges over [0, Len()]. Len() is the "past the newest"
// position where the input line is empty.
type Buffer struct {
	mu             sync.Mutex
	entries        []Entry
	start          int
	count          int
	cursor         int
	skipDuplicates bool
}

// New creates a buffer holding at most capacity entries
func New(capacity int, opts ...Option) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	b := &Buffer{
		entries: make([]Entry, capacity),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Push appends an entry, evicting the oldest when full, and resets the
// cursor past the newest entry. Trailing and embedded CR/LF are removed
// from the text; an entry left empty is not stored. It reports whether the
// entry was stored.
func (b *Buffer) Push(entry Entry) bool {
	entry.Text = stripLineEndings(entry.Text)

	b.mu.Lock()
	defer b.mu.Unlock()

	defer func() { b.cursor = b.count }()

	if entry.Text == "" {
		return false
	}

	if b.skipDuplicates && b.count > 0 && b.at(b.count-1) == entry {
		return false
	}

	capacity := len(b.entries)
	if b.count < capacity {
		b.entries[(b.start+b.count)%capacity] = entry
		b.count++
	} else {
		b.entries[b.start] = entry
		b.start = (b.start + 1) % capacity
	}
	return true
}

// Recall moves the cursor one step and returns the entry at the new
// position. Older stops at the oldest entry and Newer stops at the empty
// position past the newest; neither wraps.
func (b *Buffer) Recall(direction Direction) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch direction {
	case Older:
		if b.cursor == 0 {
			return Entry{}, false
		}
		b.cursor--
		return b.at(b.cursor), true
	case Newer:
		if b.cursor >= b.count {
			return Entry{}, false
		}
		b.cursor++
		if b.cursor == b.count {
			return Entry{}, false
		}
		return b.at(b.cursor), true
	default:
		return Entry{}, false
	}
}

// ResetCursor moves the cursor past the newest entry
func (b *Buffer) ResetCursor() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor = b.count
}

// Entries returns the stored entries, oldest first
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]Entry, b.count)
	for i := range result {
		result[i] = b.at(i)
	}
	return result
}

// Len returns the number of stored entries
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the fixed capacity
func (b *Buffer) Cap() int {
	return len(b.entries)
}

// Clear removes all entries
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.entries {
		b.entries[i] = Entry{}
	}
	b.start = 0
	b.count = 0
	b.cursor = 0
}

// at returns the i-th entry counted from the oldest. Caller holds mu.
func (b *Buffer) at(i int) Entry {
	return b.entries[(b.start+i)%len(b.entries)]
}

type savedHistory struct {
	Entries []Entry `json:"entries"`
	Count   int     `json:"count"`
}

// Save writes the entries to filename as JSON
func (b *Buffer) Save(filename string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	entries := b.Entries()
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(savedHistory{Entries: entries, Count: len(entries)}); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}

// Load replaces the contents with the entries stored in filename. Entries
// beyond capacity are evicted oldest first, as if pushed in order.
func (b *Buffer) Load(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var saved savedHistory
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("failed to parse history file: %w", err)
	}

	for i, entry := range saved.Entries {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}

	b.Clear()
	for _, entry := range saved.Entries {
		b.Push(entry)
	}
	return nil
}

func stripLineEndings(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
