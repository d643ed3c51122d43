// Package subscription turns caller subscriptions into wire-sized chunks and
// remembers them for replay after a reconnection.
package subscription

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/livefeed/lserr"
	"github.com/justapithecus/livefeed/types"
)

// Default chunk limits.
const (
	// DefaultMaxSymbols is the default symbol count ceiling per chunk.
	DefaultMaxSymbols = 500
	// DefaultMaxBytes is the default ceiling on a chunk's comma-joined symbols.
	DefaultMaxBytes = 16 * 1024
)

// Limits bounds the size of each subscription chunk.
type Limits struct {
	// MaxSymbols is the most symbols a chunk may carry.
	MaxSymbols int `yaml:"max_symbols"`
	// MaxBytes is the most bytes a chunk's comma-joined symbol list may take.
	MaxBytes int `yaml:"max_bytes"`
}

// DefaultLimits returns the default chunk limits.
func DefaultLimits() Limits {
	return Limits{MaxSymbols: DefaultMaxSymbols, MaxBytes: DefaultMaxBytes}
}

// withDefaults fills unset limits.
func (l Limits) withDefaults() Limits {
	if l.MaxSymbols <= 0 {
		l.MaxSymbols = DefaultMaxSymbols
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	return l
}

// Chunk is one subscription request line.
type Chunk struct {
	SubscriptionID uint32
	Schema         types.Schema
	STypeIn        types.SType
	Symbols        []string
	Start          time.Time
	Snapshot       bool
	// IsLast is set only on the final chunk of a batch.
	IsLast bool
}

// Encode renders the chunk as a control line, newline included.
func (c Chunk) Encode() string {
	var b strings.Builder
	b.WriteString("schema=")
	b.WriteString(string(c.Schema))
	b.WriteString("|stype_in=")
	b.WriteString(string(c.STypeIn))
	b.WriteString("|id=")
	b.WriteString(strconv.FormatUint(uint64(c.SubscriptionID), 10))
	b.WriteString("|symbols=")
	b.WriteString(strings.Join(c.Symbols, ","))
	b.WriteString("|snapshot=")
	b.WriteString(boolFlag(c.Snapshot))
	if !c.Start.IsZero() {
		b.WriteString("|start=")
		b.WriteString(strconv.FormatInt(c.Start.UnixNano(), 10))
	}
	b.WriteString("|is_last=")
	b.WriteString(boolFlag(c.IsLast))
	b.WriteByte('\n')
	return b.String()
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// Entry is an active subscription and its identifier.
type Entry struct {
	ID           uint32
	Subscription types.Subscription
}

// Manager assigns identifiers, chunks subscriptions, and keeps the active
// set in insertion order. Subscriptions are never removed or merged.
type Manager struct {
	limits Limits

	mu     sync.Mutex
	nextID uint32
	active []Entry
}

// NewManager creates a manager. Zero limits select the defaults.
func NewManager(limits Limits) *Manager {
	return &Manager{limits: limits.withDefaults(), nextID: 1}
}

// Limits returns the chunk limits in effect.
func (m *Manager) Limits() Limits {
	return m.limits
}

// Add validates subs, assigns identifiers, records them as active, and
// returns their chunks as one batch. Either every subscription is added or
// none is.
func (m *Manager) Add(subs ...types.Subscription) ([]Chunk, error) {
	if len(subs) == 0 {
		return nil, lserr.BadArgument("subscriptions", "at least one subscription is required")
	}
	for _, sub := range subs {
		if err := sub.Validate(); err != nil {
			return nil, err
		}
		if _, err := Split(sub.Symbols, m.limits); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, 0, len(subs))
	for _, sub := range subs {
		sub.Symbols = append([]string(nil), sub.Symbols...)
		entries = append(entries, Entry{ID: m.nextID, Subscription: sub})
		m.nextID++
	}
	m.active = append(m.active, entries...)

	return chunkEntries(entries, m.limits)
}

// Replay returns chunks for every active subscription in insertion order,
// chunked exactly as when first added, as one batch.
func (m *Manager) Replay() []Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()

	// limits were validated on Add
	chunks, _ := chunkEntries(m.active, m.limits)
	return chunks
}

// Active returns a snapshot of the active subscriptions.
func (m *Manager) Active() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, len(m.active))
	copy(out, m.active)
	return out
}

// Len returns the number of active subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.active)
}

func chunkEntries(entries []Entry, limits Limits) ([]Chunk, error) {
	var chunks []Chunk
	for _, e := range entries {
		groups, err := Split(e.Subscription.Symbols, limits)
		if err != nil {
			return nil, err
		}
		for _, symbols := range groups {
			chunks = append(chunks, Chunk{
				SubscriptionID: e.ID,
				Schema:         e.Subscription.Schema,
				STypeIn:        e.Subscription.STypeIn,
				Symbols:        symbols,
				Start:          e.Subscription.Start,
				Snapshot:       e.Subscription.Snapshot,
			})
		}
	}
	return MarkBatch(chunks), nil
}

// MarkBatch sets IsLast on the final chunk only, so several chunk lists can
// be sent as one batch.
func MarkBatch(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].IsLast = i == len(chunks)-1
	}
	return chunks
}

// Split partitions symbols greedily into consecutive groups bounded by
// limits. Concatenating the groups yields symbols unchanged.
func Split(symbols []string, limits Limits) ([][]string, error) {
	limits = limits.withDefaults()

	var groups [][]string
	start, size := 0, 0
	for i, sym := range symbols {
		if len(sym) > limits.MaxBytes {
			return nil, lserr.BadArgument("symbols",
				fmt.Sprintf("symbol %q is %d bytes, chunk limit is %d", sym, len(sym), limits.MaxBytes))
		}
		// separator comma counts toward the chunk
		added := len(sym)
		if i > start {
			added++
		}
		if i > start && (i-start >= limits.MaxSymbols || size+added > limits.MaxBytes) {
			groups = append(groups, symbols[start:i:i])
			start, size, added = i, 0, len(sym)
		}
		size += added
	}
	if start < len(symbols) {
		groups = append(groups, symbols[start:len(symbols):len(symbols)])
	}
	return groups, nil
}
