// Package eventlog provides the append-only, per-entity event log the UI
// layer polls. Each scope ("campaign/3", "evidence/1", ...) is an ordered,
// hash-chained sequence of entries; entries are immutable once appended.
package eventlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
)

// Entry is an immutable, hash-chained event record.
type Entry struct {
	Scope       string         `json:"scope"`
	Sequence    uint64         `json:"sequence"`
	Kind        string         `json:"kind"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
	Timestamp   time.Time      `json:"timestamp"`
	Actor       string         `json:"actor,omitempty"`
	Fields      map[string]any `json:"fields"`
}

// Sink receives every committed entry, e.g. for SQL persistence. Sinks must
// not block; errors are the sink's responsibility.
type Sink func(Entry)

// Log is a set of per-scope append-only chains.
type Log struct {
	mu     sync.RWMutex
	chains map[string][]Entry
	heads  map[string]string
	clock  func() time.Time
	sink   Sink
}

// New creates an empty event log.
func New() *Log {
	return &Log{
		chains: make(map[string][]Entry),
		heads:  make(map[string]string),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// WithSink registers a sink invoked after every committed append.
func (l *Log) WithSink(s Sink) *Log {
	l.sink = s
	return l
}

// Append commits an entry to the scope's chain and returns its sequence.
func (l *Log) Append(scope, kind, actor string, fields map[string]any) (uint64, error) {
	l.mu.Lock()

	head, ok := l.heads[scope]
	if !ok {
		head = "genesis"
	}
	seq := uint64(len(l.chains[scope])) + 1

	contentHash, err := entryHash(scope, seq, kind, fields, head)
	if err != nil {
		l.mu.Unlock()
		return 0, err
	}

	entry := Entry{
		Scope:       scope,
		Sequence:    seq,
		Kind:        kind,
		ContentHash: contentHash,
		PrevHash:    head,
		Timestamp:   l.clock(),
		Actor:       actor,
		Fields:      fields,
	}
	l.chains[scope] = append(l.chains[scope], entry)
	l.heads[scope] = contentHash
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		sink(entry)
	}
	return seq, nil
}

// Entries returns a copy of the scope's chain, oldest first. after=0 returns
// everything; after=n skips the first n entries (poll cursor).
func (l *Log) Entries(scope string, after uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chain := l.chains[scope]
	if after >= uint64(len(chain)) {
		return nil
	}
	out := make([]Entry, len(chain)-int(after))
	copy(out, chain[after:])
	return out
}

// Head returns the scope's current head hash, "genesis" if empty.
func (l *Log) Head(scope string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if h, ok := l.heads[scope]; ok {
		return h
	}
	return "genesis"
}

// Scopes lists every scope that has at least one entry.
func (l *Log) Scopes() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.chains))
	for s := range l.chains {
		out = append(out, s)
	}
	return out
}

// Verify checks the hash chain of one scope.
func (l *Log) Verify(scope string) (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := "genesis"
	for i, e := range l.chains[scope] {
		if e.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prev, e.PrevHash)
		}
		computed, err := entryHash(scope, e.Sequence, e.Kind, e.Fields, e.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != e.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prev = e.ContentHash
	}
	return true, "chain verified"
}

// entryHash hashes the canonical JSON (RFC 8785) of the entry's identity so
// equal inputs always produce equal hashes regardless of map ordering.
func entryHash(scope string, seq uint64, kind string, fields map[string]any, prev string) (string, error) {
	hashInput := struct {
		Scope    string         `json:"scope"`
		Seq      uint64         `json:"seq"`
		Kind     string         `json:"kind"`
		Fields   map[string]any `json:"fields"`
		PrevHash string         `json:"prev"`
	}{scope, seq, kind, fields, prev}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize entry: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}
