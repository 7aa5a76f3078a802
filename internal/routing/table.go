// Package routing implements the session table and the forwarding decision
// for the WireGuard relay.
//
// A session binds a sender index, learned from a handshake initiation, to
// the address that sent it. The target echoes that index back as the
// receiver index of every message meant for the peer, which is all the
// relay needs to pick a destination.
package routing

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"
)

// DefaultSessionValidTime matches WireGuard's REJECT-AFTER-TIME.
const DefaultSessionValidTime = 180 * time.Second

// Session is a single entry in the session table.
type Session struct {
	// Index is the sender index from the handshake initiation
	Index uint32

	// Addr is the peer address that sent the initiation
	Addr netip.AddrPort

	// ExpiresAt is when the next sweep may drop the entry
	ExpiresAt time.Time
}

// String returns a human-readable representation of the session.
func (s Session) String() string {
	return fmt.Sprintf("Session{%d via %s, expires=%s}",
		s.Index, s.Addr, s.ExpiresAt.Format(time.RFC3339))
}

// Expired reports whether a sweep at now would remove the session.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Table maps sender indices to peer addresses.
//
// Expiry is lazy: entries are only removed by the full sweep that runs at
// the start of every SweepAndUpsert. Lookup returns whatever is stored,
// including entries past their expiry that no sweep has reached yet.
type Table interface {
	// SweepAndUpsert removes every expired session, then binds index to
	// addr until now plus the table's valid time. It returns the number of
	// sessions the sweep removed.
	SweepAndUpsert(index uint32, addr netip.AddrPort, now time.Time) int

	// Lookup returns the address bound to index, if any.
	Lookup(index uint32, now time.Time) (netip.AddrPort, bool)

	// Len returns the number of stored sessions.
	Len() int

	// Snapshot returns a copy of all sessions ordered by index.
	Snapshot() []Session
}

// NewTable returns a table suitable for the given access pattern. A table
// that is only ever touched from one goroutine skips locking entirely.
func NewTable(concurrent bool, validTime time.Duration) Table {
	if validTime <= 0 {
		validTime = DefaultSessionValidTime
	}
	if concurrent {
		return NewLockedTable(validTime)
	}
	return NewUnlockedTable(validTime)
}

// sessions is the unsynchronized core shared by both table variants.
type sessions struct {
	entries   map[uint32]Session
	validTime time.Duration
}

func newSessions(validTime time.Duration) sessions {
	return sessions{
		entries:   make(map[uint32]Session),
		validTime: validTime,
	}
}

func (s *sessions) sweepAndUpsert(index uint32, addr netip.AddrPort, now time.Time) int {
	evicted := 0
	for idx, sess := range s.entries {
		if sess.Expired(now) {
			delete(s.entries, idx)
			evicted++
		}
	}

	s.entries[index] = Session{
		Index:     index,
		Addr:      addr,
		ExpiresAt: now.Add(s.validTime),
	}
	return evicted
}

func (s *sessions) lookup(index uint32) (netip.AddrPort, bool) {
	sess, ok := s.entries[index]
	if !ok {
		return netip.AddrPort{}, false
	}
	return sess.Addr, true
}

func (s *sessions) snapshot() []Session {
	out := make([]Session, 0, len(s.entries))
	for _, sess := range s.entries {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Index < out[j].Index
	})
	return out
}

// LockedTable is a Table safe for concurrent use. Lookups share a read
// lock; a sweep and its insert run under one write lock.
type LockedTable struct {
	mu sync.RWMutex
	s  sessions
}

// NewLockedTable creates a new concurrent session table.
func NewLockedTable(validTime time.Duration) *LockedTable {
	return &LockedTable{s: newSessions(validTime)}
}

// SweepAndUpsert implements Table.
func (t *LockedTable) SweepAndUpsert(index uint32, addr netip.AddrPort, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.s.sweepAndUpsert(index, addr, now)
}

// Lookup implements Table.
func (t *LockedTable) Lookup(index uint32, now time.Time) (netip.AddrPort, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.s.lookup(index)
}

// Len implements Table.
func (t *LockedTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.s.entries)
}

// Snapshot implements Table.
func (t *LockedTable) Snapshot() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.s.snapshot()
}

// UnlockedTable is a Table without synchronization, for a relay running a
// single worker with nothing else reading the table.
type UnlockedTable struct {
	s sessions
}

// NewUnlockedTable creates a new single-goroutine session table.
func NewUnlockedTable(validTime time.Duration) *UnlockedTable {
	return &UnlockedTable{s: newSessions(validTime)}
}

// SweepAndUpsert implements Table.
func (t *UnlockedTable) SweepAndUpsert(index uint32, addr netip.AddrPort, now time.Time) int {
	return t.s.sweepAndUpsert(index, addr, now)
}

// Lookup implements Table.
func (t *UnlockedTable) Lookup(index uint32, now time.Time) (netip.AddrPort, bool) {
	return t.s.lookup(index)
}

// Len implements Table.
func (t *UnlockedTable) Len() int {
	return len(t.s.entries)
}

// Snapshot implements Table.
func (t *UnlockedTable) Snapshot() []Session {
	return t.s.snapshot()
}
