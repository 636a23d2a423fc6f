// Copyright (c) Rivermesh
// SPDX-License-Identifier: Apache-2.0

package resend

import (
	"strconv"
	"sync"
	"time"

	"github.com/rivermesh/courier/envelope"
)

// pendingSend tracks one in-flight message awaiting acknowledgment. The
// tracked message is a private clone: it never shares a metadata map with a
// message still in flight on the channel.
type pendingSend struct {
	key messageKey

	mu          sync.Mutex
	message     *envelope.Message
	resentCount int
	lastSentAt  time.Time

	cancelled  chan struct{}
	cancelOnce sync.Once
}

func newPendingSend(key messageKey, msg *envelope.Message) *pendingSend {
	return &pendingSend{
		key:         key,
		message:     msg.Clone(),
		resentCount: 1,
		lastSentAt:  time.Now(),
		cancelled:   make(chan struct{}),
	}
}

// bump registers another transmission of the same key: the count advances
// and the last-sent timestamp is refreshed. Returns the new count.
func (p *pendingSend) bump(msg *envelope.Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.message = msg.Clone()
	p.resentCount++
	p.lastSentAt = time.Now()
	return p.resentCount
}

// attempts returns the current transmission count.
func (p *pendingSend) attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resentCount
}

// deadline returns the instant the next retransmission becomes due.
func (p *pendingSend) deadline(interval time.Duration) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSentAt.Add(interval)
}

// outgoing returns a copy of the tracked message stamped with the current
// attempt number. The tracked form itself is never handed out: the caller's
// copy can be mutated freely without racing a transmission in flight.
func (p *pendingSend) outgoing() *envelope.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.message.Clone()
	out.SetMetadata(envelope.ResentCountKey, strconv.Itoa(p.resentCount))
	return out
}

// cancel aborts any outstanding wait or queued resend for this entry.
// Safe to call more than once, and after the entry already completed.
func (p *pendingSend) cancel() {
	p.cancelOnce.Do(func() {
		close(p.cancelled)
	})
}

// done is closed once the entry is cancelled.
func (p *pendingSend) done() <-chan struct{} {
	return p.cancelled
}

// pendingStore maps message keys to their retry state. It is the source of
// truth for what is awaiting acknowledgment, and is touched concurrently by
// the outgoing-send path, the incoming-ack path, and the resend stage.
type pendingStore struct {
	mu      sync.Mutex
	entries map[messageKey]*pendingSend
}

func newPendingStore() *pendingStore {
	return &pendingStore{
		entries: make(map[messageKey]*pendingSend),
	}
}

// registerOrBump creates the entry on first transmission or advances its
// retry state on a subsequent one. Create and bump are a single atomic step
// per key: concurrent callers never produce two entries for the same key.
// Returns the entry and its transmission count after the call.
func (ps *pendingStore) registerOrBump(key messageKey, msg *envelope.Message) (*pendingSend, int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if entry, ok := ps.entries[key]; ok {
		return entry, entry.bump(msg)
	}

	entry := newPendingSend(key, msg)
	ps.entries[key] = entry
	return entry, 1
}

// get retrieves an entry without mutating it.
func (ps *pendingStore) get(key messageKey) (*pendingSend, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	entry, ok := ps.entries[key]
	return entry, ok
}

// evict atomically removes and returns the entry if present. The caller is
// responsible for cancelling the returned entry.
func (ps *pendingStore) evict(key messageKey) (*pendingSend, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	entry, ok := ps.entries[key]
	if ok {
		delete(ps.entries, key)
	}
	return entry, ok
}

// len returns the number of tracked entries.
func (ps *pendingStore) len() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.entries)
}
