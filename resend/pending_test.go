// Copyright (c) Rivermesh
// SPDX-License-Identifier: Apache-2.0

package resend

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rivermesh/courier/envelope"
)

func TestPendingStore(t *testing.T) {
	ps := newPendingStore()

	if ps.len() != 0 {
		t.Errorf("initial len should be 0, got %d", ps.len())
	}
}

func TestPendingStoreRegisterOrBump(t *testing.T) {
	ps := newPendingStore()
	key := newMessageKey("a", "")

	entry, attempts := ps.registerOrBump(key, &envelope.Message{ID: "a"})
	if attempts != 1 {
		t.Errorf("first registration should count 1, got %d", attempts)
	}
	if ps.len() != 1 {
		t.Errorf("len should be 1, got %d", ps.len())
	}

	again, attempts := ps.registerOrBump(key, &envelope.Message{ID: "a"})
	if attempts != 2 {
		t.Errorf("bump should count 2, got %d", attempts)
	}
	if again != entry {
		t.Error("bump should return the same entry, not create a second one")
	}
	if ps.len() != 1 {
		t.Errorf("len should still be 1, got %d", ps.len())
	}
}

func TestPendingStoreBumpRefreshesLastSent(t *testing.T) {
	ps := newPendingStore()
	key := newMessageKey("a", "")

	entry, _ := ps.registerOrBump(key, &envelope.Message{ID: "a"})
	first := entry.deadline(0)

	time.Sleep(5 * time.Millisecond)
	ps.registerOrBump(key, &envelope.Message{ID: "a"})

	if !entry.deadline(0).After(first) {
		t.Error("bump should refresh the last-sent timestamp")
	}
}

func TestPendingStoreConcurrentRegisterSameKey(t *testing.T) {
	ps := newPendingStore()
	key := newMessageKey("a", "")

	const n = 50
	entries := make([]*pendingSend, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries[i], _ = ps.registerOrBump(key, &envelope.Message{ID: "a"})
		}(i)
	}
	wg.Wait()

	if ps.len() != 1 {
		t.Fatalf("concurrent registration must yield one entry, got %d", ps.len())
	}
	for i := 1; i < n; i++ {
		if entries[i] != entries[0] {
			t.Fatal("all callers must see the same entry")
		}
	}
	if got := entries[0].attempts(); got != n {
		t.Errorf("attempts should be %d, got %d", n, got)
	}
}

func TestPendingStoreEvict(t *testing.T) {
	ps := newPendingStore()
	key := newMessageKey("a", "")
	ps.registerOrBump(key, &envelope.Message{ID: "a"})

	entry, ok := ps.evict(key)
	if !ok || entry == nil {
		t.Fatal("evict should return the entry")
	}
	if ps.len() != 0 {
		t.Errorf("len should be 0 after evict, got %d", ps.len())
	}

	if _, ok := ps.evict(key); ok {
		t.Error("evicting an absent key should report absent")
	}
}

func TestPendingSendCancelIdempotent(t *testing.T) {
	entry := newPendingSend(newMessageKey("a", ""), &envelope.Message{ID: "a"})

	entry.cancel()
	entry.cancel() // must not panic

	select {
	case <-entry.done():
	default:
		t.Error("done should be closed after cancel")
	}
}

func TestPendingSendOutgoingStampsCount(t *testing.T) {
	msg := &envelope.Message{ID: "a"}
	entry := newPendingSend(newMessageKey("a", ""), msg)
	entry.bump(msg)
	entry.bump(msg)

	out := entry.outgoing()
	if got := out.GetMetadata(envelope.ResentCountKey); got != strconv.Itoa(3) {
		t.Errorf("header should be 3, got %q", got)
	}

	entry.bump(msg)
	out = entry.outgoing()
	if got := out.GetMetadata(envelope.ResentCountKey); got != strconv.Itoa(4) {
		t.Errorf("header should be overwritten to 4, got %q", got)
	}
}

func TestPendingSendDoesNotAliasCallerMessage(t *testing.T) {
	msg := &envelope.Message{ID: "a"}
	entry := newPendingSend(newMessageKey("a", ""), msg)

	out := entry.outgoing()
	if got := out.GetMetadata(envelope.ResentCountKey); got != "1" {
		t.Errorf("outgoing header should be 1, got %q", got)
	}
	if got := msg.GetMetadata(envelope.ResentCountKey); got != "" {
		t.Errorf("caller's message must not be stamped, got %q", got)
	}

	msg.SetMetadata("x", "y")
	if got := entry.outgoing().GetMetadata("x"); got != "" {
		t.Error("tracked message must not alias the caller's metadata map")
	}

	out.SetMetadata("z", "1")
	if got := entry.outgoing().GetMetadata("z"); got != "" {
		t.Error("handed-out copies must not write back into the tracked message")
	}
}

func TestPendingSendConcurrentOutgoingAndSenderWrites(t *testing.T) {
	msg := &envelope.Message{ID: "a"}
	entry := newPendingSend(newMessageKey("a", ""), msg)

	// The sender keeps mutating its own message while the resend side keeps
	// producing outgoing copies; neither may observe the other's map.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			entry.outgoing()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			msg.SetMetadata(envelope.ResentCountKey, strconv.Itoa(i))
			_ = msg.Clone()
		}
	}()
	wg.Wait()
}

func TestMessageKeyCaseInsensitive(t *testing.T) {
	a := newMessageKey("ABC", "Peer@Test")
	b := newMessageKey("abc", "peer@test")
	if a != b {
		t.Error("keys should compare case-insensitively")
	}
}
