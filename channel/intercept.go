// Copyright (c) Rivermesh
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"sync"

	"github.com/rivermesh/courier/envelope"
)

// Interceptor observes an envelope flowing through a channel and may rewrite
// it. Returning (nil, nil) drops the envelope from the flow: an outgoing
// envelope is not transmitted and an incoming one is not delivered.
type Interceptor[E any] interface {
	Intercept(ctx context.Context, env *E) (*E, error)
}

// Registry holds an ordered set of interceptors for one envelope flow.
// Interceptors run in registration order; the first to drop or fail stops
// the chain. Safe for concurrent use.
type Registry[E any] struct {
	mu    sync.RWMutex
	items []Interceptor[E]
}

// Add appends an interceptor to the registry.
func (r *Registry[E]) Add(i Interceptor[E]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, i)
}

// Remove deletes an interceptor previously added. Interceptors are compared
// by identity, so the same value must be passed to Add and Remove.
func (r *Registry[E]) Remove(i Interceptor[E]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx, item := range r.items {
		if item == i {
			r.items = append(r.items[:idx], r.items[idx+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered interceptors.
func (r *Registry[E]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Run passes the envelope through the interceptor chain. A nil result with
// a nil error means the envelope was dropped.
func (r *Registry[E]) Run(ctx context.Context, env *E) (*E, error) {
	r.mu.RLock()
	items := make([]Interceptor[E], len(r.items))
	copy(items, r.items)
	r.mu.RUnlock()

	var err error
	for _, i := range items {
		env, err = i.Intercept(ctx, env)
		if err != nil {
			return nil, err
		}
		if env == nil {
			return nil, nil
		}
	}
	return env, nil
}

// StateListener is notified of session state transitions on a channel.
type StateListener interface {
	OnSessionStateChanged(state SessionState)
}

// Listeners holds the registered state listeners of a channel.
type Listeners struct {
	mu    sync.RWMutex
	items []StateListener
}

// Add registers a listener.
func (l *Listeners) Add(s StateListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, s)
}

// Remove deregisters a listener by identity.
func (l *Listeners) Remove(s StateListener) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for idx, item := range l.items {
		if item == s {
			l.items = append(l.items[:idx], l.items[idx+1:]...)
			return true
		}
	}
	return false
}

// Notify invokes every registered listener with the new state.
// Listeners run synchronously, outside of any channel lock.
func (l *Listeners) Notify(state SessionState) {
	l.mu.RLock()
	items := make([]StateListener, len(l.items))
	copy(items, l.items)
	l.mu.RUnlock()

	for _, s := range items {
		s.OnSessionStateChanged(state)
	}
}

// Interceptors bundles the four interception registries and the state
// listener registry a channel exposes. Channel implementations embed it.
type Interceptors struct {
	outMsg Registry[envelope.Message]
	inMsg  Registry[envelope.Message]
	outNtf Registry[envelope.Notification]
	inNtf  Registry[envelope.Notification]

	listeners Listeners
}

// OutgoingMessages returns the outgoing message interception registry.
func (i *Interceptors) OutgoingMessages() *Registry[envelope.Message] { return &i.outMsg }

// IncomingMessages returns the incoming message interception registry.
func (i *Interceptors) IncomingMessages() *Registry[envelope.Message] { return &i.inMsg }

// OutgoingNotifications returns the outgoing notification interception registry.
func (i *Interceptors) OutgoingNotifications() *Registry[envelope.Notification] { return &i.outNtf }

// IncomingNotifications returns the incoming notification interception registry.
func (i *Interceptors) IncomingNotifications() *Registry[envelope.Notification] { return &i.inNtf }

// StateListeners returns the session state listener registry.
func (i *Interceptors) StateListeners() *Listeners { return &i.listeners }
