// Package runtime hosts the in-memory presence table and the delivery
// engine that drives message status transitions. It holds no transport
// details; connections appear here only as event sinks.
package runtime

import (
	"sync"

	"chat-relay/contract"
)

// Presence maps a user id to their single live connection. It is the
// only shared in-memory state of the server and is rebuilt empty on
// every process start.
type Presence struct {
	mu       sync.RWMutex
	sessions map[string]contract.EventSink
}

func NewPresence() *Presence {
	return &Presence{sessions: make(map[string]contract.EventSink)}
}

// Register stores the sink as the user's current connection, replacing
// any previous one. The superseded sink is returned so the caller can
// notify and close it; at most one live channel per user is kept.
func (p *Presence) Register(userID string, sink contract.EventSink) contract.EventSink {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.sessions[userID]
	p.sessions[userID] = sink
	if prev == sink {
		return nil
	}
	return prev
}

// Lookup returns the user's current connection, if any.
func (p *Presence) Lookup(userID string) (contract.EventSink, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sink, ok := p.sessions[userID]
	return sink, ok
}

// Deregister removes the entry only when it still points at the given
// sink. The check and the delete happen under one lock, so a teardown
// racing a reconnect can never evict the newer connection.
func (p *Presence) Deregister(userID string, sink contract.EventSink) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.sessions[userID]
	if !ok || current != sink {
		return false
	}
	delete(p.sessions, userID)
	return true
}

// Others returns the sinks of every connected user except the given one,
// used for presence-change broadcasts.
func (p *Presence) Others(userID string) []contract.EventSink {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var sinks []contract.EventSink
	for id, sink := range p.sessions {
		if id == userID {
			continue
		}
		sinks = append(sinks, sink)
	}
	return sinks
}

// Count returns the number of users currently online.
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.sessions)
}
