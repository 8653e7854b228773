// Package broadcast fans domain events out to the sessions joined to a room.
package broadcast

import (
	"sync"

	"github.com/labstack/gommon/log"

	"syncwatch.app/protocol"
)

type Sender interface {
	Send(p []byte) error
}

// Members resolves the participant ids of a room.
type Members interface {
	Participants(roomID string) ([]string, error)
}

type Router struct {
	members Members

	mu       sync.RWMutex
	sessions map[string]Sender
}

func New(members Members) *Router {
	return &Router{
		members:  members,
		sessions: make(map[string]Sender),
	}
}

func (r *Router) Register(id string, s Sender) {
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
}

func (r *Router) Unregister(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Send delivers m to a single session.
func (r *Router) Send(id string, m protocol.Outbound) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.Send(b)
}

// Broadcast delivers m to every participant of the room at call time, the
// originator included. Per-recipient failures are logged and skipped. It
// returns the number of successful deliveries.
func (r *Router) Broadcast(roomID string, m protocol.Outbound) int {
	b, err := protocol.Encode(m)
	if err != nil {
		log.Errorf("encode %s for room %s: %v", m.Type(), roomID, err)
		return 0
	}

	ids, err := r.members.Participants(roomID)
	if err != nil {
		log.Debugf("broadcast %s to room %s: %v", m.Type(), roomID, err)
		return 0
	}

	type target struct {
		id string
		s  Sender
	}
	targets := make([]target, 0, len(ids))
	r.mu.RLock()
	for _, id := range ids {
		if s, ok := r.sessions[id]; ok {
			targets = append(targets, target{id: id, s: s})
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, t := range targets {
		if err := t.s.Send(b); err != nil {
			log.Warnf("deliver %s to %s in room %s: %v", m.Type(), t.id, roomID, err)
			continue
		}
		delivered++
	}
	return delivered
}
