// Package session tracks one connected participant: its identity, role and
// the room it has joined, if any.
package session

import (
	"sync"

	"github.com/google/uuid"

	"syncwatch.app/model"
)

type Sender interface {
	Send(p []byte) error
}

type Session struct {
	ID   string
	conn Sender

	mu     sync.Mutex
	roomID string
	role   model.Role
}

// New creates an unjoined session with a fresh identifier.
func New(conn Sender) *Session {
	return &Session{
		ID:   uuid.NewString(),
		conn: conn,
	}
}

func (s *Session) Send(p []byte) error {
	return s.conn.Send(p)
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) Role() model.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) Joined() bool {
	return s.RoomID() != ""
}

func (s *Session) Join(roomID string, role model.Role) {
	s.mu.Lock()
	s.roomID = roomID
	s.role = role
	s.mu.Unlock()
}

// Leave clears the membership and returns the room that was joined.
func (s *Session) Leave() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID := s.roomID
	s.roomID = ""
	s.role = ""
	return roomID
}
