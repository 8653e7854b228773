// Package registry owns the in-memory set of rooms and their participants.
// Every operation runs under a single mutex so membership changes, state
// updates and empty-room teardown are serialized.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"syncwatch.app/model"
	"syncwatch.app/pkg/utils"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotParticipant = errors.New("not in room")
)

const (
	minIDLength = 5
	maxIDLength = 15
)

type Registry struct {
	mu        sync.Mutex
	rooms     map[string]*model.Room
	chatLimit int
	now       func() time.Time
}

type Option func(*Registry)

// WithChatLimit bounds every room's chat log to the n most recent entries.
// Zero keeps the log unbounded.
func WithChatLimit(n int) Option {
	return func(r *Registry) {
		if n >= 0 {
			r.chatLimit = n
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		rooms: make(map[string]*model.Room),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateRoom inserts an empty room under a fresh identifier and returns it.
func (r *Registry) CreateRoom() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id string
	for n := minIDLength; id == ""; n++ {
		if n > maxIDLength {
			n = maxIDLength
		}
		candidate := utils.RandString(n)
		if _, exists := r.rooms[candidate]; !exists {
			id = candidate
		}
	}

	r.rooms[id] = &model.Room{
		ID:           id,
		Participants: make(map[string]model.Participant),
		CreatedAt:    r.now(),
	}
	log.Infof("room %s created", id)
	return id
}

// GetRoom returns a snapshot of the room.
func (r *Registry) GetRoom(id string) (model.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return model.Room{}, ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (r *Registry) AddParticipant(roomID string, p model.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = r.now()
	}
	room.Participants[p.ID] = p
	log.Infof("participant %s joined room %s (total: %d)", p.ID, roomID, len(room.Participants))
	return nil
}

// RemoveParticipant drops the participant from the room and deletes the room
// once it is empty. Removing an absent participant, or from an absent room, is
// a no-op. It reports whether the room was deleted by this call.
func (r *Registry) RemoveParticipant(roomID, participantID string) (deleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := room.Participants[participantID]; !ok {
		return false
	}
	delete(room.Participants, participantID)
	if room.Empty() {
		delete(r.rooms, roomID)
		log.Infof("room %s closed (empty)", roomID)
		return true
	}
	log.Infof("participant %s left room %s (remaining: %d)", participantID, roomID, len(room.Participants))
	return false
}

// IsParticipant reports ErrRoomNotFound for a missing room and
// ErrNotParticipant when the room exists without the participant.
func (r *Registry) IsParticipant(roomID, participantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if _, ok := room.Participants[participantID]; !ok {
		return ErrNotParticipant
	}
	return nil
}

// Participants returns the ids currently joined to the room.
func (r *Registry) Participants(roomID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	ids := make([]string, 0, len(room.Participants))
	for id := range room.Participants {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Registry) SetVideoSource(roomID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	room.VideoURL = url
	return nil
}

// RecordPlayback overwrites the room's playback state. Last writer wins.
func (r *Registry) RecordPlayback(roomID string, action model.PlaybackAction, position float64) (model.PlaybackState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return model.PlaybackState{}, ErrRoomNotFound
	}
	room.Playback = model.PlaybackState{
		IsPlaying:   action == model.ActionPlay,
		Position:    position,
		LastUpdated: r.now(),
	}
	return room.Playback, nil
}

// AppendChat adds msg to the room's log, evicting the oldest entries beyond
// the configured limit. A zero timestamp is stamped with the registry clock.
func (r *Registry) AppendChat(roomID string, msg model.ChatMessage) (model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return model.ChatMessage{}, ErrRoomNotFound
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now()
	}
	room.Chat = append(room.Chat, msg)
	if r.chatLimit > 0 && len(room.Chat) > r.chatLimit {
		overflow := len(room.Chat) - r.chatLimit
		copy(room.Chat, room.Chat[overflow:])
		for i := r.chatLimit; i < len(room.Chat); i++ {
			room.Chat[i] = model.ChatMessage{}
		}
		room.Chat = room.Chat[:r.chatLimit]
	}
	return msg, nil
}

// ReapEmpty deletes rooms that nobody joined within maxAge of their creation.
func (r *Registry) ReapEmpty(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []string
	cutoff := r.now().Add(-maxAge)
	for id, room := range r.rooms {
		if room.Empty() && room.CreatedAt.Before(cutoff) {
			delete(r.rooms, id)
			reaped = append(reaped, id)
		}
	}
	if len(reaped) > 0 {
		log.Infof("reaped %d empty rooms", len(reaped))
	}
	return reaped
}

// Stats returns the number of rooms and joined participants.
func (r *Registry) Stats() (rooms, participants int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, room := range r.rooms {
		participants += len(room.Participants)
	}
	return len(r.rooms), participants
}
