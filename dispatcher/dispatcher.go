// Package dispatcher validates inbound protocol messages against the room
// registry, applies the resulting mutation and fans the outcome out.
package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"

	"syncwatch.app/broadcast"
	"syncwatch.app/model"
	"syncwatch.app/pkg/utils"
	"syncwatch.app/protocol"
	"syncwatch.app/registry"
	"syncwatch.app/session"
)

const maxChatLength = 2000

// Reasons carried by protocol.Error.
const (
	ReasonRoomNotFound = "room not found"
	ReasonNotInRoom    = "not in room"
)

type Dispatcher struct {
	rooms         *registry.Registry
	router        *broadcast.Router
	now           func() time.Time
	onRoomCreated func(roomID string)
}

type Option func(*Dispatcher)

// WithClock replaces time.Now for chat timestamps and playback extrapolation.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// OnRoomCreated registers a hook called after every successful create.
func OnRoomCreated(fn func(roomID string)) Option {
	return func(d *Dispatcher) {
		d.onRoomCreated = fn
	}
}

func New(rooms *registry.Registry, router *broadcast.Router, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		rooms:  rooms,
		router: router,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect makes s reachable by broadcasts.
func (d *Dispatcher) Connect(s *session.Session) {
	d.router.Register(s.ID, s)
	log.Debugf("session %s connected", s.ID)
}

// Disconnect removes s from its room, tearing the room down if it was the
// last participant.
func (d *Dispatcher) Disconnect(s *session.Session) {
	d.leave(s)
	d.router.Unregister(s.ID)
	log.Debugf("session %s disconnected", s.ID)
}

// Handle parses a raw frame and dispatches it. Frames that cannot be parsed
// are logged and dropped.
func (d *Dispatcher) Handle(s *session.Session, raw []byte) {
	msg, err := protocol.ParseInbound(raw)
	switch {
	case errors.Is(err, protocol.ErrInvalid):
		log.Warnf("session %s: %v", s.ID, err)
		d.reply(s, protocol.Error{Reason: err.Error()})
		return
	case err != nil:
		log.Debugf("session %s: dropping frame: %v", s.ID, err)
		return
	}
	d.Dispatch(s, msg)
}

func (d *Dispatcher) Dispatch(s *session.Session, msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.Create:
		d.create(s)
	case protocol.Join:
		d.join(s, m)
	case protocol.SetVideoURL:
		d.setVideoURL(s, m)
	case protocol.Chat:
		d.chat(s, m)
	case protocol.Playback:
		d.playback(s, m)
	default:
		log.Warnf("session %s: unhandled message %T", s.ID, msg)
	}
}

func (d *Dispatcher) create(s *session.Session) {
	d.leave(s)

	roomID := d.rooms.CreateRoom()
	if err := d.rooms.AddParticipant(roomID, model.Participant{ID: s.ID, Role: model.RoleHost}); err != nil {
		d.fail(s, err)
		return
	}
	s.Join(roomID, model.RoleHost)
	d.reply(s, protocol.Created{RoomID: roomID, ClientID: s.ID})

	if d.onRoomCreated != nil {
		d.onRoomCreated(roomID)
	}
}

func (d *Dispatcher) join(s *session.Session, m protocol.Join) {
	if s.RoomID() == m.RoomID && m.RoomID != "" {
		room, err := d.rooms.GetRoom(m.RoomID)
		if err != nil {
			d.fail(s, err)
			return
		}
		d.reply(s, protocol.Joined{RoomID: room.ID, ClientID: s.ID, Role: s.Role(), URL: room.VideoURL})
		return
	}

	if err := d.rooms.AddParticipant(m.RoomID, model.Participant{ID: s.ID, Role: model.RoleGuest}); err != nil {
		d.fail(s, err)
		return
	}
	d.leave(s)
	s.Join(m.RoomID, model.RoleGuest)

	room, err := d.rooms.GetRoom(m.RoomID)
	if err != nil {
		d.fail(s, err)
		return
	}
	d.router.Broadcast(room.ID, protocol.Joined{
		RoomID:   room.ID,
		ClientID: s.ID,
		Role:     model.RoleGuest,
		URL:      room.VideoURL,
	})
	d.reply(s, protocol.NewRoomState(room, s.ID, room.Playback.PositionAt(d.now())))
}

func (d *Dispatcher) setVideoURL(s *session.Session, m protocol.SetVideoURL) {
	if err := d.rooms.IsParticipant(m.RoomID, s.ID); err != nil {
		d.fail(s, err)
		return
	}
	if err := d.rooms.SetVideoSource(m.RoomID, m.URL); err != nil {
		d.fail(s, err)
		return
	}
	d.router.Broadcast(m.RoomID, protocol.VideoURLChanged{RoomID: m.RoomID, URL: m.URL})
}

func (d *Dispatcher) chat(s *session.Session, m protocol.Chat) {
	if !utils.IsLengthValid(m.Message, 1, maxChatLength) {
		d.reply(s, protocol.Error{Reason: fmt.Sprintf("%v: message exceeds %d characters", protocol.ErrInvalid, maxChatLength)})
		return
	}
	if err := d.rooms.IsParticipant(m.RoomID, s.ID); err != nil {
		d.fail(s, err)
		return
	}

	entry, err := d.rooms.AppendChat(m.RoomID, model.ChatMessage{
		AuthorID:  authorOf(s, m.UserID),
		Text:      m.Message,
		Timestamp: d.now(),
	})
	if err != nil {
		d.fail(s, err)
		return
	}
	d.router.Broadcast(m.RoomID, protocol.ChatReceived{
		RoomID:    m.RoomID,
		Message:   entry.Text,
		UserID:    entry.AuthorID,
		Timestamp: entry.Timestamp.UnixMilli(),
	})
}

func (d *Dispatcher) playback(s *session.Session, m protocol.Playback) {
	if err := d.rooms.IsParticipant(m.RoomID, s.ID); err != nil {
		d.fail(s, err)
		return
	}
	state, err := d.rooms.RecordPlayback(m.RoomID, m.Action, m.CurrentTime)
	if err != nil {
		d.fail(s, err)
		return
	}
	d.router.Broadcast(m.RoomID, protocol.VideoSync{
		RoomID:      m.RoomID,
		Action:      m.Action,
		CurrentTime: state.Position,
		UserID:      authorOf(s, m.UserID),
	})
}

func (d *Dispatcher) leave(s *session.Session) {
	roomID := s.Leave()
	if roomID == "" {
		return
	}
	if deleted := d.rooms.RemoveParticipant(roomID, s.ID); !deleted {
		d.router.Broadcast(roomID, protocol.Left{RoomID: roomID, ClientID: s.ID})
	}
}

func (d *Dispatcher) fail(s *session.Session, err error) {
	switch {
	case errors.Is(err, registry.ErrRoomNotFound):
		d.reply(s, protocol.Error{Reason: ReasonRoomNotFound})
	case errors.Is(err, registry.ErrNotParticipant):
		d.reply(s, protocol.Error{Reason: ReasonNotInRoom})
	default:
		log.Error(err)
		d.reply(s, protocol.Error{Reason: err.Error()})
	}
}

func (d *Dispatcher) reply(s *session.Session, m protocol.Outbound) {
	if err := d.router.Send(s.ID, m); err != nil {
		log.Warnf("reply %s to %s: %v", m.Type(), s.ID, err)
	}
}

func authorOf(s *session.Session, userID string) string {
	if userID != "" {
		return userID
	}
	return s.ID
}
