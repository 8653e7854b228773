package protocol

import (
	"syncwatch.app/model"
)

// Client -> Server

type Create struct{}

type Join struct {
	RoomID string
}

type SetVideoURL struct {
	RoomID string
	URL    string
}

type Chat struct {
	RoomID  string
	Message string
	UserID  string
}

// Playback is a play or pause intent.
type Playback struct {
	RoomID      string
	Action      model.PlaybackAction
	CurrentTime float64
	UserID      string
}

func (Create) Type() string      { return TypeCreate }
func (Join) Type() string        { return TypeJoin }
func (SetVideoURL) Type() string { return TypeSetVideoURL }
func (Chat) Type() string        { return TypeMessage }
func (p Playback) Type() string  { return string(p.Action) }

func (Create) inbound()      {}
func (Join) inbound()        {}
func (SetVideoURL) inbound() {}
func (Chat) inbound()        {}
func (Playback) inbound()    {}

func (m Create) envelope() envelope {
	return envelope{Type: m.Type()}
}

func (m Join) envelope() envelope {
	return envelope{Type: m.Type(), RoomID: m.RoomID}
}

func (m SetVideoURL) envelope() envelope {
	return envelope{Type: m.Type(), RoomID: m.RoomID, URL: m.URL}
}

func (m Chat) envelope() envelope {
	return envelope{Type: m.Type(), RoomID: m.RoomID, Message: m.Message, UserID: m.UserID}
}

func (m Playback) envelope() envelope {
	return envelope{Type: m.Type(), RoomID: m.RoomID, CurrentTime: seconds(m.CurrentTime), UserID: m.UserID}
}

// Server -> Client

type Created struct {
	RoomID   string
	ClientID string
}

type Joined struct {
	RoomID   string
	ClientID string
	Role     model.Role
	URL      string
}

// RoomState catches a new participant up with the room.
type RoomState struct {
	RoomID   string
	ClientID string
	URL      string
	Playback PlaybackState
	Messages []ChatEntry
}

type VideoURLChanged struct {
	RoomID string
	URL    string
}

type ChatReceived struct {
	RoomID    string
	Message   string
	UserID    string
	Timestamp int64
}

// VideoSync is a playback directive relayed to every participant.
type VideoSync struct {
	RoomID      string
	Action      model.PlaybackAction
	CurrentTime float64
	UserID      string
}

type Left struct {
	RoomID   string
	ClientID string
}

type Error struct {
	Reason string
}

func (Created) Type() string         { return TypeCreated }
func (Joined) Type() string          { return TypeJoined }
func (RoomState) Type() string       { return TypeState }
func (VideoURLChanged) Type() string { return TypeSetVideoURL }
func (ChatReceived) Type() string    { return TypeMessageReceived }
func (VideoSync) Type() string       { return TypeVideoSync }
func (Left) Type() string            { return TypeLeft }
func (Error) Type() string           { return TypeError }

func (Created) outbound()         {}
func (Joined) outbound()          {}
func (RoomState) outbound()       {}
func (VideoURLChanged) outbound() {}
func (ChatReceived) outbound()    {}
func (VideoSync) outbound()       {}
func (Left) outbound()            {}
func (Error) outbound()           {}

func (m Created) envelope() envelope {
	return envelope{Type: m.Type(), RoomID: m.RoomID, ClientID: m.ClientID}
}

func (m Joined) envelope() envelope {
	return envelope{Type: m.Type(), RoomID: m.RoomID, ClientID: m.ClientID, Role: string(m.Role), URL: m.URL}
}

func (m RoomState) envelope() envelope {
	playback := m.Playback
	return envelope{
		Type:     m.Type(),
		RoomID:   m.RoomID,
		ClientID: m.ClientID,
		URL:      m.URL,
		Playback: &playback,
		Messages: m.Messages,
	}
}

func (m VideoURLChanged) envelope() envelope {
	return envelope{Type: m.Type(), RoomID: m.RoomID, URL: m.URL}
}

func (m ChatReceived) envelope() envelope {
	return envelope{Type: m.Type(), RoomID: m.RoomID, Message: m.Message, UserID: m.UserID, Timestamp: m.Timestamp}
}

func (m VideoSync) envelope() envelope {
	return envelope{
		Type:        m.Type(),
		RoomID:      m.RoomID,
		Action:      string(m.Action),
		CurrentTime: seconds(m.CurrentTime),
		UserID:      m.UserID,
	}
}

func (m Left) envelope() envelope {
	return envelope{Type: m.Type(), RoomID: m.RoomID, ClientID: m.ClientID}
}

func (m Error) envelope() envelope {
	return envelope{Type: m.Type(), Message: m.Reason}
}

// NewRoomState builds the catch-up message for clientID from a registry
// snapshot. position is the playback position the joiner should seek to.
func NewRoomState(room model.Room, clientID string, position float64) RoomState {
	s := RoomState{
		RoomID:   room.ID,
		ClientID: clientID,
		URL:      room.VideoURL,
		Playback: PlaybackState{
			IsPlaying:   room.Playback.IsPlaying,
			CurrentTime: position,
		},
		Messages: make([]ChatEntry, 0, len(room.Chat)),
	}
	if !room.Playback.LastUpdated.IsZero() {
		s.Playback.LastUpdated = room.Playback.LastUpdated.UnixMilli()
	}
	for _, m := range room.Chat {
		s.Messages = append(s.Messages, ChatEntry{
			Message:   m.Text,
			UserID:    m.AuthorID,
			Timestamp: m.Timestamp.UnixMilli(),
		})
	}
	return s
}
