// Package protocol defines the JSON messages exchanged over the websocket.
// Every frame is one object with a "type" discriminator. Frames are parsed
// once at the boundary into a closed set of Go types.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"syncwatch.app/model"
)

// Inbound message types.
const (
	TypeCreate      = "create"
	TypeJoin        = "join"
	TypeSetVideoURL = "setVideoUrl"
	TypeMessage     = "message"
	TypePlay        = "play"
	TypePause       = "pause"
)

// Outbound message types. setVideoUrl is shared with the inbound set.
const (
	TypeCreated         = "created"
	TypeJoined          = "joined"
	TypeState           = "state"
	TypeMessageReceived = "messageReceived"
	TypeVideoSync       = "videoSync"
	TypeLeft            = "left"
	TypeError           = "error"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
	ErrInvalid     = errors.New("invalid message")
)

type Message interface {
	Type() string
	envelope() envelope
}

type Inbound interface {
	Message
	inbound()
}

type Outbound interface {
	Message
	outbound()
}

type PlaybackState struct {
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	LastUpdated int64   `json:"lastUpdated"`
}

type ChatEntry struct {
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// envelope is the flat wire shape shared by every message type.
type envelope struct {
	Type        string         `json:"type"`
	RoomID      string         `json:"roomId,omitempty"`
	ClientID    string         `json:"clientId,omitempty"`
	Role        string         `json:"role,omitempty"`
	URL         string         `json:"url,omitempty"`
	VideoURL    string         `json:"videoUrl,omitempty"`
	Message     string         `json:"message,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	Timestamp   int64          `json:"timestamp,omitempty"`
	Action      string         `json:"action,omitempty"`
	CurrentTime *float64       `json:"currentTime,omitempty"`
	Playback    *PlaybackState `json:"playback,omitempty"`
	Messages    []ChatEntry    `json:"messages,omitempty"`
}

func (e envelope) currentTime() (float64, error) {
	if e.CurrentTime == nil {
		return 0, invalid("currentTime is required")
	}
	if *e.CurrentTime < 0 {
		return 0, invalid("currentTime must not be negative")
	}
	return *e.CurrentTime, nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, reason)
}

func seconds(v float64) *float64 {
	return &v
}

// Encode serializes m into a single JSON object.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m.envelope())
}

func decode(b []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.Type == "" {
		return e, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return e, nil
}

// ParseInbound decodes a client frame. ErrMalformed and ErrUnknownType mean
// the frame should be dropped; ErrInvalid means a known type carried bad
// fields and the sender can be told why.
func ParseInbound(b []byte) (Inbound, error) {
	e, err := decode(b)
	if err != nil {
		return nil, err
	}

	switch e.Type {
	case TypeCreate:
		return Create{}, nil
	case TypeJoin:
		return Join{RoomID: e.RoomID}, nil
	case TypeSetVideoURL:
		url := strings.TrimSpace(e.URL)
		if url == "" {
			url = strings.TrimSpace(e.VideoURL)
		}
		if url == "" {
			return nil, invalid("url is required")
		}
		return SetVideoURL{RoomID: e.RoomID, URL: url}, nil
	case TypeMessage:
		if strings.TrimSpace(e.Message) == "" {
			return nil, invalid("message is required")
		}
		return Chat{RoomID: e.RoomID, Message: e.Message, UserID: e.UserID}, nil
	case TypePlay, TypePause:
		pos, err := e.currentTime()
		if err != nil {
			return nil, err
		}
		return Playback{
			RoomID:      e.RoomID,
			Action:      model.PlaybackAction(e.Type),
			CurrentTime: pos,
			UserID:      e.UserID,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
}

// ParseOutbound decodes a server frame on the client side.
func ParseOutbound(b []byte) (Outbound, error) {
	e, err := decode(b)
	if err != nil {
		return nil, err
	}

	switch e.Type {
	case TypeCreated:
		return Created{RoomID: e.RoomID, ClientID: e.ClientID}, nil
	case TypeJoined:
		return Joined{RoomID: e.RoomID, ClientID: e.ClientID, Role: model.Role(e.Role), URL: e.URL}, nil
	case TypeState:
		s := RoomState{RoomID: e.RoomID, ClientID: e.ClientID, URL: e.URL, Messages: e.Messages}
		if e.Playback != nil {
			s.Playback = *e.Playback
		}
		return s, nil
	case TypeSetVideoURL:
		return VideoURLChanged{RoomID: e.RoomID, URL: e.URL}, nil
	case TypeMessageReceived:
		return ChatReceived{RoomID: e.RoomID, Message: e.Message, UserID: e.UserID, Timestamp: e.Timestamp}, nil
	case TypeVideoSync:
		action := model.PlaybackAction(e.Action)
		if !action.Valid() {
			return nil, invalid("unknown action " + e.Action)
		}
		pos, err := e.currentTime()
		if err != nil {
			return nil, err
		}
		return VideoSync{RoomID: e.RoomID, Action: action, CurrentTime: pos, UserID: e.UserID}, nil
	case TypeLeft:
		return Left{RoomID: e.RoomID, ClientID: e.ClientID}, nil
	case TypeError:
		return Error{Reason: e.Message}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
}
