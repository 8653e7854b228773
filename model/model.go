package model

import (
	"time"
)

type (
	Role           string
	PlaybackAction string
)

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"

	ActionPlay  PlaybackAction = "play"
	ActionPause PlaybackAction = "pause"
)

type (
	Room struct {
		ID           string                 `json:"roomId"`
		VideoURL     string                 `json:"url,omitempty"`
		Participants map[string]Participant `json:"-"`
		Playback     PlaybackState          `json:"playback"`
		Chat         []ChatMessage          `json:"messages"`
		CreatedAt    time.Time              `json:"-"`
	}

	// Participant is the registry's handle for a connected session.
	Participant struct {
		ID       string    `json:"id"`
		Role     Role      `json:"role"`
		JoinedAt time.Time `json:"joined_at"`
	}

	PlaybackState struct {
		IsPlaying   bool      `json:"isPlaying"`
		Position    float64   `json:"currentTime"`
		LastUpdated time.Time `json:"lastUpdated"`
	}

	ChatMessage struct {
		AuthorID  string    `json:"userId"`
		Text      string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	}
)

func (a PlaybackAction) Valid() bool {
	return a == ActionPlay || a == ActionPause
}

// PositionAt extrapolates the playback position to t while playing.
func (p PlaybackState) PositionAt(t time.Time) float64 {
	if !p.IsPlaying || p.LastUpdated.IsZero() || t.Before(p.LastUpdated) {
		return p.Position
	}
	return p.Position + t.Sub(p.LastUpdated).Seconds()
}

// Empty reports whether nobody is currently joined.
func (r *Room) Empty() bool {
	return len(r.Participants) == 0
}

// Clone returns a deep copy safe to hand out of the registry lock.
func (r *Room) Clone() Room {
	c := *r
	c.Participants = make(map[string]Participant, len(r.Participants))
	for id, p := range r.Participants {
		c.Participants[id] = p
	}
	c.Chat = make([]ChatMessage, len(r.Chat))
	copy(c.Chat, r.Chat)
	return c
}
