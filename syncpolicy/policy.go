// Package syncpolicy decides, on the participant side, when a received
// playback directive is applied to the local player and when a local player
// notification is broadcast as an intent.
//
// Two filters prevent echo loops. Directives authored by the local
// participant are discarded. Notifications caused by applying a directive are
// swallowed through a single pending slot armed right before the
// programmatic play or pause.
package syncpolicy

import (
	"math"
	"sync"

	"syncwatch.app/model"
	"syncwatch.app/protocol"
)

// DefaultDriftThreshold is the position difference, in seconds, tolerated
// before a directive forces a seek.
const DefaultDriftThreshold = 1.0

// Player is the local video element.
type Player interface {
	CurrentTime() float64
	Paused() bool
	Seek(position float64)
	Play()
	Pause()
}

// Emitter sends an intent to the room.
type Emitter func(protocol.Playback)

type State int

const (
	Idle State = iota
	ApplyingSync
)

func (s State) String() string {
	if s == ApplyingSync {
		return "applying-sync"
	}
	return "idle"
}

// Outcome describes what ApplyDirective did to the player.
type Outcome struct {
	Ignored bool
	Seeked  bool
	Toggled bool
}

type Policy struct {
	player    Player
	emit      Emitter
	threshold float64

	mu      sync.Mutex
	selfID  string
	roomID  string
	pending model.PlaybackAction
}

type Option func(*Policy)

func WithDriftThreshold(seconds float64) Option {
	return func(p *Policy) {
		if seconds >= 0 {
			p.threshold = seconds
		}
	}
}

func New(player Player, emit Emitter, opts ...Option) *Policy {
	p := &Policy{
		player:    player,
		emit:      emit,
		threshold: DefaultDriftThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetIdentity binds the policy to the local participant and its room. It is
// called once the server acknowledges create or join.
func (p *Policy) SetIdentity(selfID, roomID string) {
	p.mu.Lock()
	p.selfID = selfID
	p.roomID = roomID
	p.mu.Unlock()
}

func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != "" {
		return ApplyingSync
	}
	return Idle
}

// ApplyDirective conforms the player to a directive from another participant.
// Position is corrected only beyond the drift threshold. The pending slot is
// armed only when play/pause state actually changes, since only then will the
// player report a notification.
func (p *Policy) ApplyDirective(d protocol.VideoSync) Outcome {
	p.mu.Lock()
	if d.UserID != "" && d.UserID == p.selfID {
		p.mu.Unlock()
		return Outcome{Ignored: true}
	}
	if p.roomID != "" && d.RoomID != "" && d.RoomID != p.roomID {
		p.mu.Unlock()
		return Outcome{Ignored: true}
	}

	out := Outcome{
		Seeked:  math.Abs(p.player.CurrentTime()-d.CurrentTime) > p.threshold,
		Toggled: (d.Action == model.ActionPlay) == p.player.Paused(),
	}
	if out.Toggled {
		p.pending = d.Action
	}
	p.mu.Unlock()

	if out.Seeked {
		p.player.Seek(d.CurrentTime)
	}
	if out.Toggled {
		if d.Action == model.ActionPlay {
			p.player.Play()
		} else {
			p.player.Pause()
		}
	}
	return out
}

// OnPlayerEvent handles a play or pause notification from the player and
// reports whether it was emitted as an intent.
func (p *Policy) OnPlayerEvent(action model.PlaybackAction) bool {
	p.mu.Lock()
	if p.pending != "" {
		if action == p.pending {
			p.pending = ""
		}
		p.mu.Unlock()
		return false
	}
	intent := protocol.Playback{
		RoomID:      p.roomID,
		Action:      action,
		CurrentTime: p.player.CurrentTime(),
		UserID:      p.selfID,
	}
	p.mu.Unlock()

	if p.emit != nil {
		p.emit(intent)
	}
	return true
}
