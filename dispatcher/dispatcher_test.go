package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncwatch.app/broadcast"
	"syncwatch.app/model"
	"syncwatch.app/protocol"
	"syncwatch.app/registry"
	"syncwatch.app/session"
)

type inbox struct {
	mu   sync.Mutex
	msgs []protocol.Outbound
}

func (in *inbox) Send(p []byte) error {
	m, err := protocol.ParseOutbound(p)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.msgs = append(in.msgs, m)
	in.mu.Unlock()
	return nil
}

// drain returns and forgets everything received so far.
func (in *inbox) drain() []protocol.Outbound {
	in.mu.Lock()
	defer in.mu.Unlock()
	msgs := in.msgs
	in.msgs = nil
	return msgs
}

type peer struct {
	*session.Session
	in *inbox
}

type harness struct {
	rooms   *registry.Registry
	d       *Dispatcher
	now     time.Time
	created []string
}

func newHarness() *harness {
	h := &harness{now: time.UnixMilli(1_700_000_000_000)}
	h.rooms = registry.New(registry.WithClock(h.clock))
	h.d = New(h.rooms, broadcast.New(h.rooms),
		WithClock(h.clock),
		OnRoomCreated(func(id string) { h.created = append(h.created, id) }),
	)
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) connect() *peer {
	in := &inbox{}
	p := &peer{Session: session.New(in), in: in}
	h.d.Connect(p.Session)
	return p
}

func (h *harness) send(p *peer, raw string) {
	h.d.Handle(p.Session, []byte(raw))
}

func (h *harness) createRoom(t *testing.T, p *peer) string {
	t.Helper()
	h.d.Dispatch(p.Session, protocol.Create{})
	msgs := p.in.drain()
	require.Len(t, msgs, 1)
	created, ok := msgs[0].(protocol.Created)
	require.True(t, ok, "expected created, got %T", msgs[0])
	return created.RoomID
}

func TestCreateRepliesToSenderOnly(t *testing.T) {
	h := newHarness()
	a, b := h.connect(), h.connect()

	h.send(a, `{"type":"create"}`)
	msgs := a.in.drain()
	require.Len(t, msgs, 1)
	created := msgs[0].(protocol.Created)
	assert.NotEmpty(t, created.RoomID)
	assert.Equal(t, a.ID, created.ClientID)
	assert.Empty(t, b.in.drain())

	assert.Equal(t, created.RoomID, a.RoomID())
	assert.Equal(t, model.RoleHost, a.Role())
	assert.Equal(t, []string{created.RoomID}, h.created)

	room, err := h.rooms.GetRoom(created.RoomID)
	require.NoError(t, err)
	assert.Contains(t, room.Participants, a.ID)
}

func TestJoinMissingRoom(t *testing.T) {
	h := newHarness()
	a := h.connect()

	h.send(a, `{"type":"join","roomId":"nope"}`)
	assert.Equal(t, []protocol.Outbound{protocol.Error{Reason: ReasonRoomNotFound}}, a.in.drain())
	assert.False(t, a.Joined())

	rooms, _ := h.rooms.Stats()
	assert.Equal(t, 0, rooms)
}

func TestJoinBroadcastsAndSendsState(t *testing.T) {
	h := newHarness()
	a, b := h.connect(), h.connect()
	roomID := h.createRoom(t, a)

	h.send(a, `{"type":"setVideoUrl","roomId":"`+roomID+`","url":"http://x/video.mp4"}`)
	h.send(a, `{"type":"message","roomId":"`+roomID+`","message":"hello","userId":"A"}`)
	h.send(a, `{"type":"play","roomId":"`+roomID+`","currentTime":10,"userId":"A"}`)
	a.in.drain()

	h.now = h.now.Add(5 * time.Second)
	h.send(b, `{"type":"join","roomId":"`+roomID+`"}`)

	joined := protocol.Joined{RoomID: roomID, ClientID: b.ID, Role: model.RoleGuest, URL: "http://x/video.mp4"}
	assert.Equal(t, []protocol.Outbound{joined}, a.in.drain())

	msgs := b.in.drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, joined, msgs[0])
	state := msgs[1].(protocol.RoomState)
	assert.Equal(t, "http://x/video.mp4", state.URL)
	assert.True(t, state.Playback.IsPlaying)
	assert.InDelta(t, 15.0, state.Playback.CurrentTime, 1e-9)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "hello", state.Messages[0].Message)
}

func TestSetVideoURLFanOutIncludesSender(t *testing.T) {
	h := newHarness()
	host := h.connect()
	roomID := h.createRoom(t, host)

	peers := []*peer{host}
	for i := 0; i < 3; i++ {
		p := h.connect()
		h.d.Dispatch(p.Session, protocol.Join{RoomID: roomID})
		peers = append(peers, p)
	}
	for _, p := range peers {
		p.in.drain()
	}

	h.send(peers[2], `{"type":"setVideoUrl","roomId":"`+roomID+`","url":"http://x/video.mp4"}`)

	want := protocol.VideoURLChanged{RoomID: roomID, URL: "http://x/video.mp4"}
	for _, p := range peers {
		assert.Equal(t, []protocol.Outbound{want}, p.in.drain())
	}
	room, err := h.rooms.GetRoom(roomID)
	require.NoError(t, err)
	assert.Equal(t, "http://x/video.mp4", room.VideoURL)
}

func TestChatStampsServerTimestamp(t *testing.T) {
	h := newHarness()
	a := h.connect()
	roomID := h.createRoom(t, a)

	h.send(a, `{"type":"message","roomId":"`+roomID+`","message":"hi","userId":"A","timestamp":1}`)
	assert.Equal(t, []protocol.Outbound{protocol.ChatReceived{
		RoomID:    roomID,
		Message:   "hi",
		UserID:    "A",
		Timestamp: h.now.UnixMilli(),
	}}, a.in.drain())
}

func TestAuthorDefaultsToSession(t *testing.T) {
	h := newHarness()
	a := h.connect()
	roomID := h.createRoom(t, a)

	h.send(a, `{"type":"pause","roomId":"`+roomID+`","currentTime":3}`)
	msgs := a.in.drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, a.ID, msgs[0].(protocol.VideoSync).UserID)
}

func TestPlaybackRecordedAndRelayed(t *testing.T) {
	h := newHarness()
	a, b := h.connect(), h.connect()
	roomID := h.createRoom(t, a)
	h.d.Dispatch(b.Session, protocol.Join{RoomID: roomID})
	a.in.drain()
	b.in.drain()

	h.send(b, `{"type":"play","roomId":"`+roomID+`","currentTime":12.5,"userId":"B"}`)
	want := protocol.VideoSync{RoomID: roomID, Action: model.ActionPlay, CurrentTime: 12.5, UserID: "B"}
	assert.Equal(t, []protocol.Outbound{want}, a.in.drain())
	assert.Equal(t, []protocol.Outbound{want}, b.in.drain())

	room, err := h.rooms.GetRoom(roomID)
	require.NoError(t, err)
	assert.True(t, room.Playback.IsPlaying)
	assert.Equal(t, 12.5, room.Playback.Position)
}

func TestRoomScopedEventsOnMissingRoom(t *testing.T) {
	h := newHarness()
	a := h.connect()

	for _, raw := range []string{
		`{"type":"setVideoUrl","roomId":"nope","url":"http://x"}`,
		`{"type":"message","roomId":"nope","message":"hi","userId":"A"}`,
		`{"type":"play","roomId":"nope","currentTime":1,"userId":"A"}`,
		`{"type":"pause","roomId":"nope","currentTime":1,"userId":"A"}`,
	} {
		h.send(a, raw)
		assert.Equal(t, []protocol.Outbound{protocol.Error{Reason: ReasonRoomNotFound}}, a.in.drain(), raw)
	}
}

func TestNonMemberCannotMutate(t *testing.T) {
	h := newHarness()
	a, outsider := h.connect(), h.connect()
	roomID := h.createRoom(t, a)

	h.send(outsider, `{"type":"setVideoUrl","roomId":"`+roomID+`","url":"http://evil"}`)
	assert.Equal(t, []protocol.Outbound{protocol.Error{Reason: ReasonNotInRoom}}, outsider.in.drain())
	assert.Empty(t, a.in.drain())

	room, err := h.rooms.GetRoom(roomID)
	require.NoError(t, err)
	assert.Empty(t, room.VideoURL)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	h := newHarness()
	a := h.connect()
	roomID := h.createRoom(t, a)

	h.send(a, `{not json`)
	h.send(a, `{"type":"connected","roomId":"`+roomID+`"}`)
	assert.Empty(t, a.in.drain())
	assert.True(t, a.Joined())
}

func TestInvalidFieldsReportError(t *testing.T) {
	h := newHarness()
	a := h.connect()
	roomID := h.createRoom(t, a)

	h.send(a, `{"type":"play","roomId":"`+roomID+`"}`)
	msgs := a.in.drain()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].(protocol.Error).Reason, "currentTime")
}

func TestDisconnectLastParticipantDeletesRoom(t *testing.T) {
	h := newHarness()
	a, b, c := h.connect(), h.connect(), h.connect()
	roomID := h.createRoom(t, a)
	h.d.Dispatch(b.Session, protocol.Join{RoomID: roomID})
	a.in.drain()
	b.in.drain()

	h.d.Disconnect(a.Session)
	assert.Equal(t, []protocol.Outbound{protocol.Left{RoomID: roomID, ClientID: a.ID}}, b.in.drain())

	h.d.Disconnect(b.Session)
	_, err := h.rooms.GetRoom(roomID)
	assert.ErrorIs(t, err, registry.ErrRoomNotFound)

	h.send(c, `{"type":"join","roomId":"`+roomID+`"}`)
	assert.Equal(t, []protocol.Outbound{protocol.Error{Reason: ReasonRoomNotFound}}, c.in.drain())
}

func TestDisconnectUnjoinedSession(t *testing.T) {
	h := newHarness()
	a := h.connect()
	h.d.Disconnect(a.Session)
	h.d.Disconnect(a.Session)

	rooms, participants := h.rooms.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, participants)
}

func TestJoinWhileJoinedLeavesPriorRoom(t *testing.T) {
	h := newHarness()
	a, b, c := h.connect(), h.connect(), h.connect()
	first := h.createRoom(t, a)
	second := h.createRoom(t, b)

	h.d.Dispatch(c.Session, protocol.Join{RoomID: first})
	c.in.drain()
	a.in.drain()

	h.d.Dispatch(c.Session, protocol.Join{RoomID: second})
	assert.Equal(t, []protocol.Outbound{protocol.Left{RoomID: first, ClientID: c.ID}}, a.in.drain())
	assert.Equal(t, second, c.RoomID())

	assert.ErrorIs(t, h.rooms.IsParticipant(first, c.ID), registry.ErrNotParticipant)
	assert.NoError(t, h.rooms.IsParticipant(second, c.ID))
}

func TestJoinWhileJoinedToMissingRoomKeepsMembership(t *testing.T) {
	h := newHarness()
	a := h.connect()
	roomID := h.createRoom(t, a)

	h.d.Dispatch(a.Session, protocol.Join{RoomID: "nope"})
	assert.Equal(t, []protocol.Outbound{protocol.Error{Reason: ReasonRoomNotFound}}, a.in.drain())
	assert.Equal(t, roomID, a.RoomID())
	assert.NoError(t, h.rooms.IsParticipant(roomID, a.ID))
}

func TestRejoinSameRoomIsAcknowledgedOnly(t *testing.T) {
	h := newHarness()
	a, b := h.connect(), h.connect()
	roomID := h.createRoom(t, a)
	h.d.Dispatch(b.Session, protocol.Join{RoomID: roomID})
	a.in.drain()
	b.in.drain()

	h.d.Dispatch(b.Session, protocol.Join{RoomID: roomID})
	assert.Empty(t, a.in.drain())
	assert.Equal(t, []protocol.Outbound{protocol.Joined{RoomID: roomID, ClientID: b.ID, Role: model.RoleGuest}}, b.in.drain())

	_, participants := h.rooms.Stats()
	assert.Equal(t, 2, participants)
}

func TestCreateWhileJoinedLeavesPriorRoom(t *testing.T) {
	h := newHarness()
	a := h.connect()
	first := h.createRoom(t, a)
	second := h.createRoom(t, a)

	assert.NotEqual(t, first, second)
	_, err := h.rooms.GetRoom(first)
	assert.ErrorIs(t, err, registry.ErrRoomNotFound)
	assert.Equal(t, second, a.RoomID())
}

func TestWatchTogetherScenario(t *testing.T) {
	h := newHarness()
	a, b := h.connect(), h.connect()

	roomID := h.createRoom(t, a)

	h.send(b, `{"type":"join","roomId":"`+roomID+`"}`)
	joined := protocol.Joined{RoomID: roomID, ClientID: b.ID, Role: model.RoleGuest}
	assert.Equal(t, []protocol.Outbound{joined}, a.in.drain())
	bMsgs := b.in.drain()
	require.NotEmpty(t, bMsgs)
	assert.Equal(t, joined, bMsgs[0])

	h.send(a, `{"type":"setVideoUrl","roomId":"`+roomID+`","url":"http://x/video.mp4"}`)
	urlMsg := protocol.VideoURLChanged{RoomID: roomID, URL: "http://x/video.mp4"}
	assert.Equal(t, []protocol.Outbound{urlMsg}, a.in.drain())
	assert.Equal(t, []protocol.Outbound{urlMsg}, b.in.drain())

	h.send(b, `{"type":"play","roomId":"`+roomID+`","currentTime":12.5,"userId":"`+b.ID+`"}`)
	directive := protocol.VideoSync{RoomID: roomID, Action: model.ActionPlay, CurrentTime: 12.5, UserID: b.ID}
	assert.Equal(t, []protocol.Outbound{directive}, a.in.drain())
	assert.Equal(t, []protocol.Outbound{directive}, b.in.drain())
}
