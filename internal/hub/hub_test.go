package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ritesh-chauhan0x1/discord-clone/store"
	"github.com/ritesh-chauhan0x1/discord-clone/store/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory wsConn for tests. Frames pushed into in are
// read by the listener pump; frames written by the writer pump land in out.
type fakeConn struct {
	in   chan []byte
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan []byte, 16),
		out:  make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-f.in:
		if !ok {
			return 0, nil, errors.New("conn closed")
		}
		return websocket.TextMessage, b, nil
	case <-f.done:
		return 0, nil, errors.New("conn closed")
	}
}

func (f *fakeConn) WriteMessage(_ int, b []byte) error {
	select {
	case f.out <- b:
		return nil
	case <-f.done:
		return errors.New("conn closed")
	}
}

func (f *fakeConn) WriteControl(_ int, _ []byte, _ time.Time) error { return nil }
func (f *fakeConn) SetReadLimit(int64)                              {}
func (f *fakeConn) SetWriteDeadline(time.Time) error                { return nil }

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	st, err := mem.New(mem.Config{})
	require.NoError(t, err)

	return NewHub(&Config{
		WSTimeout:       time.Second,
		MaxMessageLen:   4000,
		MaxMessageQueue: 64,
		HistoryLimit:    50,
	}, st, log.New(os.Stderr, "", log.LstdFlags))
}

func addUser(t *testing.T, h *Hub, name string) store.User {
	t.Helper()
	u, err := h.Store.AddUser(store.User{
		Username: name,
		Email:    name + "@example.com",
		Avatar:   "AA",
	})
	require.NoError(t, err)
	return u
}

func connect(t *testing.T, h *Hub, u store.User) (*Peer, *fakeConn) {
	t.Helper()
	f := newFakeConn()
	p := h.Register(f, u)
	return p, f
}

// nextEvent returns the next frame delivered to the conn, failing the test
// if none arrives in time. Order-sensitive assertions use this directly.
func nextEvent(t *testing.T, f *fakeConn) envelope {
	t.Helper()
	select {
	case b := <-f.out:
		var env envelope
		require.NoError(t, json.Unmarshal(b, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return envelope{}
	}
}

// expectEvent asserts that the next frame has the given type and decodes
// its payload into out.
func expectEvent(t *testing.T, f *fakeConn, typ string, out interface{}) {
	t.Helper()
	env := nextEvent(t, f)
	require.Equal(t, typ, env.Type)
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
}

// expectSilence asserts that no frame arrives within a short window.
func expectSilence(t *testing.T, f *fakeConn) {
	t.Helper()
	select {
	case b := <-f.out:
		t.Fatalf("unexpected frame: %s", b)
	case <-time.After(100 * time.Millisecond):
	}
}

func command(typ string, data interface{}) []byte {
	d, _ := json.Marshal(data)
	b, _ := json.Marshal(envelope{Type: typ, Data: d})
	return b
}

func TestRoomJoinIdempotent(t *testing.T) {
	h := newTestHub(t)
	u := addUser(t, h, "alice")
	p, _ := connect(t, h, u)

	key := TextRoom(7)
	h.rooms.Join(key, p)
	h.rooms.Join(key, p)
	assert.Len(t, h.rooms.Members(key), 1)
}

func TestRoomLeaveNonMemberNoop(t *testing.T) {
	h := newTestHub(t)
	u := addUser(t, h, "alice")
	p, _ := connect(t, h, u)

	key := TextRoom(7)
	h.rooms.Leave(key, p)
	assert.Empty(t, h.rooms.Members(key))

	h.rooms.Join(key, p)
	h.rooms.Leave(key, p)
	h.rooms.Leave(key, p)
	assert.Empty(t, h.rooms.Members(key))

	// Emptied rooms are reclaimed and broadcasts to them stay silent.
	assert.Zero(t, h.rooms.Len())
	h.publishRoom(key, nil, makePayload(TypeUserTyping, msgTyping{ChannelID: 7}))
}

func TestVoiceSwitchLeavesPreviousRoom(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	bob := addUser(t, h, "bob")

	pB, fB := connect(t, h, bob)
	h.JoinVoice(pB, 2)

	pA, _ := connect(t, h, alice)
	expectEvent(t, fB, TypeUserJoined, nil) // alice came online

	h.JoinVoice(pA, 1)
	h.SetVoiceMute(pA, true, true)
	expectEvent(t, fB, TypeVoiceMuted, nil)

	h.JoinVoice(pA, 2)

	// Leave is announced before the join.
	var left msgVoiceLeave
	expectEvent(t, fB, TypeVoiceLeft, &left)
	assert.Equal(t, alice.ID, left.UserID)

	var joined msgVoiceJoin
	expectEvent(t, fB, TypeVoiceJoined, &joined)
	assert.Equal(t, alice.ID, joined.UserID)
	assert.Equal(t, int64(2), joined.ChannelID)

	// Only the new room holds the connection, and the mute flags reset.
	assert.Empty(t, h.rooms.Members(VoiceRoom(1)))
	assert.Len(t, h.rooms.Members(VoiceRoom(2)), 2)

	state := h.Presence().Get(alice.ID)
	assert.Equal(t, int64(2), state.Voice.ChannelID)
	assert.False(t, state.Voice.IsMuted)
	assert.False(t, state.Voice.IsDeafened)
}

func TestVoiceRejoinSameChannelKeepsMute(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	pA, _ := connect(t, h, alice)

	h.JoinVoice(pA, 1)
	h.SetVoiceMute(pA, true, false)
	h.JoinVoice(pA, 1)

	state := h.Presence().Get(alice.ID)
	assert.Equal(t, int64(1), state.Voice.ChannelID)
	assert.True(t, state.Voice.IsMuted)
}

func TestUnregisterCleansEverything(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	bob := addUser(t, h, "bob")

	_, fB := connect(t, h, bob)
	pA, _ := connect(t, h, alice)
	expectEvent(t, fB, TypeUserJoined, nil)

	h.JoinText(pA, 1)
	h.JoinText(pA, 2)
	h.JoinVoice(pA, 3)

	h.Unregister(pA)

	assert.Empty(t, h.rooms.Members(TextRoom(1)))
	assert.Empty(t, h.rooms.Members(TextRoom(2)))
	assert.Empty(t, h.rooms.Members(VoiceRoom(3)))

	_, err := h.Lookup(pA)
	assert.ErrorIs(t, err, ErrUnknownConnection)

	state := h.Presence().Get(alice.ID)
	assert.False(t, state.Online)
	assert.Zero(t, state.Voice.ChannelID)

	// Bob sees the voice leave and exactly one user-left.
	expectEvent(t, fB, TypeVoiceLeft, nil)
	var leftU msgPresence
	expectEvent(t, fB, TypeUserLeft, &leftU)
	assert.Equal(t, alice.ID, leftU.ID)
	expectSilence(t, fB)

	// Unregistering again is a no-op.
	h.Unregister(pA)
	expectSilence(t, fB)
}

func TestMultiConnectionOfflineFiresOnce(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	bob := addUser(t, h, "bob")

	_, fB := connect(t, h, bob)
	pA1, _ := connect(t, h, alice)
	expectEvent(t, fB, TypeUserJoined, nil)

	pA2, _ := connect(t, h, alice)
	expectSilence(t, fB) // second connection, no second user-joined

	h.Unregister(pA1)
	expectSilence(t, fB)
	assert.True(t, h.Presence().Get(alice.ID).Online)

	h.Unregister(pA2)
	var left msgPresence
	expectEvent(t, fB, TypeUserLeft, &left)
	assert.Equal(t, alice.ID, left.ID)
	assert.False(t, h.Presence().Get(alice.ID).Online)
}

func TestSubmitMessagePersistsThenPublishes(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	bob := addUser(t, h, "bob")

	pA, fA := connect(t, h, alice)
	pB, fB := connect(t, h, bob)
	expectEvent(t, fA, TypeUserJoined, nil) // bob came online

	h.JoinText(pA, 7)
	h.JoinText(pB, 7)

	m, err := h.SubmitMessage(alice.ID, 7, "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "text", m.Type)
	assert.Equal(t, "alice", m.Author.Username)

	// Both members receive the confirmed message, origin included.
	for _, f := range []*fakeConn{fA, fB} {
		var got msgNewMessage
		expectEvent(t, f, TypeNewMessage, &got)
		assert.Equal(t, "hi", got.Content)
		assert.Equal(t, int64(7), got.ChannelID)
		assert.Equal(t, "alice", got.Author.Username)
	}

	hist, err := h.History(7)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "hi", hist[0].Content)
}

func TestSubmitEmptyMessageRejected(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	pA, fA := connect(t, h, alice)
	h.JoinText(pA, 7)

	_, err := h.SubmitMessage(alice.ID, 7, "   ", "text")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	expectSilence(t, fA)
}

// failingStore wraps a Store and fails every message write.
type failingStore struct {
	store.Store
}

func (f failingStore) AddMessage(store.Message) (store.Message, error) {
	return store.Message{}, fmt.Errorf("disk on fire")
}

func TestSubmitNeverPublishesOnStorageError(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	h.Store = failingStore{Store: h.Store}

	pA, fA := connect(t, h, alice)
	h.JoinText(pA, 7)

	_, err := h.SubmitMessage(alice.ID, 7, "hi", "text")
	require.Error(t, err)
	expectSilence(t, fA)
}

func TestTypingExcludesOrigin(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	bob := addUser(t, h, "bob")

	pA, fA := connect(t, h, alice)
	pB, fB := connect(t, h, bob)
	expectEvent(t, fA, TypeUserJoined, nil)

	h.JoinText(pA, 7)
	h.JoinText(pB, 7)

	h.Typing(pA, 7)

	var typing msgTyping
	expectEvent(t, fB, TypeUserTyping, &typing)
	assert.Equal(t, alice.ID, typing.UserID)
	assert.Equal(t, int64(7), typing.ChannelID)
	expectSilence(t, fA)
}

func TestRelayedMessageExcludesOrigin(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	bob := addUser(t, h, "bob")

	_, fA := connect(t, h, alice)
	_, fB := connect(t, h, bob)
	expectEvent(t, fA, TypeUserJoined, nil)

	// Drive everything through the wire protocol.
	fA.in <- command(TypeJoinChannel, map[string]interface{}{"channelId": 7})
	fB.in <- command(TypeJoinChannel, map[string]interface{}{"channelId": 7})

	require.Eventually(t, func() bool {
		return len(h.rooms.Members(TextRoom(7))) == 2
	}, 2*time.Second, 10*time.Millisecond)

	fA.in <- command(TypeSendMessage, map[string]interface{}{"channelId": 7, "content": "hi"})

	var got struct {
		ChannelID int64  `json:"channelId"`
		Content   string `json:"content"`
	}
	expectEvent(t, fB, TypeNewMessage, &got)
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, int64(7), got.ChannelID)
	expectSilence(t, fA)
}

func TestBrokenRecipientDoesNotAbortFanout(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	bob := addUser(t, h, "bob")
	carol := addUser(t, h, "carol")

	pA, fA := connect(t, h, alice)
	pB, _ := connect(t, h, bob)
	pC, fC := connect(t, h, carol)
	expectEvent(t, fA, TypeUserJoined, nil)
	expectEvent(t, fA, TypeUserJoined, nil)

	h.JoinText(pA, 7)
	h.JoinText(pB, 7)
	h.JoinText(pC, 7)

	// Bob's connection dies without a clean unregister.
	pB.markClosed()

	_, err := h.SubmitMessage(alice.ID, 7, "hi", "text")
	require.NoError(t, err)

	// The two healthy members are still served.
	expectEvent(t, fA, TypeNewMessage, nil)
	var got msgNewMessage
	expectEvent(t, fC, TypeNewMessage, &got)
	assert.Equal(t, "hi", got.Content)

	// And the broken one was cleaned up as a disconnect.
	require.Eventually(t, func() bool {
		_, err := h.Lookup(pB)
		return errors.Is(err, ErrUnknownConnection) &&
			len(h.rooms.Members(TextRoom(7))) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMuteWhileNotInVoiceIsNoop(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	bob := addUser(t, h, "bob")

	pA, fA := connect(t, h, alice)
	_, fB := connect(t, h, bob)
	expectEvent(t, fA, TypeUserJoined, nil)

	h.SetVoiceMute(pA, true, true)
	expectSilence(t, fB)
	assert.False(t, h.Presence().Get(alice.ID).Voice.IsMuted)
}

func TestVoiceCommandsOverWire(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	bob := addUser(t, h, "bob")

	pB, fB := connect(t, h, bob)
	h.JoinVoice(pB, 5)

	_, fA := connect(t, h, alice)
	expectEvent(t, fB, TypeUserJoined, nil)

	fA.in <- command(TypeJoinVoice, map[string]interface{}{"userId": alice.ID, "channelId": 5})

	var joined msgVoiceJoin
	expectEvent(t, fB, TypeVoiceJoined, &joined)
	assert.Equal(t, alice.ID, joined.UserID)

	fA.in <- command(TypeVoiceMute, map[string]interface{}{"userId": alice.ID, "isMuted": true, "isDeafened": false})
	var muted msgVoiceMute
	expectEvent(t, fB, TypeVoiceMuted, &muted)
	assert.True(t, muted.IsMuted)
	assert.False(t, muted.IsDeafened)

	fA.in <- command(TypeLeaveVoice, nil)
	var left msgVoiceLeave
	expectEvent(t, fB, TypeVoiceLeft, &left)
	assert.Equal(t, alice.ID, left.UserID)

	require.Eventually(t, func() bool {
		return h.Presence().Get(alice.ID).Voice.ChannelID == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedCommandsAreDropped(t *testing.T) {
	h := newTestHub(t)
	alice := addUser(t, h, "alice")
	pA, fA := connect(t, h, alice)

	fA.in <- []byte("not json at all")
	fA.in <- command("no-such-command", map[string]interface{}{"x": 1})
	fA.in <- command(TypeJoinChannel, map[string]interface{}{"channelId": "seven"})

	// The connection survives all of it.
	time.Sleep(50 * time.Millisecond)
	_, err := h.Lookup(pA)
	assert.NoError(t, err)
}
