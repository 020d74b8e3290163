package hub

import (
	"fmt"
	"sync"
)

// RoomKind distinguishes text rooms from voice rooms.
type RoomKind string

// Room kinds.
const (
	KindText  RoomKind = "text"
	KindVoice RoomKind = "voice"
)

// RoomKey identifies a broadcast room: one text or voice channel.
type RoomKey struct {
	Kind      RoomKind
	ChannelID int64
}

// TextRoom returns the room key for a text channel.
func TextRoom(channelID int64) RoomKey {
	return RoomKey{Kind: KindText, ChannelID: channelID}
}

// VoiceRoom returns the room key for a voice channel.
func VoiceRoom(channelID int64) RoomKey {
	return RoomKey{Kind: KindVoice, ChannelID: channelID}
}

func (k RoomKey) String() string {
	return fmt.Sprintf("%s-%d", k.Kind, k.ChannelID)
}

// Room holds the set of peers currently joined to one channel. The room's
// own lock guards the set so operations on independent rooms never contend.
type Room struct {
	Key RoomKey

	mut   sync.RWMutex
	peers map[*Peer]struct{}
}

func newRoom(key RoomKey) *Room {
	return &Room{Key: key, peers: make(map[*Peer]struct{})}
}

// RoomTable is the table of active rooms. Rooms are created lazily on
// first join and discarded when the last peer leaves.
type RoomTable struct {
	mut   sync.RWMutex
	rooms map[RoomKey]*Room
}

// NewRoomTable returns a new RoomTable.
func NewRoomTable() *RoomTable {
	return &RoomTable{rooms: make(map[RoomKey]*Room)}
}

// Join adds a peer to a room, creating the room if absent. Adding a peer
// that is already a member is a no-op.
func (t *RoomTable) Join(key RoomKey, p *Peer) {
	t.mut.Lock()
	r, ok := t.rooms[key]
	if !ok {
		r = newRoom(key)
		t.rooms[key] = r
	}

	// The room lock is taken while still holding the table lock so a
	// concurrent Leave cannot discard the room between the two.
	r.mut.Lock()
	r.peers[p] = struct{}{}
	r.mut.Unlock()
	t.mut.Unlock()

	p.trackJoin(key)
}

// Leave removes a peer from a room. Removing a non-member, or leaving an
// unknown room, is a no-op. An emptied room is discarded.
func (t *RoomTable) Leave(key RoomKey, p *Peer) {
	t.mut.Lock()
	r, ok := t.rooms[key]
	if !ok {
		t.mut.Unlock()
		p.trackLeave(key)
		return
	}

	r.mut.Lock()
	delete(r.peers, p)
	empty := len(r.peers) == 0
	r.mut.Unlock()

	if empty {
		delete(t.rooms, key)
	}
	t.mut.Unlock()

	p.trackLeave(key)
}

// Members returns a point-in-time snapshot of a room's peers. An unknown
// room yields an empty snapshot, never an error.
func (t *RoomTable) Members(key RoomKey) []*Peer {
	t.mut.RLock()
	r, ok := t.rooms[key]
	t.mut.RUnlock()
	if !ok {
		return nil
	}

	r.mut.RLock()
	out := make([]*Peer, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	r.mut.RUnlock()
	return out
}

// Len reports the number of active rooms.
func (t *RoomTable) Len() int {
	t.mut.RLock()
	defer t.mut.RUnlock()
	return len(t.rooms)
}
