package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ritesh-chauhan0x1/discord-clone/store"
)

// wsConn is the subset of *websocket.Conn the peer uses. Tests inject
// in-memory fakes.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Peer represents one live connection of an authenticated user. A user may
// hold several peers at once.
type Peer struct {
	// Unique connection ID.
	ID string

	// The identity this connection authenticated as.
	User store.User

	ws  wsConn
	hub *Hub

	// Channel for outbound frames.
	dataQ chan []byte

	// Rooms this peer has joined, tracked explicitly so unregister can
	// clean up without scanning every room.
	mut    sync.Mutex
	joined map[RoomKey]struct{}
	closed bool
}

func newPeer(id string, user store.User, ws wsConn, h *Hub) *Peer {
	return &Peer{
		ID:     id,
		User:   user,
		ws:     ws,
		hub:    h,
		dataQ:  make(chan []byte, h.cfg.MaxMessageQueue),
		joined: make(map[RoomKey]struct{}),
	}
}

// RunListener is a blocking function that reads incoming frames from the
// peer's connection until it drops. This should be invoked as a goroutine.
func (p *Peer) RunListener() {
	p.ws.SetReadLimit(int64(p.hub.cfg.MaxMessageLen))
	for {
		_, m, err := p.ws.ReadMessage()
		if err != nil {
			break
		}
		p.processCommand(m)
	}

	p.ws.Close()
	p.hub.Unregister(p)
}

// RunWriter is a blocking function that writes queued frames to the peer's
// connection. This should be invoked as a goroutine.
func (p *Peer) RunWriter() {
	defer p.ws.Close()
	for b := range p.dataQ {
		if err := p.writeWSData(websocket.TextMessage, b); err != nil {
			p.hub.Unregister(p)
			return
		}
	}

	// Queue closed: the peer was unregistered.
	p.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Time{})
}

// send queues a frame for delivery. It never blocks: a full queue means
// the connection is too slow or dead, and the caller treats it as such.
func (p *Peer) send(b []byte) bool {
	p.mut.Lock()
	defer p.mut.Unlock()

	if p.closed {
		return false
	}
	select {
	case p.dataQ <- b:
		return true
	default:
		return false
	}
}

// markClosed closes the outbound queue exactly once.
func (p *Peer) markClosed() {
	p.mut.Lock()
	defer p.mut.Unlock()

	if !p.closed {
		p.closed = true
		close(p.dataQ)
	}
}

func (p *Peer) writeWSData(msgType int, payload []byte) error {
	p.ws.SetWriteDeadline(time.Now().Add(p.hub.cfg.WSTimeout))
	return p.ws.WriteMessage(msgType, payload)
}

func (p *Peer) trackJoin(key RoomKey) {
	p.mut.Lock()
	p.joined[key] = struct{}{}
	p.mut.Unlock()
}

func (p *Peer) trackLeave(key RoomKey) {
	p.mut.Lock()
	delete(p.joined, key)
	p.mut.Unlock()
}

// joinedRooms returns a snapshot of the rooms this peer is in.
func (p *Peer) joinedRooms() []RoomKey {
	p.mut.Lock()
	defer p.mut.Unlock()

	out := make([]RoomKey, 0, len(p.joined))
	for k := range p.joined {
		out = append(out, k)
	}
	return out
}

// processCommand dispatches one inbound frame. Malformed or unknown
// commands are dropped; commands arrive from untrusted, possibly
// duplicated client input, so absorption beats strictness here.
func (p *Peer) processCommand(b []byte) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return
	}

	switch env.Type {
	case TypeJoinChannel:
		var c cmdChannel
		if json.Unmarshal(env.Data, &c) == nil && c.ChannelID != 0 {
			p.hub.JoinText(p, c.ChannelID)
		}

	case TypeLeaveChannel:
		var c cmdChannel
		if json.Unmarshal(env.Data, &c) == nil && c.ChannelID != 0 {
			p.hub.LeaveText(p, c.ChannelID)
		}

	case TypeTypingStart:
		var c cmdChannel
		if json.Unmarshal(env.Data, &c) == nil && c.ChannelID != 0 {
			p.hub.Typing(p, c.ChannelID)
		}

	case TypeSendMessage:
		p.hub.RelayMessage(p, env.Data)

	case TypeJoinVoice:
		var c cmdVoiceJoin
		if json.Unmarshal(env.Data, &c) == nil && c.ChannelID != 0 {
			p.hub.JoinVoice(p, c.ChannelID)
		}

	case TypeLeaveVoice:
		p.hub.LeaveVoice(p)

	case TypeVoiceMute:
		var c cmdVoiceMute
		if json.Unmarshal(env.Data, &c) == nil {
			p.hub.SetVoiceMute(p, c.IsMuted, c.IsDeafened)
		}

	default:
	}
}
