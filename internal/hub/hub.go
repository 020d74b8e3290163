// Package hub implements the realtime core: the session registry mapping
// connections to identities, the room membership tables, the presence
// tracker and the event broadcaster that fans events out to rooms.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ritesh-chauhan0x1/discord-clone/store"
)

// Config represents the hub configuration.
type Config struct {
	Address string `koanf:"address"`
	Name    string `koanf:"name"`

	WSTimeout       time.Duration `koanf:"websocket_timeout"`
	MaxMessageLen   int           `koanf:"max_message_length"`
	MaxMessageQueue int           `koanf:"max_message_queue"`
	HistoryLimit    int           `koanf:"history_limit"`
}

// ErrEmptyMessage is returned when a submitted message has no content.
var ErrEmptyMessage = errors.New("message content is empty")

// ErrMessageTooLong is returned when a submitted message exceeds the
// configured length limit.
var ErrMessageTooLong = errors.New("message is too long")

// ErrUnknownConnection is returned when looking up a connection that was
// never registered (or has already been unregistered).
var ErrUnknownConnection = errors.New("unknown connection")

// Hub is the controller for all realtime state: registered connections,
// room membership, and presence. It is constructed once at process start
// and passed by handle; there are no ambient globals.
type Hub struct {
	Store store.Store

	cfg *Config
	log *log.Logger

	rooms    *RoomTable
	presence *PresenceTracker

	// Session registry: live connections and per-user connection counts.
	mut       sync.RWMutex
	conns     map[*Peer]int64
	userConns map[int64]int
}

// NewHub returns a new instance of Hub.
func NewHub(cfg *Config, st store.Store, l *log.Logger) *Hub {
	if cfg.MaxMessageQueue <= 0 {
		cfg.MaxMessageQueue = 100
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.WSTimeout <= 0 {
		cfg.WSTimeout = 3 * time.Second
	}
	return &Hub{
		Store:     st,
		cfg:       cfg,
		log:       l,
		rooms:     NewRoomTable(),
		presence:  NewPresenceTracker(),
		conns:     make(map[*Peer]int64),
		userConns: make(map[int64]int),
	}
}

// Presence exposes the presence tracker for read access.
func (h *Hub) Presence() *PresenceTracker {
	return h.presence
}

// Register adds an authenticated connection to the registry and starts its
// read / write pumps. The first connection of a user flips them online and
// announces it to all other connections.
func (h *Hub) Register(ws wsConn, user store.User) *Peer {
	p := newPeer(uuid.NewString(), user, ws, h)

	h.mut.Lock()
	h.conns[p] = user.ID
	h.userConns[user.ID]++
	first := h.userConns[user.ID] == 1
	h.mut.Unlock()

	go p.RunListener()
	go p.RunWriter()

	if first {
		h.presence.SetOnline(user.ID)
		if err := h.Store.SetUserStatus(user.ID, "online"); err != nil {
			h.log.Printf("error storing online status for user %d: %v", user.ID, err)
		}
		h.publishGlobal(p, makePayload(TypeUserJoined, msgPresence{
			ID:       user.ID,
			Username: user.Username,
			Avatar:   user.Avatar,
			Status:   "online",
		}))
	}

	h.log.Printf("%s@%s connected (user %d)", user.Username, p.ID, user.ID)
	return p
}

// Unregister removes a connection from the registry, from every room it
// joined, and from voice. The last connection of a user flips them offline.
// All removal is complete before Unregister returns, so no later broadcast
// can reach the departed connection.
func (h *Hub) Unregister(p *Peer) {
	h.mut.Lock()
	if _, ok := h.conns[p]; !ok {
		h.mut.Unlock()
		return
	}
	delete(h.conns, p)
	h.userConns[p.User.ID]--
	last := h.userConns[p.User.ID] == 0
	if last {
		delete(h.userConns, p.User.ID)
	}
	h.mut.Unlock()

	// Leave every room, voice included. A voice membership held by this
	// connection also clears the user's voice state.
	var hadVoice bool
	for _, key := range p.joinedRooms() {
		h.rooms.Leave(key, p)
		if key.Kind == KindVoice {
			hadVoice = true
		}
	}
	if hadVoice {
		if prev := h.presence.ClearVoice(p.User.ID); prev != 0 {
			h.publishGlobal(nil, makePayload(TypeVoiceLeft, msgVoiceLeave{UserID: p.User.ID}))
		}
	}

	if last {
		h.presence.SetOffline(p.User.ID)
		if err := h.Store.SetUserStatus(p.User.ID, "offline"); err != nil {
			h.log.Printf("error storing offline status for user %d: %v", p.User.ID, err)
		}
		h.publishGlobal(nil, makePayload(TypeUserLeft, msgPresence{
			ID:       p.User.ID,
			Username: p.User.Username,
			Avatar:   p.User.Avatar,
			Status:   "offline",
		}))
	}

	p.markClosed()
	h.log.Printf("%s@%s disconnected (user %d)", p.User.Username, p.ID, p.User.ID)
}

// Lookup returns the user ID a connection is registered to.
func (h *Hub) Lookup(p *Peer) (int64, error) {
	h.mut.RLock()
	defer h.mut.RUnlock()

	id, ok := h.conns[p]
	if !ok {
		return 0, ErrUnknownConnection
	}
	return id, nil
}

// NumConns reports the number of registered connections.
func (h *Hub) NumConns() int {
	h.mut.RLock()
	defer h.mut.RUnlock()
	return len(h.conns)
}

// JoinText subscribes a connection to a text channel's room.
func (h *Hub) JoinText(p *Peer, channelID int64) {
	h.rooms.Join(TextRoom(channelID), p)
}

// LeaveText unsubscribes a connection from a text channel's room.
func (h *Hub) LeaveText(p *Peer, channelID int64) {
	h.rooms.Leave(TextRoom(channelID), p)
}

// Typing fans a typing indicator out to the channel's room, excluding the
// origin connection.
func (h *Hub) Typing(p *Peer, channelID int64) {
	h.publishRoom(TextRoom(channelID), p, makePayload(TypeUserTyping, msgTyping{
		ChannelID: channelID,
		UserID:    p.User.ID,
	}))
}

// RelayMessage re-broadcasts a client-sent message payload to its text
// room, excluding the origin. Relays are unpersisted echoes; durable
// messages go through SubmitMessage.
func (h *Hub) RelayMessage(p *Peer, data json.RawMessage) {
	var c cmdChannel
	if err := json.Unmarshal(data, &c); err != nil || c.ChannelID == 0 {
		return
	}
	h.publishRoom(TextRoom(c.ChannelID), p, makePayload(TypeNewMessage, data))
}

// JoinVoice moves a connection's user into a voice channel. A user is in
// at most one voice channel: joining a new one implicitly leaves the old,
// and the leave event is announced before the join event.
func (h *Hub) JoinVoice(p *Peer, channelID int64) {
	prev := h.presence.SetVoiceChannel(p.User.ID, channelID)
	if prev == channelID {
		// Already there; mute flags are left untouched.
		h.rooms.Join(VoiceRoom(channelID), p)
		return
	}

	if prev != 0 {
		h.rooms.Leave(VoiceRoom(prev), p)
		h.publishGlobal(nil, makePayload(TypeVoiceLeft, msgVoiceLeave{UserID: p.User.ID}))
	}

	h.rooms.Join(VoiceRoom(channelID), p)
	h.publishRoom(VoiceRoom(channelID), p, makePayload(TypeVoiceJoined, msgVoiceJoin{
		UserID:    p.User.ID,
		ChannelID: channelID,
	}))
}

// LeaveVoice removes a connection's user from voice, clearing mute state.
// Leaving while not in voice is a no-op.
func (h *Hub) LeaveVoice(p *Peer) {
	prev := h.presence.ClearVoice(p.User.ID)
	if prev == 0 {
		return
	}
	h.rooms.Leave(VoiceRoom(prev), p)
	h.publishGlobal(nil, makePayload(TypeVoiceLeft, msgVoiceLeave{UserID: p.User.ID}))
}

// SetVoiceMute updates the user's mute / deafen flags and announces the
// change to everyone but the origin. A no-op while not in voice.
func (h *Hub) SetVoiceMute(p *Peer, muted, deafened bool) {
	if !h.presence.SetMute(p.User.ID, muted, deafened) {
		return
	}
	h.publishGlobal(p, makePayload(TypeVoiceMuted, msgVoiceMute{
		UserID:     p.User.ID,
		IsMuted:    muted,
		IsDeafened: deafened,
	}))
}

// SubmitMessage validates and persists a text message, then fans the
// confirmed message out to the channel's room, origin included. The
// broadcast happens only after the write is durable, so a client
// refreshing history can never miss a message it saw live.
func (h *Hub) SubmitMessage(userID, channelID int64, content, msgType string) (store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return store.Message{}, ErrEmptyMessage
	}
	if h.cfg.MaxMessageLen > 0 && len(content) > h.cfg.MaxMessageLen {
		return store.Message{}, ErrMessageTooLong
	}
	if msgType == "" {
		msgType = "text"
	}

	m, err := h.Store.AddMessage(store.Message{
		ChannelID: channelID,
		UserID:    userID,
		Content:   content,
		Type:      msgType,
	})
	if err != nil {
		return store.Message{}, fmt.Errorf("error persisting message: %w", err)
	}

	h.publishRoom(TextRoom(channelID), nil, makePayload(TypeNewMessage, msgNewMessage{
		ID:        m.ID,
		Content:   m.Content,
		Type:      m.Type,
		Timestamp: m.CreatedAt,
		Author:    msgAuthor{Username: m.Author.Username, Avatar: m.Author.Avatar},
		ChannelID: m.ChannelID,
	}))
	return m, nil
}

// History returns the channel's recent persisted messages, oldest first.
func (h *Hub) History(channelID int64) ([]store.Message, error) {
	return h.Store.RecentMessages(channelID, h.cfg.HistoryLimit)
}

// publishRoom delivers a payload to every member of a room except the
// origin (nil origin means deliver to all members). Delivery is against a
// point-in-time snapshot, outside any lock; a recipient that cannot take
// the frame is treated as dead and unregistered, without aborting the rest
// of the fan-out.
func (h *Hub) publishRoom(key RoomKey, origin *Peer, payload []byte) {
	h.deliver(h.rooms.Members(key), origin, payload)
}

// publishGlobal delivers a payload to every registered connection except
// the origin (nil origin means everyone).
func (h *Hub) publishGlobal(origin *Peer, payload []byte) {
	h.mut.RLock()
	peers := make([]*Peer, 0, len(h.conns))
	for p := range h.conns {
		peers = append(peers, p)
	}
	h.mut.RUnlock()

	h.deliver(peers, origin, payload)
}

func (h *Hub) deliver(peers []*Peer, origin *Peer, payload []byte) {
	var failed []*Peer
	for _, p := range peers {
		if p == origin {
			continue
		}
		if !p.send(payload) {
			failed = append(failed, p)
		}
	}

	for _, p := range failed {
		h.log.Printf("dropping unresponsive connection %s (user %d)", p.ID, p.User.ID)
		h.Unregister(p)
	}
}
