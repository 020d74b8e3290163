package hub

import (
	"encoding/json"
	"time"
)

// Types of events sent to peers.
const (
	TypeNewMessage  = "new-message"
	TypeUserTyping  = "user-typing"
	TypeVoiceJoined = "voice-user-joined"
	TypeVoiceLeft   = "voice-user-left"
	TypeVoiceMuted  = "voice-user-muted"
	TypeUserJoined  = "user-joined"
	TypeUserLeft    = "user-left"
)

// Types of commands accepted from peers.
const (
	TypeJoinChannel  = "join-channel"
	TypeLeaveChannel = "leave-channel"
	TypeTypingStart  = "typing-start"
	TypeSendMessage  = "send-message"
	TypeJoinVoice    = "join-voice-channel"
	TypeLeaveVoice   = "leave-voice-channel"
	TypeVoiceMute    = "voice-mute-status"
)

// envelope wraps every frame on the wire, both directions.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type msgAuthor struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// msgNewMessage is the payload of a persisted-message confirmation.
type msgNewMessage struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Author    msgAuthor `json:"author"`
	ChannelID int64     `json:"channelId"`
}

type msgTyping struct {
	ChannelID int64 `json:"channelId"`
	UserID    int64 `json:"userId"`
}

type msgVoiceJoin struct {
	UserID    int64 `json:"userId"`
	ChannelID int64 `json:"channelId"`
}

type msgVoiceLeave struct {
	UserID int64 `json:"userId"`
}

type msgVoiceMute struct {
	UserID     int64 `json:"userId"`
	IsMuted    bool  `json:"isMuted"`
	IsDeafened bool  `json:"isDeafened"`
}

// msgPresence announces a user coming online or going offline.
type msgPresence struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Status   string `json:"status"`
}

// Command payloads read off the wire.

type cmdChannel struct {
	ChannelID int64 `json:"channelId"`
}

type cmdVoiceJoin struct {
	UserID    int64 `json:"userId"`
	ChannelID int64 `json:"channelId"`
}

type cmdVoiceMute struct {
	UserID     int64 `json:"userId"`
	IsMuted    bool  `json:"isMuted"`
	IsDeafened bool  `json:"isDeafened"`
}

// makePayload prepares a wire frame for an event.
func makePayload(typ string, data interface{}) []byte {
	d, _ := json.Marshal(data)
	b, _ := json.Marshal(envelope{Type: typ, Data: d})
	return b
}
