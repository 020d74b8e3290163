package store

import (
	"errors"
	"time"
)

// Store represents a durable backend for users, servers, channels and
// message history. Ephemeral state (rooms, presence, voice) never touches
// the store; it lives in the hub.
type Store interface {
	AddUser(u User) (User, error)
	GetUser(id int64) (User, error)
	GetUserByEmail(email string) (User, error)
	UserExists(username, email string) (bool, error)
	SetUserStatus(id int64, status string) error

	AddServer(s Server) (Server, error)
	AddMember(serverID, userID int64, role string) error
	ListServers(userID int64) ([]Server, error)

	AddChannel(c Channel) (Channel, error)
	ListChannels(serverID int64) ([]Channel, error)

	// AddMessage persists a message and returns it with the assigned
	// ID and timestamp.
	AddMessage(m Message) (Message, error)

	// RecentMessages returns up to limit messages for a channel,
	// oldest first, with Author filled in.
	RecentMessages(channelID int64, limit int) ([]Message, error)
}

// User represents a registered user account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	Avatar       string    `json:"avatar"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Server represents a logical server grouping channels and members.
type Server struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	OwnerID     int64     `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	Channels    []Channel `json:"channels,omitempty"`
}

// Channel kinds.
const (
	ChannelText  = "text"
	ChannelVoice = "voice"
)

// Channel represents a text or voice channel inside a server.
type Channel struct {
	ID        int64     `json:"id"`
	ServerID  int64     `json:"server_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
}

// Author is the denormalized message author info returned with history.
type Author struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Message represents a persisted chat message.
type Message struct {
	ID        int64     `json:"id"`
	ChannelID int64     `json:"channel_id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Author    Author    `json:"author"`
}

// ErrNotFound indicates that the requested entity was not found.
var ErrNotFound = errors.New("not found")

// ErrExists indicates a unique constraint (username / email) collision.
var ErrExists = errors.New("already exists")
