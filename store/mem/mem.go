package mem

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ritesh-chauhan0x1/discord-clone/store"
)

// Config represents the InMemory store config structure.
type Config struct{}

// InMemory is the in-memory implementation of the Store interface. It is
// used in tests and as a throwaway dev backend.
type InMemory struct {
	cfg *Config
	mu  sync.Mutex

	users    map[int64]store.User
	servers  map[int64]store.Server
	channels map[int64]store.Channel
	messages map[int64][]store.Message
	members  map[int64]map[int64]string

	nextUser    int64
	nextServer  int64
	nextChannel int64
	nextMessage int64
}

// New returns a new InMemory store.
func New(cfg Config) (*InMemory, error) {
	return &InMemory{
		cfg:      &cfg,
		users:    map[int64]store.User{},
		servers:  map[int64]store.Server{},
		channels: map[int64]store.Channel{},
		messages: map[int64][]store.Message{},
		members:  map[int64]map[int64]string{},
	}, nil
}

// AddUser adds a user and assigns it an ID.
func (m *InMemory) AddUser(u store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.users {
		if e.Username == u.Username || e.Email == u.Email {
			return store.User{}, store.ErrExists
		}
	}

	m.nextUser++
	u.ID = m.nextUser
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.users[u.ID] = u
	return u, nil
}

// GetUser gets a user by ID.
func (m *InMemory) GetUser(id int64) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

// GetUserByEmail gets a user by e-mail.
func (m *InMemory) GetUserByEmail(email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

// UserExists checks whether a username or e-mail is taken.
func (m *InMemory) UserExists(username, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// SetUserStatus updates a user's stored status.
func (m *InMemory) SetUserStatus(id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Status = status
	m.users[id] = u
	return nil
}

// AddServer adds a server and makes the owner a member.
func (m *InMemory) AddServer(s store.Server) (store.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextServer++
	s.ID = m.nextServer
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.servers[s.ID] = s
	m.members[s.ID] = map[int64]string{s.OwnerID: "owner"}
	return s, nil
}

// AddMember adds a user to a server.
func (m *InMemory) AddMember(serverID, userID int64, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[serverID]; !ok {
		return store.ErrNotFound
	}
	if m.members[serverID] == nil {
		m.members[serverID] = map[int64]string{}
	}
	m.members[serverID][userID] = role
	return nil
}

// ListServers lists servers the user is a member of, with channels.
func (m *InMemory) ListServers(userID int64) ([]store.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []store.Server{}
	for id, s := range m.servers {
		if _, ok := m.members[id][userID]; !ok {
			continue
		}
		s.Channels = m.channelsOf(id)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddChannel adds a channel to a server.
func (m *InMemory) AddChannel(c store.Channel) (store.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[c.ServerID]; !ok {
		return store.Channel{}, store.ErrNotFound
	}
	m.nextChannel++
	c.ID = m.nextChannel
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.channels[c.ID] = c
	return c, nil
}

// ListChannels lists a server's channels ordered by (type, name).
func (m *InMemory) ListChannels(serverID int64) ([]store.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channelsOf(serverID), nil
}

func (m *InMemory) channelsOf(serverID int64) []store.Channel {
	out := []store.Channel{}
	for _, c := range m.channels {
		if c.ServerID == serverID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return strings.Compare(out[i].Type, out[j].Type) < 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// AddMessage appends a message to a channel's history.
func (m *InMemory) AddMessage(msg store.Message) (store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextMessage++
	msg.ID = m.nextMessage
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if u, ok := m.users[msg.UserID]; ok {
		msg.Author = store.Author{Username: u.Username, Avatar: u.Avatar}
	}
	m.messages[msg.ChannelID] = append(m.messages[msg.ChannelID], msg)
	return msg, nil
}

// RecentMessages returns up to limit messages, oldest first.
func (m *InMemory) RecentMessages(channelID int64, limit int) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.messages[channelID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]store.Message, len(all))
	copy(out, all)
	return out, nil
}
