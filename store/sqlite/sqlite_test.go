package sqlite

import (
	"testing"
	"time"

	"github.com/ritesh-chauhan0x1/discord-clone/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := New(Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUsers(t *testing.T) {
	s := newStore(t)

	u, err := s.AddUser(store.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: []byte("hash"),
		Avatar:       "AL",
		Status:       "online",
	})
	require.NoError(t, err)
	assert.NotZero(t, u.ID)

	_, err = s.AddUser(store.User{Username: "alice", Email: "other@example.com", PasswordHash: []byte("h")})
	assert.ErrorIs(t, err, store.ErrExists)

	got, err := s.GetUserByEmail("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, []byte("hash"), got.PasswordHash)

	_, err = s.GetUser(99)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SetUserStatus(u.ID, "offline"))
	got, err = s.GetUser(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "offline", got.Status)
}

func TestServersAndChannels(t *testing.T) {
	s := newStore(t)

	owner, err := s.AddUser(store.User{Username: "alice", Email: "a@example.com", PasswordHash: []byte("h")})
	require.NoError(t, err)
	member, err := s.AddUser(store.User{Username: "bob", Email: "b@example.com", PasswordHash: []byte("h")})
	require.NoError(t, err)

	sv, err := s.AddServer(store.Server{Name: "gaming", Description: "games", OwnerID: owner.ID})
	require.NoError(t, err)

	for _, c := range []store.Channel{
		{ServerID: sv.ID, Name: "lobby", Type: store.ChannelVoice},
		{ServerID: sv.ID, Name: "general", Type: store.ChannelText},
	} {
		_, err := s.AddChannel(c)
		require.NoError(t, err)
	}

	channels, err := s.ListChannels(sv.ID)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "general", channels[0].Name)
	assert.Equal(t, "lobby", channels[1].Name)

	servers, err := s.ListServers(owner.ID)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "gaming", servers[0].Name)
	assert.Len(t, servers[0].Channels, 2)

	servers, err = s.ListServers(member.ID)
	require.NoError(t, err)
	assert.Empty(t, servers)

	require.NoError(t, s.AddMember(sv.ID, member.ID, "member"))
	// Adding twice is harmless.
	require.NoError(t, s.AddMember(sv.ID, member.ID, "member"))

	servers, err = s.ListServers(member.ID)
	require.NoError(t, err)
	assert.Len(t, servers, 1)
}

func TestMessages(t *testing.T) {
	s := newStore(t)

	u, err := s.AddUser(store.User{Username: "alice", Email: "a@example.com", PasswordHash: []byte("h"), Avatar: "AL"})
	require.NoError(t, err)

	base := time.Now().Add(-time.Minute)
	for i, content := range []string{"one", "two", "three"} {
		m, err := s.AddMessage(store.Message{
			ChannelID: 7,
			UserID:    u.ID,
			Content:   content,
			Type:      "text",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		assert.NotZero(t, m.ID)
		assert.Equal(t, "alice", m.Author.Username)
		assert.Equal(t, "AL", m.Author.Avatar)
	}

	msgs, err := s.RecentMessages(7, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "three", msgs[2].Content)

	msgs, err = s.RecentMessages(7, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)

	msgs, err = s.RecentMessages(99, 50)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
