package redis

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/ritesh-chauhan0x1/discord-clone/store"
)

// Config represents the Redis store config structure.
type Config struct {
	Address     string        `koanf:"address"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	ActiveConns int           `koanf:"active_conns"`
	IdleConns   int           `koanf:"idle_conns"`
	Timeout     time.Duration `koanf:"timeout"`

	Prefix string `koanf:"prefix"`
}

// Redis is the Redis implementation of the Store interface. Entities are
// stored as JSON blobs in hashes, message history as per-channel lists,
// memberships as sets. IDs come from INCR counters.
type Redis struct {
	cfg  *Config
	pool *redis.Pool
}

// New returns a new Redis store.
func New(cfg Config) (*Redis, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "dc:"
	}
	pool := &redis.Pool{
		Wait:      true,
		MaxActive: cfg.ActiveConns,
		MaxIdle:   cfg.IdleConns,
		Dial: func() (redis.Conn, error) {
			return redis.Dial(
				"tcp",
				cfg.Address,
				redis.DialPassword(cfg.Password),
				redis.DialConnectTimeout(cfg.Timeout),
				redis.DialReadTimeout(cfg.Timeout),
				redis.DialWriteTimeout(cfg.Timeout),
				redis.DialDatabase(cfg.DB),
			)
		},
	}

	// Test connection.
	c := pool.Get()
	defer c.Close()
	if err := c.Err(); err != nil {
		return nil, err
	}
	return &Redis{cfg: &cfg, pool: pool}, nil
}

func (r *Redis) key(parts ...interface{}) string {
	out := r.cfg.Prefix
	for i, p := range parts {
		if i > 0 {
			out += ":"
		}
		out += fmt.Sprintf("%v", p)
	}
	return out
}

func (r *Redis) nextID(c redis.Conn, kind string) (int64, error) {
	return redis.Int64(c.Do("INCR", r.key("seq", kind)))
}

func (r *Redis) putJSON(c redis.Conn, hash string, field interface{}, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.Do("HSET", hash, fmt.Sprintf("%v", field), b)
	return err
}

func (r *Redis) getJSON(c redis.Conn, hash string, field interface{}, out interface{}) error {
	b, err := redis.Bytes(c.Do("HGET", hash, fmt.Sprintf("%v", field)))
	if err == redis.ErrNil {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// redisUser carries the password hash, which store.User excludes from JSON.
type redisUser struct {
	store.User
	PasswordHash []byte `json:"password_hash"`
}

// AddUser inserts a user.
func (r *Redis) AddUser(u store.User) (store.User, error) {
	c := r.pool.Get()
	defer c.Close()

	exists, err := r.userExists(c, u.Username, u.Email)
	if err != nil {
		return store.User{}, err
	}
	if exists {
		return store.User{}, store.ErrExists
	}

	if u.ID, err = r.nextID(c, "user"); err != nil {
		return store.User{}, err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if err := r.putJSON(c, r.key("users"), u.ID, redisUser{User: u, PasswordHash: u.PasswordHash}); err != nil {
		return store.User{}, err
	}
	// Secondary indexes for lookup / uniqueness.
	c.Send("HSET", r.key("users", "by_email"), u.Email, u.ID)
	c.Send("SADD", r.key("users", "names"), u.Username)
	if err := c.Flush(); err != nil {
		return store.User{}, err
	}
	return u, nil
}

func (r *Redis) userExists(c redis.Conn, username, email string) (bool, error) {
	byName, err := redis.Bool(c.Do("SISMEMBER", r.key("users", "names"), username))
	if err != nil {
		return false, err
	}
	if byName {
		return true, nil
	}
	byEmail, err := redis.Bool(c.Do("HEXISTS", r.key("users", "by_email"), email))
	if err != nil {
		return false, err
	}
	return byEmail, nil
}

// GetUser fetches a user by ID.
func (r *Redis) GetUser(id int64) (store.User, error) {
	c := r.pool.Get()
	defer c.Close()
	return r.getUser(c, id)
}

func (r *Redis) getUser(c redis.Conn, id int64) (store.User, error) {
	var u redisUser
	if err := r.getJSON(c, r.key("users"), id, &u); err != nil {
		return store.User{}, err
	}
	out := u.User
	out.PasswordHash = u.PasswordHash
	return out, nil
}

// GetUserByEmail fetches a user by e-mail.
func (r *Redis) GetUserByEmail(email string) (store.User, error) {
	c := r.pool.Get()
	defer c.Close()

	id, err := redis.Int64(c.Do("HGET", r.key("users", "by_email"), email))
	if err == redis.ErrNil {
		return store.User{}, store.ErrNotFound
	}
	if err != nil {
		return store.User{}, err
	}
	return r.getUser(c, id)
}

// UserExists checks whether a username or e-mail is taken.
func (r *Redis) UserExists(username, email string) (bool, error) {
	c := r.pool.Get()
	defer c.Close()
	return r.userExists(c, username, email)
}

// SetUserStatus updates a user's stored status.
func (r *Redis) SetUserStatus(id int64, status string) error {
	c := r.pool.Get()
	defer c.Close()

	u, err := r.getUser(c, id)
	if err != nil {
		return err
	}
	u.Status = status
	return r.putJSON(c, r.key("users"), id, redisUser{User: u, PasswordHash: u.PasswordHash})
}

// AddServer inserts a server and registers the owner as a member.
func (r *Redis) AddServer(s store.Server) (store.Server, error) {
	c := r.pool.Get()
	defer c.Close()

	var err error
	if s.ID, err = r.nextID(c, "server"); err != nil {
		return store.Server{}, err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.Channels = nil
	if err := r.putJSON(c, r.key("servers"), s.ID, s); err != nil {
		return store.Server{}, err
	}
	if err := r.addMember(c, s.ID, s.OwnerID, "owner"); err != nil {
		return store.Server{}, err
	}
	return s, nil
}

// AddMember adds a user to a server.
func (r *Redis) AddMember(serverID, userID int64, role string) error {
	c := r.pool.Get()
	defer c.Close()

	exists, err := redis.Bool(c.Do("HEXISTS", r.key("servers"), serverID))
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return r.addMember(c, serverID, userID, role)
}

func (r *Redis) addMember(c redis.Conn, serverID, userID int64, role string) error {
	c.Send("HSET", r.key("members", serverID), userID, role)
	c.Send("SADD", r.key("user_servers", userID), serverID)
	return c.Flush()
}

// ListServers lists servers the user is a member of, with channels.
func (r *Redis) ListServers(userID int64) ([]store.Server, error) {
	c := r.pool.Get()
	defer c.Close()

	ids, err := redis.Int64s(c.Do("SMEMBERS", r.key("user_servers", userID)))
	if err != nil && err != redis.ErrNil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := []store.Server{}
	for _, id := range ids {
		var s store.Server
		if err := r.getJSON(c, r.key("servers"), id, &s); err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		if s.Channels, err = r.listChannels(c, id); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// AddChannel inserts a channel.
func (r *Redis) AddChannel(ch store.Channel) (store.Channel, error) {
	c := r.pool.Get()
	defer c.Close()

	exists, err := redis.Bool(c.Do("HEXISTS", r.key("servers"), ch.ServerID))
	if err != nil {
		return store.Channel{}, err
	}
	if !exists {
		return store.Channel{}, store.ErrNotFound
	}

	if ch.ID, err = r.nextID(c, "channel"); err != nil {
		return store.Channel{}, err
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}
	if err := r.putJSON(c, r.key("channels"), ch.ID, ch); err != nil {
		return store.Channel{}, err
	}
	if _, err := c.Do("SADD", r.key("server_channels", ch.ServerID), ch.ID); err != nil {
		return store.Channel{}, err
	}
	return ch, nil
}

// ListChannels lists a server's channels ordered by (type, name).
func (r *Redis) ListChannels(serverID int64) ([]store.Channel, error) {
	c := r.pool.Get()
	defer c.Close()
	return r.listChannels(c, serverID)
}

func (r *Redis) listChannels(c redis.Conn, serverID int64) ([]store.Channel, error) {
	ids, err := redis.Int64s(c.Do("SMEMBERS", r.key("server_channels", serverID)))
	if err != nil && err != redis.ErrNil {
		return nil, err
	}

	out := []store.Channel{}
	for _, id := range ids {
		var ch store.Channel
		if err := r.getJSON(c, r.key("channels"), id, &ch); err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// AddMessage persists a message to the channel's history list.
func (r *Redis) AddMessage(m store.Message) (store.Message, error) {
	c := r.pool.Get()
	defer c.Close()

	var err error
	if m.ID, err = r.nextID(c, "message"); err != nil {
		return store.Message{}, err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if u, err := r.getUser(c, m.UserID); err == nil {
		m.Author = store.Author{Username: u.Username, Avatar: u.Avatar}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return store.Message{}, err
	}
	if _, err := c.Do("RPUSH", r.key("messages", m.ChannelID), b); err != nil {
		return store.Message{}, err
	}
	return m, nil
}

// RecentMessages returns up to limit messages for a channel, oldest first.
func (r *Redis) RecentMessages(channelID int64, limit int) ([]store.Message, error) {
	c := r.pool.Get()
	defer c.Close()

	start := 0
	if limit > 0 {
		start = -limit
	}
	raw, err := redis.ByteSlices(c.Do("LRANGE", r.key("messages", channelID), start, -1))
	if err != nil && err != redis.ErrNil {
		return nil, err
	}

	out := make([]store.Message, 0, len(raw))
	for _, b := range raw {
		var m store.Message
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
