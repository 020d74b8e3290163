package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"github.com/ritesh-chauhan0x1/discord-clone/store"
	_ "modernc.org/sqlite"
)

// Config represents the SQLite store config structure.
type Config struct {
	Path string `koanf:"path"`
}

// SQLite is the SQLite implementation of the Store interface.
type SQLite struct {
	cfg *Config
	db  *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL,
	email TEXT UNIQUE NOT NULL,
	password_hash BLOB NOT NULL,
	avatar TEXT,
	status TEXT DEFAULT 'offline',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS servers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT,
	icon TEXT,
	owner_id INTEGER REFERENCES users(id),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS channels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	topic TEXT,
	server_id INTEGER REFERENCES servers(id),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	user_id INTEGER REFERENCES users(id),
	channel_id INTEGER REFERENCES channels(id),
	message_type TEXT DEFAULT 'text',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS server_members (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER REFERENCES users(id),
	server_id INTEGER REFERENCES servers(id),
	role TEXT DEFAULT 'member',
	joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(user_id, server_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at);
`

// New opens (or creates) the SQLite database and applies the schema.
func New(cfg Config) (*SQLite, error) {
	dsn := cfg.Path + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	if cfg.Path == ":memory:" {
		dsn = cfg.Path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.Path == ":memory:" {
		// Every pooled conn would otherwise get its own blank database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{cfg: &cfg, db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// AddUser inserts a user.
func (s *SQLite) AddUser(u store.User) (store.User, error) {
	exists, err := s.UserExists(u.Username, u.Email)
	if err != nil {
		return store.User{}, err
	}
	if exists {
		return store.User{}, store.ErrExists
	}

	res, err := s.db.Exec(`INSERT INTO users (username, email, password_hash, avatar, status)
		VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.Avatar, u.Status)
	if err != nil {
		return store.User{}, err
	}
	u.ID, err = res.LastInsertId()
	if err != nil {
		return store.User{}, err
	}
	u.CreatedAt = time.Now()
	return u, nil
}

// GetUser fetches a user by ID.
func (s *SQLite) GetUser(id int64) (store.User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, username, email, password_hash, avatar, status, created_at
		 FROM users WHERE id = ?`, id))
}

// GetUserByEmail fetches a user by e-mail.
func (s *SQLite) GetUserByEmail(email string) (store.User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, username, email, password_hash, avatar, status, created_at
		 FROM users WHERE email = ?`, email))
}

func (s *SQLite) scanUser(row *sql.Row) (store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&u.Avatar, &u.Status, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, store.ErrNotFound
	}
	return u, err
}

// UserExists checks whether a username or e-mail is taken.
func (s *SQLite) UserExists(username, email string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE username = ? OR email = ?`,
		username, email).Scan(&n)
	return n > 0, err
}

// SetUserStatus updates a user's stored status.
func (s *SQLite) SetUserStatus(id int64, status string) error {
	_, err := s.db.Exec(`UPDATE users SET status = ? WHERE id = ?`, status, id)
	return err
}

// AddServer inserts a server and registers the owner as a member.
func (s *SQLite) AddServer(sv store.Server) (store.Server, error) {
	res, err := s.db.Exec(`INSERT INTO servers (name, description, icon, owner_id)
		VALUES (?, ?, ?, ?)`, sv.Name, sv.Description, sv.Icon, sv.OwnerID)
	if err != nil {
		return store.Server{}, err
	}
	if sv.ID, err = res.LastInsertId(); err != nil {
		return store.Server{}, err
	}
	sv.CreatedAt = time.Now()
	if err := s.AddMember(sv.ID, sv.OwnerID, "owner"); err != nil {
		return store.Server{}, err
	}
	return sv, nil
}

// AddMember adds a user to a server.
func (s *SQLite) AddMember(serverID, userID int64, role string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO server_members (user_id, server_id, role)
		VALUES (?, ?, ?)`, userID, serverID, role)
	return err
}

// ListServers lists servers the user is a member of, with channels.
func (s *SQLite) ListServers(userID int64) ([]store.Server, error) {
	rows, err := s.db.Query(`SELECT s.id, s.name, s.description, s.icon, s.owner_id, s.created_at
		FROM servers s JOIN server_members sm ON s.id = sm.server_id
		WHERE sm.user_id = ? ORDER BY s.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.Server{}
	for rows.Next() {
		var sv store.Server
		if err := rows.Scan(&sv.ID, &sv.Name, &sv.Description, &sv.Icon,
			&sv.OwnerID, &sv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		ch, err := s.ListChannels(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Channels = ch
	}
	return out, nil
}

// AddChannel inserts a channel.
func (s *SQLite) AddChannel(c store.Channel) (store.Channel, error) {
	res, err := s.db.Exec(`INSERT INTO channels (name, type, topic, server_id)
		VALUES (?, ?, ?, ?)`, c.Name, c.Type, c.Topic, c.ServerID)
	if err != nil {
		return store.Channel{}, err
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return store.Channel{}, err
	}
	c.CreatedAt = time.Now()
	return c, nil
}

// ListChannels lists a server's channels ordered by (type, name).
func (s *SQLite) ListChannels(serverID int64) ([]store.Channel, error) {
	rows, err := s.db.Query(`SELECT id, name, type, topic, server_id, created_at
		FROM channels WHERE server_id = ? ORDER BY type, name`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.Channel{}
	for rows.Next() {
		var c store.Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Topic,
			&c.ServerID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddMessage persists a message and fills in the assigned ID, timestamp
// and author.
func (s *SQLite) AddMessage(m store.Message) (store.Message, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO messages (content, user_id, channel_id, message_type, created_at)
		VALUES (?, ?, ?, ?, ?)`, m.Content, m.UserID, m.ChannelID, m.Type, m.CreatedAt)
	if err != nil {
		return store.Message{}, err
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return store.Message{}, err
	}

	err = s.db.QueryRow(`SELECT username, avatar FROM users WHERE id = ?`, m.UserID).
		Scan(&m.Author.Username, &m.Author.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return m, nil
	}
	return m, err
}

// RecentMessages returns up to limit messages for a channel, oldest first.
func (s *SQLite) RecentMessages(channelID int64, limit int) ([]store.Message, error) {
	rows, err := s.db.Query(`SELECT m.id, m.content, m.message_type, m.created_at,
			m.user_id, m.channel_id, u.username, u.avatar
		FROM messages m JOIN users u ON m.user_id = u.id
		WHERE m.channel_id = ?
		ORDER BY m.created_at DESC, m.id DESC LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.Message{}
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.Content, &m.Type, &m.CreatedAt,
			&m.UserID, &m.ChannelID, &m.Author.Username, &m.Author.Avatar); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first for the LIMIT; history is served oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
