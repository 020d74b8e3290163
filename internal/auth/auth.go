// Package auth is the credential and token gate in front of the realtime
// core: it authenticates users against the durable store and issues /
// verifies the tokens that connections must present before they are
// registered with the hub.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ritesh-chauhan0x1/discord-clone/store"
	"golang.org/x/crypto/bcrypt"
)

// Config represents the auth configuration.
type Config struct {
	TokenSecret string        `koanf:"token_secret"`
	TokenTTL    time.Duration `koanf:"token_ttl"`
}

// Auth authenticates credentials and issues signed tokens.
type Auth struct {
	cfg   *Config
	store store.Store
}

// ErrInvalidCredentials is returned for a bad email / password pair.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidToken is returned for missing, malformed or expired tokens.
var ErrInvalidToken = errors.New("invalid token")

// New returns a new Auth instance.
func New(cfg Config, st store.Store) (*Auth, error) {
	if cfg.TokenSecret == "" {
		return nil, errors.New("auth.token_secret is required")
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}
	return &Auth{cfg: &cfg, store: st}, nil
}

// Register creates a new user account. The avatar tag defaults to the
// first two letters of the username, uppercased.
func (a *Auth) Register(username, email, password string) (store.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 8)
	if err != nil {
		return store.User{}, err
	}

	avatar := username
	if len(avatar) > 2 {
		avatar = avatar[:2]
	}
	return a.store.AddUser(store.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Avatar:       strings.ToUpper(avatar),
		Status:       "online",
	})
}

// Authenticate checks an email / password pair against the store.
func (a *Auth) Authenticate(email, password string) (store.User, error) {
	u, err := a.store.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// IssueToken signs a token carrying the user ID.
func (a *Auth) IssueToken(userID int64) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(a.cfg.TokenTTL).Unix(),
	})
	return t.SignedString([]byte(a.cfg.TokenSecret))
}

// Verify validates a token (with an optional "Bearer " prefix) and returns
// the user ID it was issued for.
func (a *Auth) Verify(token string) (int64, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return 0, ErrInvalidToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.cfg.TokenSecret), nil
	})
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	id, ok := claims["user_id"].(float64)
	if !ok {
		return 0, ErrInvalidToken
	}
	return int64(id), nil
}
