package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/ritesh-chauhan0x1/discord-clone/internal/auth"
	"github.com/ritesh-chauhan0x1/discord-clone/internal/hub"
	"github.com/ritesh-chauhan0x1/discord-clone/store"
)

const (
	hasAuth = 1 << iota
)

// reqCtx is the context injected into every request.
type reqCtx struct {
	app  *App
	user store.User
}

// jsonResp is the envelope for all JSON API responses.
type jsonResp struct {
	Error *string     `json:"error"`
	Data  interface{} `json:"data"`
}

type reqRegister struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}

type reqLogin struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type reqMessage struct {
	Content string `json:"content" validate:"required,max=4000"`
	Type    string `json:"type"`
}

type respAuth struct {
	Token string     `json:"token"`
	User  store.User `json:"user"`
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	return true
}}

// handleRegister creates a new user account and returns a token for it.
func handleRegister(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	var req reqRegister
	if err := readJSONReq(r, &req); err != nil {
		respondJSON(w, nil, errors.New("error parsing JSON request"), http.StatusBadRequest)
		return
	}
	if err := app.validate.Struct(req); err != nil {
		respondJSON(w, nil, errors.New("missing or invalid fields"), http.StatusBadRequest)
		return
	}

	u, err := app.auth.Register(req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrExists) {
			respondJSON(w, nil, errors.New("user already exists"), http.StatusConflict)
			return
		}
		app.logger.Printf("error registering user: %v", err)
		respondJSON(w, nil, errors.New("error creating user"), http.StatusInternalServerError)
		return
	}

	token, err := app.auth.IssueToken(u.ID)
	if err != nil {
		app.logger.Printf("error issuing token: %v", err)
		respondJSON(w, nil, errors.New("error issuing token"), http.StatusInternalServerError)
		return
	}
	respondJSON(w, respAuth{Token: token, User: u}, nil, http.StatusCreated)
}

// handleLogin authenticates a user and returns a token for it.
func handleLogin(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	var req reqLogin
	if err := readJSONReq(r, &req); err != nil {
		respondJSON(w, nil, errors.New("error parsing JSON request"), http.StatusBadRequest)
		return
	}
	if err := app.validate.Struct(req); err != nil {
		respondJSON(w, nil, errors.New("missing email or password"), http.StatusBadRequest)
		return
	}

	u, err := app.auth.Authenticate(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondJSON(w, nil, err, http.StatusUnauthorized)
			return
		}
		app.logger.Printf("error authenticating: %v", err)
		respondJSON(w, nil, errors.New("error authenticating"), http.StatusInternalServerError)
		return
	}

	if err := app.hub.Store.SetUserStatus(u.ID, "online"); err != nil {
		app.logger.Printf("error storing online status: %v", err)
	}
	u.Status = "online"

	token, err := app.auth.IssueToken(u.ID)
	if err != nil {
		app.logger.Printf("error issuing token: %v", err)
		respondJSON(w, nil, errors.New("error issuing token"), http.StatusInternalServerError)
		return
	}
	respondJSON(w, respAuth{Token: token, User: u}, nil, http.StatusOK)
}

// handleGetServers lists the servers the user belongs to, with channels.
func handleGetServers(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	servers, err := app.hub.Store.ListServers(ctx.user.ID)
	if err != nil {
		app.logger.Printf("error listing servers: %v", err)
		respondJSON(w, nil, errors.New("error listing servers"), http.StatusInternalServerError)
		return
	}
	respondJSON(w, servers, nil, http.StatusOK)
}

// handleGetMessages returns a channel's recent history, oldest first.
func handleGetMessages(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	channelID, err := strconv.ParseInt(chi.URLParam(r, "channelID"), 10, 64)
	if err != nil {
		respondJSON(w, nil, errors.New("invalid channel ID"), http.StatusBadRequest)
		return
	}

	msgs, err := app.hub.History(channelID)
	if err != nil {
		app.logger.Printf("error fetching messages: %v", err)
		respondJSON(w, nil, errors.New("error fetching messages"), http.StatusInternalServerError)
		return
	}
	respondJSON(w, msgs, nil, http.StatusOK)
}

// handleSendMessage ingests a message: validate, persist, then broadcast
// to the channel's room.
func handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	channelID, err := strconv.ParseInt(chi.URLParam(r, "channelID"), 10, 64)
	if err != nil {
		respondJSON(w, nil, errors.New("invalid channel ID"), http.StatusBadRequest)
		return
	}

	var req reqMessage
	if err := readJSONReq(r, &req); err != nil {
		respondJSON(w, nil, errors.New("error parsing JSON request"), http.StatusBadRequest)
		return
	}
	if err := app.validate.Struct(req); err != nil {
		respondJSON(w, nil, errors.New("content is required"), http.StatusBadRequest)
		return
	}

	m, err := app.hub.SubmitMessage(ctx.user.ID, channelID, req.Content, req.Type)
	if err != nil {
		if errors.Is(err, hub.ErrEmptyMessage) || errors.Is(err, hub.ErrMessageTooLong) {
			respondJSON(w, nil, err, http.StatusBadRequest)
			return
		}
		app.logger.Printf("error submitting message: %v", err)
		respondJSON(w, nil, errors.New("error sending message"), http.StatusInternalServerError)
		return
	}
	respondJSON(w, m, nil, http.StatusCreated)
}

// handleWS upgrades an authenticated connection and registers it with the
// hub. Unauthenticated connections never reach the registry.
func handleWS(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.logger.Printf("websocket upgrade failed: %s: %v", r.RemoteAddr, err)
		return
	}

	app.hub.Register(ws, ctx.user)
}

// wrap is a middleware that handles token auth for various HTTP handlers
// and attaches the app and user contexts to them.
func wrap(next http.HandlerFunc, app *App, opts uint8) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &reqCtx{app: app}

		// Check if the request is authenticated. The token comes from
		// the Authorization header, or from ?token= for websocket
		// clients that can't set headers.
		if opts&hasAuth != 0 {
			token := r.Header.Get("Authorization")
			if token == "" {
				token = r.URL.Query().Get("token")
			}

			userID, err := app.auth.Verify(token)
			if err != nil {
				respondJSON(w, nil, errors.New("invalid or missing token"), http.StatusUnauthorized)
				return
			}

			user, err := app.hub.Store.GetUser(userID)
			if err != nil {
				respondJSON(w, nil, errors.New("unknown user"), http.StatusUnauthorized)
				return
			}
			req.user = user
		}

		// Attach the request context.
		ctx := context.WithValue(r.Context(), "ctx", req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// respondJSON responds to an HTTP request with a generic payload or an error.
func respondJSON(w http.ResponseWriter, data interface{}, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	out := jsonResp{Data: data}
	if err != nil {
		e := err.Error()
		out.Error = &e
	}
	b, err := json.Marshal(out)
	if err != nil {
		logger.Printf("error marshalling JSON response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Write(b)
}

// readJSONReq reads the JSON body from a request and unmarshals it to the given target.
func readJSONReq(r *http.Request, o interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, o)
}
