package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/ritesh-chauhan0x1/discord-clone/internal/auth"
	"github.com/ritesh-chauhan0x1/discord-clone/internal/hub"
	"github.com/ritesh-chauhan0x1/discord-clone/store"
	"github.com/ritesh-chauhan0x1/discord-clone/store/mem"
	"github.com/ritesh-chauhan0x1/discord-clone/store/redis"
	"github.com/ritesh-chauhan0x1/discord-clone/store/sqlite"
	flag "github.com/spf13/pflag"
)

var (
	logger = log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)
	ko     = koanf.New(".")

	// Version of the build injected at build time.
	buildString = "unknown"
)

// App is the global app context that's passed around.
type App struct {
	hub      *hub.Hub
	auth     *auth.Auth
	cfg      *hub.Config
	validate *validator.Validate
	logger   *log.Logger
}

func loadConfig() {
	// Register --help handler.
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	f.StringSlice("config", []string{"config.toml"},
		"Path to one or more TOML config files to load in order")
	f.Bool("version", false, "Show build version")
	f.Parse(os.Args[1:])

	// Display version.
	if ok, _ := f.GetBool("version"); ok {
		fmt.Println(buildString)
		os.Exit(0)
	}

	// Read the config files.
	cFiles, _ := f.GetStringSlice("config")
	for _, c := range cFiles {
		log.Printf("reading config: %s", c)
		if err := ko.Load(file.Provider(c), toml.Parser()); err != nil {
			log.Printf("error reading config: %v", err)
		}
	}

	// Merge env flags into config.
	if err := ko.Load(env.Provider("DISCORD_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "DISCORD_")), "__", ".", -1)
	}), nil); err != nil {
		log.Printf("error loading env config: %v", err)
	}

	// Merge command line flags into config.
	ko.Load(posflag.Provider(f, ".", ko), nil)
}

// initStore initializes the durable store configured under store.backend.
func initStore() store.Store {
	switch backend := ko.String("store.backend"); backend {
	case "redis":
		var cfg redis.Config
		if err := ko.Unmarshal("store.redis", &cfg); err != nil {
			logger.Fatalf("error unmarshalling 'store.redis' config: %v", err)
		}
		s, err := redis.New(cfg)
		if err != nil {
			logger.Fatalf("error initializing redis store: %v", err)
		}
		return s
	case "mem":
		s, err := mem.New(mem.Config{})
		if err != nil {
			logger.Fatalf("error initializing mem store: %v", err)
		}
		return s
	case "sqlite", "":
		var cfg sqlite.Config
		if err := ko.Unmarshal("store.sqlite", &cfg); err != nil {
			logger.Fatalf("error unmarshalling 'store.sqlite' config: %v", err)
		}
		if cfg.Path == "" {
			cfg.Path = "discord_clone.db"
		}
		s, err := sqlite.New(cfg)
		if err != nil {
			logger.Fatalf("error initializing sqlite store: %v", err)
		}
		return s
	default:
		logger.Fatalf("unknown store.backend: %s", backend)
		return nil
	}
}

// Catch OS interrupts and respond accordingly.
func catchInterrupts() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range c {
			logger.Printf("shutting down: %v", sig)
			os.Exit(0)
		}
	}()
}

func main() {
	// Load configuration from files.
	loadConfig()

	// Initialize global app context.
	app := &App{
		logger:   logger,
		validate: validator.New(),
	}
	if err := ko.Unmarshal("app", &app.cfg); err != nil {
		logger.Fatalf("error unmarshalling 'app' config: %v", err)
	}
	if app.cfg == nil {
		app.cfg = &hub.Config{}
	}

	// Initialize the store and the auth gate.
	st := initStore()

	var authCfg auth.Config
	if err := ko.Unmarshal("auth", &authCfg); err != nil {
		logger.Fatalf("error unmarshalling 'auth' config: %v", err)
	}
	a, err := auth.New(authCfg, st)
	if err != nil {
		logger.Fatalf("error initializing auth: %v", err)
	}
	app.auth = a
	app.hub = hub.NewHub(app.cfg, st, logger)

	catchInterrupts()

	// Register HTTP routes.
	r := chi.NewRouter()
	r.Get("/ws", wrap(handleWS, app, hasAuth))

	// API.
	r.Post("/api/auth/register", wrap(handleRegister, app, 0))
	r.Post("/api/auth/login", wrap(handleLogin, app, 0))
	r.Get("/api/servers", wrap(handleGetServers, app, hasAuth))
	r.Get("/api/channels/{channelID}/messages", wrap(handleGetMessages, app, hasAuth))
	r.Post("/api/channels/{channelID}/messages", wrap(handleSendMessage, app, hasAuth))

	// Start the app.
	srv := &http.Server{
		Addr:    ko.String("app.address"),
		Handler: r,
	}
	logger.Printf("starting server on %v", ko.String("app.address"))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatalf("couldn't start server: %v", err)
	}
}
