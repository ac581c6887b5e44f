package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/identity"
	"github.com/Tyrowin/roomchat/internal/messages"
	"github.com/Tyrowin/roomchat/internal/rooms"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

var logger = loggo.GetLogger("roomchat")

type options struct {
	configPath string
	addr       string
	dbPath     string
	logLevel   string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := gnuflag.NewFlagSet("roomchat", gnuflag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	fs.StringVar(&opts.addr, "addr", "", "listen address, overrides SERVER_PORT")
	fs.StringVar(&opts.dbPath, "db", "", "SQLite database path, overrides DATABASE_PATH")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level or loggo spec, overrides LOG_LEVEL")
	if err := fs.Parse(true, args); err != nil {
		return options{}, errors.Trace(err)
	}
	return opts, nil
}

// loadConfig layers defaults, the optional config file, the environment and
// command line flags, in that order.
func loadConfig(opts options) (server.Config, error) {
	cfg := server.DefaultConfig()
	if opts.configPath != "" {
		if err := server.LoadConfigFile(opts.configPath, &cfg); err != nil {
			return cfg, errors.Trace(err)
		}
	}
	server.ApplyEnv(&cfg)
	if opts.addr != "" {
		cfg.Port = opts.addr
	}
	if opts.dbPath != "" {
		cfg.DatabasePath = opts.dbPath
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := loggo.ConfigureLoggers(server.LoggingSpec(cfg.LogLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", cfg.LogLevel, err)
		return 2
	}

	logger.Infof("starting roomchat server")

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Criticalf("%v", errors.ErrorStack(err))
		return 1
	}

	// Sanitizing here settles the JWT secret shared by identity and server.
	cfg = server.Sanitize(cfg)
	srv, redisClient := build(cfg, db)
	srv.StartHub()
	httpServer := server.CreateServer(cfg.Port, srv.Handler())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer)
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"roomchat": func(ctx context.Context) error {
				return shutdown(httpServer, srv, db, redisClient, cfg)
			},
		},
	)

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Criticalf("%v", err)
			_ = shutdown(httpServer, srv, db, redisClient, cfg)
			return 1
		}
		return <-wait
	case code := <-wait:
		logger.Infof("server exited with code %d", code)
		return code
	}
}

// build wires the services over db. The returned Redis client is nil when
// no cache is configured.
func build(cfg server.Config, db *gorm.DB) (*server.Server, *redis.Client) {
	var (
		dirOpts     = []rooms.Option{rooms.WithClock(clock.WallClock)}
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warningf("redis at %s unavailable, room lookups will hit the database: %v", cfg.RedisAddr, err)
		}
		dirOpts = append(dirOpts, rooms.WithCache(rooms.NewRedisCache(redisClient, cfg.RoomCacheTTL)))
		logger.Infof("room cache enabled at %s", cfg.RedisAddr)
	}

	ids := identity.NewService(db, identity.Config{
		Secret:     cfg.JWTSecret,
		TokenTTL:   cfg.JWTTTL,
		BcryptCost: identity.DefaultBcryptCost,
		Clock:      clock.WallClock,
	})
	srv := server.New(cfg, server.Deps{
		Identity: ids,
		Rooms:    rooms.NewDirectory(db, dirOpts...),
		Messages: messages.NewLog(db, clock.WallClock),
		Clock:    clock.WallClock,
	})
	return srv, redisClient
}

// shutdown stops accepting requests, closes realtime connections and then
// releases the cache and database, in that order.
func shutdown(httpServer *http.Server, srv *server.Server, db *gorm.DB, redisClient *redis.Client, cfg server.Config) error {
	logger.Infof("graceful shutdown initiated")
	var firstErr error
	record := func(err error) {
		if err != nil {
			logger.Errorf("%v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	record(server.ShutdownServer(httpServer, cfg.ShutdownTimeout))
	record(srv.Shutdown(cfg.ShutdownTimeout))
	if redisClient != nil {
		record(errors.Annotate(redisClient.Close(), "closing redis client"))
	}
	record(errors.Annotate(store.Close(db), "closing database"))
	return firstErr
}
