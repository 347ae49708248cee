// Command lobbyd runs the lobby server: it accepts player connections,
// authenticates them against the Redis player store and keeps their
// sessions until they disconnect or time out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyberinferno/go-lobby/config"
	"github.com/cyberinferno/go-lobby/handshake"
	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/serverdb"
	"github.com/cyberinferno/go-lobby/session"
	"github.com/cyberinferno/go-lobby/sessionmanager"
	"github.com/cyberinferno/go-lobby/tcpserver"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.json", "Path of the JSON config file")
	addPlayer := flag.String("add-player", "", "Register a player with -password and exit")
	password := flag.String("password", "", "Password for -add-player")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Close()

	if *addPlayer != "" {
		err = registerPlayer(cfg, log, *addPlayer, *password)
	} else {
		err = run(cfg, log)
	}

	if err != nil {
		log.Error("lobbyd failed", logger.Err(err))
		_ = log.Close()
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	level := logger.ParseLevel(cfg.Log.Level)
	if cfg.Log.Dir == "" {
		return logger.NewZerologLogger(os.Stdout, cfg.Server.Name, level), nil
	}

	return logger.NewZerologFileLogger(cfg.Server.Name, cfg.Log.Dir, level)
}

func registerPlayer(cfg *config.Config, log logger.Logger, name, password string) error {
	db := serverdb.NewRedisDB(nil, log)
	if err := db.Init(cfg.ServerDB()); err != nil {
		return err
	}
	defer db.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := db.CreatePlayer(ctx, name, password)
	if err != nil {
		return err
	}

	log.Info("player registered", logger.Field{Key: "player", Value: name}, logger.Field{Key: "player_id", Value: id})
	return nil
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := serverdb.NewRedisDB(nil, log)
	if err := db.Init(cfg.ServerDB()); err != nil {
		return err
	}

	mgr := sessionmanager.New(cfg.Sessions(), db, log)
	hs := handshake.NewServer(db, mgr, cfg.Mechanism(), cfg.Auth.Mechanism, log)
	db.SetCallbacks(hs, mgr)

	if err := db.Start(ctx); err != nil {
		return err
	}
	defer db.Stop()

	srv := tcpserver.New(cfg.Server.Name, cfg.Server.ListenAddress, mgr, hs, log)
	mgr.SetHooks(sessionmanager.Hooks{
		OnActivityWarning: func(s *session.SessionData, remaining time.Duration) {
			log.Info("session idle",
				logger.Field{Key: "session", Value: s.ID()},
				logger.Field{Key: "disconnect_in", Value: remaining.String()})
			if c, ok := srv.Connection(s.ID()); ok {
				if err := hs.NotifyIdle(c, remaining); err != nil {
					log.Warn("idle notice not sent", logger.Field{Key: "session", Value: s.ID()}, logger.Err(err))
				}
			}
		},
		OnTimeout: func(s *session.SessionData) {
			if c, ok := srv.Connection(s.ID()); ok {
				_ = c.Close()
				return
			}
			s.Close()
		},
		OnGameCreated: func(s *session.SessionData, gameID uint32, err error) {
			if err != nil {
				log.Warn("game creation failed", logger.Field{Key: "session", Value: s.ID()}, logger.Err(err))
				return
			}
			log.Info("game created", logger.Field{Key: "session", Value: s.ID()}, logger.Field{Key: "game", Value: gameID})
		},
	})

	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mgr.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
