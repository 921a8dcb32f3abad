// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/ludoroyale/server/internal/auth"
	"github.com/ludoroyale/server/internal/cache"
	"github.com/ludoroyale/server/internal/clock"
	"github.com/ludoroyale/server/internal/database"
	"github.com/ludoroyale/server/internal/engine"
	"github.com/ludoroyale/server/internal/events"
	"github.com/ludoroyale/server/internal/handlers"
	"github.com/ludoroyale/server/internal/matchmaking"
	"github.com/ludoroyale/server/internal/middleware"
	"github.com/ludoroyale/server/internal/store"
)

const sweepInterval = 30 * time.Second

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	auth.Init()
	database.ConnectDB()
	if err := cache.ConnectRedis(); err != nil {
		logger.Fatalf("redis: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event fan-out: live clients over WebSocket, plus the durable Redis
	// event log.
	hub := handlers.NewHub(logger)
	eventLog := cache.NewEventSink(cache.Rdb, logger)
	defer eventLog.Close()
	sink := events.MultiSink{hub, eventLog}

	clocks := clock.NewManager(logger)
	sessions := store.NewMemoryStore()

	eng := engine.New(sessions, clocks, database.Ledger{}, sink, engine.DefaultConfig(), logger)
	eng.SetRatingService(database.RatingService{})
	eng.SetArchiveFunc(database.ArchiveSession)
	defer eng.Cleanup()

	queue := matchmaking.NewQueue(eng, cache.Rdb, logger)
	if err := queue.Restore(ctx); err != nil {
		logger.Warnf("matchmaking restore: %v", err)
	}
	go queue.Run(ctx)
	go eng.RunSweeps(ctx, sweepInterval)

	srv := handlers.NewServer(eng, queue, hub, logger)
	logged := middleware.LogMiddleware(logger)

	mux := http.NewServeMux()

	// user endpoints
	mux.Handle("/user/create", logged(http.HandlerFunc(srv.CreateUserHandler)))
	mux.Handle("/user/login", logged(http.HandlerFunc(srv.LoginHandler)))
	mux.Handle("/user/me", logged(http.HandlerFunc(srv.MeHandler)))

	// room endpoints
	mux.Handle("/room/create", logged(http.HandlerFunc(srv.CreateRoomHandler)))
	mux.Handle("/room/join", logged(http.HandlerFunc(srv.JoinRoomHandler)))
	mux.Handle("/room/get", logged(http.HandlerFunc(srv.GetRoomHandler)))
	mux.Handle("/room/ready", logged(http.HandlerFunc(srv.ReadyHandler)))
	mux.Handle("/room/roll", logged(http.HandlerFunc(srv.RollHandler)))
	mux.Handle("/room/move", logged(http.HandlerFunc(srv.MoveHandler)))
	mux.Handle("/room/leave", logged(http.HandlerFunc(srv.LeaveHandler)))

	// matchmaking endpoints
	mux.Handle("/queue/join", logged(http.HandlerFunc(srv.EnqueueHandler)))
	mux.Handle("/queue/leave", logged(http.HandlerFunc(srv.DequeueHandler)))
	mux.Handle("/queue/status", logged(http.HandlerFunc(srv.QueueStatusHandler)))

	// session websocket
	mux.Handle("/session/ws/", logged(http.HandlerFunc(srv.SessionWSHandler)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	httpSrv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Running on %s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server exited: %v", err)
	}
}
