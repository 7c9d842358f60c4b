// Package main provides the match server binary: it wires the registry,
// room manager, lobby, and session handler behind the TCP and WebSocket
// acceptors and runs them under lifecycle management.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/turepagans/tris/internal/config"
	"github.com/turepagans/tris/internal/frontend/tcp"
	"github.com/turepagans/tris/internal/frontend/ws"
	"github.com/turepagans/tris/internal/game/lobby"
	"github.com/turepagans/tris/internal/game/lottery"
	"github.com/turepagans/tris/internal/game/registry"
	"github.com/turepagans/tris/internal/game/room"
	"github.com/turepagans/tris/internal/game/session"
	"github.com/turepagans/tris/internal/observability"
	"github.com/turepagans/tris/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting match server",
		zap.String("tcp_addr", cfg.Server.Addr()),
		zap.Bool("websocket_enabled", cfg.Websocket.Enabled),
	)

	reg := registry.NewRegistry(logger.Named("registry"))
	rooms := room.NewManager()
	lb := lobby.NewLobby(reg, rooms, lottery.NewCryptoSource(), logger.Named("lobby"))
	handler := session.NewHandler(reg, rooms, lb, logger.Named("session"))

	lifecycle := server.NewLifecycle(logger)

	tcpAcceptor := tcp.NewAcceptor(cfg.Server, handler, logger.Named("tcp"))
	lifecycle.Add("tcp-acceptor", &server.FuncService{
		StartFn: tcpAcceptor.ListenAndServe,
		StopFn:  tcpAcceptor.Stop,
	})

	if cfg.Websocket.Enabled {
		wsAcceptor := ws.NewAcceptor(cfg.Websocket, handler, logger.Named("ws"))
		lifecycle.Add("ws-acceptor", &server.FuncService{
			StartFn: wsAcceptor.ListenAndServe,
			StopFn:  wsAcceptor.Stop,
		})
	}

	logger.Info("match server wired",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("lifecycle error", zap.Error(err))
	}
}
