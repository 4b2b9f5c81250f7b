// Command idecore is the integration core's single process entrypoint: it
// wires up C1 (shared RPC fabric, internal/rpc), the C2 ACP runtime, the C3
// UE bridge, and the C4 MCP server, then waits for SIGINT/SIGTERM.
//
// Modeled on cmd/agent-manager/main.go's load-config / init-logger /
// context-with-cancel / start-components / signal.Notify / graceful-
// shutdown shape, generalized from a single Gin HTTP server to three
// independently-threaded executors coordinated with golang.org/x/sync's
// errgroup (SPEC_FULL.md §11).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neostackide/idecore/internal/acp"
	"github.com/neostackide/idecore/internal/bridge"
	"github.com/neostackide/idecore/internal/common/config"
	"github.com/neostackide/idecore/internal/common/logger"
	"github.com/neostackide/idecore/internal/events"
	"github.com/neostackide/idecore/internal/mcp"
)

func main() {
	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting idecore")

	// 3. Root context, cancelled on shutdown signal.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Optional NATS mirror (SPEC_FULL.md §12.3): additive, never
	// required for C1-C5's in-process delivery.
	var mirror *events.Mirror
	if cfg.Events.Namespace != "" {
		mirror, err = events.Connect(cfg.Events.NatsURL, cfg.Events.Namespace, log)
		if err != nil {
			log.Warn("NATS mirror disabled: connect failed", zap.Error(err))
		} else {
			defer mirror.Close()
			log.Info("NATS mirror enabled", zap.String("namespace", cfg.Events.Namespace))
		}
	}

	// 5. Construct the three runtimes.
	acpRuntime := acp.NewRuntime(log)
	bridgeServer := bridge.NewServer(log)
	mcpServer := mcp.NewServer(log, bridgeServer.Handle())

	if mirror != nil {
		mirror.MirrorACP(ctx.Done(), acpRuntime.Notifications())
		mirror.MirrorBridge(ctx.Done(), bridgeServer.Notifications())
		mirror.MirrorMCP(ctx.Done(), mcpServer.Notifications())
	}

	// 6. Bind C3/C4 port ranges up front so a BindFailed surfaces before
	// any worker loop starts (SPEC_FULL.md §4.3/§4.4 Port binding).
	if err := bridgeServer.Listen(); err != nil {
		log.Fatal("bridge failed to bind", zap.Error(err))
	}
	log.Info("bridge listening", zap.Int32("port", bridge.BoundPort.Load()))

	if err := mcpServer.Listen(); err != nil {
		log.Fatal("mcp server failed to bind", zap.Error(err))
	}
	log.Info("mcp server listening", zap.Int32("port", mcp.BoundPort.Load()))

	// 7. Start the two worker loops (ACP, bridge) plus the two HTTP accept
	// loops under one errgroup. An error from an accept loop cancels
	// groupCtx; the worker loops themselves exit on their Shutdown sentinel.
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		acpRuntime.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		bridgeServer.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return bridgeServer.Serve()
	})
	group.Go(func() error {
		return mcpServer.Serve()
	})

	// 8. Kick the ACP runtime off with a Connect command built from config,
	// mirroring the teacher's "start managers, then wait for signal" order.
	acpRuntime.Handle().SendAsync(acp.Cmd{
		Kind: acp.CmdConnect,
		Connect: &acp.ConnectCmd{Config: acp.Config{
			Command:         cfg.Acp.Command,
			Args:            cfg.Acp.Args,
			WorkspaceRoot:   cfg.Acp.WorkspaceRoot,
			ProtocolVersion: cfg.Acp.ProtocolVersion,
			InitTimeout:     cfg.Acp.InitTimeout(),
		}},
	})

	// 9. Wait for a shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down idecore")

	// 10. Graceful shutdown: stop accepting new work, then drain.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	acpRuntime.Handle().SendAsync(acp.Cmd{Kind: acp.CmdDisconnect, Disconnect: &acp.DisconnectCmd{}})
	acpRuntime.Handle().Shutdown()
	bridgeServer.Handle().Shutdown()
	mcpServer.Stop(shutdownCtx)

	cancel()

	if err := group.Wait(); err != nil {
		log.Error("component exited with error", zap.Error(err))
	}

	log.Info("idecore stopped")
}
