package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/opslane/shellsup/src/api"
	"github.com/opslane/shellsup/src/mcp"
)

func main() {
	if lvl, err := logrus.ParseLevel(envOr("LOG_LEVEL", "info")); err == nil {
		logrus.SetLevel(lvl)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	stateRoot := envOr("SHELLSUP_STATE_DIR", "/tmp/shellsup")
	srv, err := mcp.NewServer(stateRoot)
	if err != nil {
		logrus.Fatalf("init server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logrus.Infof("received %s, shutting down", sig)
		srv.Shutdown()
		cancel()
	}()

	if addr := os.Getenv("SHELLSUP_DIAG_ADDR"); addr != "" {
		router := api.SetupRouter(api.Deps{
			Sessions:    srv.Sessions(),
			Processes:   srv.Processes(),
			Interactive: srv.Interactive(),
		}, envOr("SHELLSUP_DISABLE_REQUEST_LOG", "") == "true", true)

		go func() {
			logrus.Infof("diagnostics HTTP surface listening on %s", addr)
			if err := router.Run(addr); err != nil {
				logrus.WithField("component", "api").Errorf("diagnostics server stopped: %v", err)
			}
		}()
	}

	logrus.Info("serving MCP over stdio")
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		logrus.Fatalf("mcp server: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
