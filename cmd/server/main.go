// Package main is the entry point for the SSH MCP server.
// Supports stdio (for local MCP hosts) and Streamable HTTP transports.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ssh-mcp/internal/ssh"
	"ssh-mcp/internal/tools"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
)

const (
	serverName = "ssh-mcp"

	defaultMode  = "http"
	defaultPort  = "8000"
	defaultDebug = "false"
)

// Injected at build time.
var commitSHA = "dev"

func main() {
	getEnv := func(key, fallback string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return fallback
	}

	modeEnv := getEnv("SSH_MCP_MODE", defaultMode)
	portEnv := getEnv("PORT", defaultPort)
	debugEnv := getEnv("SSH_MCP_DEBUG", defaultDebug) == "true"
	allowedEnv := getEnv("SSH_MCP_ALLOWED_COMMANDS", "")
	blockedEnv := getEnv("SSH_MCP_BLOCKED_COMMANDS", "")

	mode := flag.String("mode", modeEnv, "Transport mode: stdio or http")
	port := flag.String("port", portEnv, "HTTP server port (http mode only)")
	debug := flag.Bool("debug", debugEnv, "Enable debug logging")
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	log := logrus.WithFields(logrus.Fields{"commit": commitSHA, "mode": *mode, "port": *port})
	log.Info("starting ssh-mcp")

	policy := ssh.DefaultPolicy()
	if allowedEnv != "" {
		policy.AllowedCommands = splitCommaList(allowedEnv)
	}
	if blockedEnv != "" {
		policy.BlockedCommands = splitCommaList(blockedEnv)
	}

	pool := ssh.NewPool(ssh.DefaultPoolConfig())
	mgr, err := ssh.NewManager(pool, policy, ssh.DefaultLoggingConfig())
	if err != nil {
		logrus.WithError(err).Fatal("failed to construct session manager")
	}

	mcpServer := server.NewMCPServer(
		serverName,
		commitSHA,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	tools.RegisterAll(mcpServer, mgr)

	switch *mode {
	case "stdio":
		runStdio(mcpServer, mgr)
	case "http":
		runHTTP(mcpServer, *port, mgr)
	default:
		logrus.Fatalf("unknown mode: %s (use 'stdio' or 'http')", *mode)
	}
}

func splitCommaList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// runStdio runs the server in stdio mode, closing every session and
// transport on exit.
func runStdio(s *server.MCPServer, mgr *ssh.Manager) {
	defer mgr.CloseAll()
	if err := server.ServeStdio(s); err != nil {
		logrus.WithError(err).Fatal("stdio server error")
	}
}

// sessionIDManager generates time-ordered UUIDv7 MCP transport session IDs.
// This is unrelated to ssh.Session — it identifies an MCP client connection,
// not a remote shell.
type sessionIDManager struct{}

func (sessionIDManager) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (sessionIDManager) Validate(sessionID string) (bool, error) {
	_, err := uuid.Parse(sessionID)
	return false, err
}

func (sessionIDManager) Terminate(sessionID string) (bool, error) {
	_, err := uuid.Parse(sessionID)
	return false, err
}

// runHTTP runs the server in Streamable HTTP mode with graceful shutdown.
//
// PRODUCTION SECURITY NOTICE: this implementation requires additional
// security layers for production use — TLS termination, authentication of
// inbound MCP clients, authorization of which hosts/users a client may
// reach, and request rate limiting.
func runHTTP(s *server.MCPServer, port string, mgr *ssh.Manager) {
	httpSrv := server.NewStreamableHTTPServer(s,
		server.WithSessionIdManager(sessionIDManager{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", httpSrv)

	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logrus.WithField("addr", httpServer.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("http server error")
		}
	}()

	<-sigChan
	logrus.Info("shutting down")

	mgr.CloseAll()

	if err := httpServer.Shutdown(context.Background()); err != nil {
		logrus.WithError(err).Warn("http shutdown error")
	}

	logrus.Info("server stopped")
}
