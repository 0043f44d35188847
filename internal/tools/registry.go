// Package tools provides MCP tool implementations fronting a Session
// Manager: command execution, session lifecycle, file operations, and
// read-only diagnostics.
package tools

import (
	"ssh-mcp/internal/ssh"

	"github.com/mark3labs/mcp-go/server"
)

// RegisterAll registers every MCP tool against mgr.
func RegisterAll(s *server.MCPServer, mgr *ssh.Manager) {
	registerCoreTools(s, mgr)
	registerFileTools(s, mgr)
	registerDiagnosticTools(s, mgr)
}
