package tools

import (
	"context"
	"fmt"
	"time"

	"ssh-mcp/internal/ssh"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// diagnosticTimeout bounds the canned diagnostic commands below.
const diagnosticTimeout = 30 * time.Second

// diagnosticCommand is a canned shell invocation exposed as its own tool.
type diagnosticCommand struct {
	name        string
	description string
	shell       func(req mcp.CallToolRequest) string
}

var diagnosticCommands = []diagnosticCommand{
	{
		name:        "system_info",
		description: "Get remote system information (OS, kernel, hostname, arch)",
		shell: func(req mcp.CallToolRequest) string {
			return `echo "Hostname: $(hostname)"; echo "OS: $(cat /etc/os-release 2>/dev/null | grep PRETTY_NAME | cut -d'"' -f2 || uname -s)"; echo "Kernel: $(uname -r)"; echo "Arch: $(uname -m)"; echo "Uptime: $(uptime -p 2>/dev/null || uptime)"`
		},
	},
	{
		name:        "resource_usage",
		description: "Get CPU, memory, and disk usage on the remote host",
		shell: func(req mcp.CallToolRequest) string {
			return `echo "--- CPU ---"; top -bn1 2>/dev/null | head -5 || true; echo "--- Memory ---"; free -h 2>/dev/null || vm_stat 2>/dev/null; echo "--- Disk ---"; df -h`
		},
	},
	{
		name:        "network_status",
		description: "List listening ports and active connections on the remote host",
		shell: func(req mcp.CallToolRequest) string {
			return `ss -tulpn 2>/dev/null || netstat -tulpn 2>/dev/null || echo "no socket inspection tool available"`
		},
	},
	{
		name:        "docker_ps",
		description: "List running containers on the remote host (if Docker is installed)",
		shell: func(req mcp.CallToolRequest) string {
			return `docker ps --format 'table {{.ID}}\t{{.Image}}\t{{.Status}}\t{{.Names}}' 2>&1 || echo "docker not available"`
		},
	},
	{
		name:        "docker_logs",
		description: "Tail logs from a named container on the remote host",
		shell: func(req mcp.CallToolRequest) string {
			container := req.GetString("container", "")
			lines := req.GetInt("lines", 100)
			return fmt.Sprintf("docker logs --tail %d %s 2>&1", lines, shellQuote(container))
		},
	},
	{
		name:        "service_status",
		description: "Check a systemd service's status on the remote host",
		shell: func(req mcp.CallToolRequest) string {
			service := req.GetString("service", "")
			return fmt.Sprintf("systemctl status %s --no-pager 2>&1 || service %s status 2>&1", shellQuote(service), shellQuote(service))
		},
	},
}

// registerDiagnosticTools registers the canned read-only diagnostic
// commands as individual tools, each a thin wrapper around
// Manager.ExecuteCommand.
func registerDiagnosticTools(s *server.MCPServer, mgr *ssh.Manager) {
	for _, dc := range diagnosticCommands {
		dc := dc
		builder := mcp.NewTool(dc.name,
			mcp.WithDescription(dc.description),
			mcp.WithString("host", mcp.Required(), mcp.Description("Hostname or IP address")),
			mcp.WithString("username", mcp.Required(), mcp.Description("SSH username")),
			mcp.WithString("private_key_path", mcp.Required(), mcp.Description("Path to private key file")),
			mcp.WithNumber("port", mcp.Description("SSH port (default: 22)")),
		)
		switch dc.name {
		case "docker_logs":
			builder = mcp.NewTool(dc.name,
				mcp.WithDescription(dc.description),
				mcp.WithString("host", mcp.Required(), mcp.Description("Hostname or IP address")),
				mcp.WithString("username", mcp.Required(), mcp.Description("SSH username")),
				mcp.WithString("private_key_path", mcp.Required(), mcp.Description("Path to private key file")),
				mcp.WithNumber("port", mcp.Description("SSH port (default: 22)")),
				mcp.WithString("container", mcp.Required(), mcp.Description("Container name or ID")),
				mcp.WithNumber("lines", mcp.Description("Number of log lines to tail (default: 100)")),
			)
		case "service_status":
			builder = mcp.NewTool(dc.name,
				mcp.WithDescription(dc.description),
				mcp.WithString("host", mcp.Required(), mcp.Description("Hostname or IP address")),
				mcp.WithString("username", mcp.Required(), mcp.Description("SSH username")),
				mcp.WithString("private_key_path", mcp.Required(), mcp.Description("Path to private key file")),
				mcp.WithNumber("port", mcp.Description("SSH port (default: 22)")),
				mcp.WithString("service", mcp.Required(), mcp.Description("Service name")),
			)
		}

		s.AddTool(builder, createDiagnosticHandler(mgr, dc))
	}
}

func createDiagnosticHandler(mgr *ssh.Manager, dc diagnosticCommand) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cmd := dc.shell(req)
		result, err := mgr.ExecuteCommand(ctx, execOpts(req), cmd, diagnosticTimeout)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatResult(result)), nil
	}
}
